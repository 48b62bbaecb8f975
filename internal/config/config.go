package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DERIV_BOT_API_APP_ID
const EnvPrefix = "DERIV_BOT"

// Config represents the application configuration
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Session    SessionConfig    `mapstructure:"session"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// APIConfig identifies the backend endpoint and this application
type APIConfig struct {
	AppID    string `mapstructure:"app_id" validate:"required,numeric"`
	Endpoint string `mapstructure:"endpoint" validate:"required"`
	Language string `mapstructure:"language" validate:"omitempty,len=2"`
	Brand    string `mapstructure:"brand"`
}

// ConnectionConfig represents transport and recovery configuration
type ConnectionConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size" validate:"gt=0"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size" validate:"gt=0"`
	MaxMessageSize    int64         `mapstructure:"max_message_size" validate:"gt=0"`
	RequireSSL        bool          `mapstructure:"require_ssl"`
	RateLimitCapacity int           `mapstructure:"rate_limit_capacity" validate:"gte=0"`
	// ProbeInterval is how often a closed transport is noticed without a
	// wake signal; 0 disables the probe
	ProbeInterval    time.Duration `mapstructure:"probe_interval" validate:"gte=0"`
	TimeSyncInterval time.Duration `mapstructure:"time_sync_interval" validate:"gte=0"`
	Backoff          BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig enables automatic reconnection after a transport loss
type BackoffConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `mapstructure:"max_delay" validate:"gtefield=InitialDelay"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gt=0"`
}

// CatalogConfig represents instrument catalog configuration
type CatalogConfig struct {
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	EnrichTimeout time.Duration `mapstructure:"enrich_timeout" validate:"gt=0"`
	ScheduleTTL   time.Duration `mapstructure:"schedule_ttl" validate:"gt=0"`
	Mode          string        `mapstructure:"mode" validate:"oneof=brief full"`
}

// SessionConfig represents authorization configuration
type SessionConfig struct {
	Streams []string `mapstructure:"streams" validate:"dive,required"`
	// LoggedState reports whether the user is logged in elsewhere; it
	// decides whether a rejected credential is cleared or reported
	LoggedState bool `mapstructure:"logged_state"`
	// OneTimeToken is exchanged for a session token on the first connect
	OneTimeToken string `mapstructure:"one_time_token"`
}

// StorageConfig selects the credential store
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
}

// ServerConfig represents status API configuration
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	CORSAllowOrigin string        `mapstructure:"cors_allow_origin"`
}

// NATSConfig represents event forwarding configuration. An empty URL
// disables forwarding.
type NATSConfig struct {
	URL           string        `mapstructure:"url" validate:"omitempty,url"`
	ClientName    string        `mapstructure:"client_name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ConnectWait   time.Duration `mapstructure:"connect_wait"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path" validate:"required"`
}

// LoadConfig loads configuration from an optional file and environment
// variables. Environment variables win over the file.
func LoadConfig(path string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values. Every key needs a default,
// otherwise AutomaticEnv cannot see its environment variable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.app_id", "")
	v.SetDefault("api.endpoint", "ws.derivws.com")
	v.SetDefault("api.language", "EN")
	v.SetDefault("api.brand", "deriv")

	v.SetDefault("connection.connect_timeout", 15*time.Second)
	v.SetDefault("connection.read_timeout", 2*time.Minute)
	v.SetDefault("connection.write_timeout", 10*time.Second)
	v.SetDefault("connection.read_buffer_size", 4096)
	v.SetDefault("connection.write_buffer_size", 4096)
	v.SetDefault("connection.max_message_size", 4*1024*1024)
	v.SetDefault("connection.require_ssl", true)
	v.SetDefault("connection.rate_limit_capacity", 100)
	v.SetDefault("connection.probe_interval", 30*time.Second)
	v.SetDefault("connection.time_sync_interval", 30*time.Second)
	v.SetDefault("connection.backoff.enabled", false)
	v.SetDefault("connection.backoff.initial_delay", time.Second)
	v.SetDefault("connection.backoff.max_delay", 30*time.Second)
	v.SetDefault("connection.backoff.max_attempts", 10)

	v.SetDefault("catalog.fetch_timeout", 10*time.Second)
	v.SetDefault("catalog.enrich_timeout", 5*time.Second)
	v.SetDefault("catalog.schedule_ttl", 5*time.Minute)
	v.SetDefault("catalog.mode", "brief")

	v.SetDefault("session.streams", []string{"balance", "transaction", "proposal_open_contract"})
	v.SetDefault("session.logged_state", false)
	v.SetDefault("session.one_time_token", "")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.cors_allow_origin", "*")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.client_name", "derivbot")
	v.SetDefault("nats.subject_prefix", "derivbot.events")
	v.SetDefault("nats.connect_wait", 5*time.Second)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.max_reconnects", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

var validate = validator.New()

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%s failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	if len(config.Session.Streams) == 0 {
		return fmt.Errorf("at least one session stream is required")
	}

	if config.Connection.RequireSSL && strings.HasPrefix(config.API.Endpoint, "ws://") {
		return fmt.Errorf("endpoint %s is not secure but require_ssl is set", config.API.Endpoint)
	}

	return nil
}
