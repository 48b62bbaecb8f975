package connection

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds WebSocket transport configuration
type Config struct {
	URL              string        `json:"url" validate:"required,url"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	ReadBufferSize  int   `json:"read_buffer_size"`
	WriteBufferSize int   `json:"write_buffer_size"`
	MaxMessageSize  int64 `json:"max_message_size"`

	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`

	RequireSSL        bool `json:"require_ssl"`
	EnableCompression bool `json:"enable_compression"`
	ValidateMessages  bool `json:"validate_messages"`

	// Outbound request budget
	RateLimitCapacity int           `json:"rate_limit_capacity"`
	RateLimitRefill   time.Duration `json:"rate_limit_refill"`

	CircuitMaxFailures  int           `json:"circuit_max_failures"`
	CircuitResetTimeout time.Duration `json:"circuit_reset_timeout"`

	EnableHealthMonitoring bool          `json:"enable_health_monitoring"`
	EnableHealthPings      bool          `json:"enable_health_pings"`
	HealthCheckInterval    time.Duration `json:"health_check_interval"`
	HealthCheckTimeout     time.Duration `json:"health_check_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:         15 * time.Second,
		HandshakeTimeout:       15 * time.Second,
		ReadBufferSize:         4096,
		WriteBufferSize:        4096,
		MaxMessageSize:         4 * 1024 * 1024, // active_symbols "full" is large
		ReadTimeout:            2 * time.Minute,
		WriteTimeout:           10 * time.Second,
		RequireSSL:             true,
		ValidateMessages:       true,
		RateLimitCapacity:      100,
		RateLimitRefill:        time.Second,
		CircuitMaxFailures:     3,
		CircuitResetTimeout:    30 * time.Second,
		EnableHealthMonitoring: true,
		EnableHealthPings:      true,
		HealthCheckInterval:    30 * time.Second,
		HealthCheckTimeout:     90 * time.Second,
	}
}

// EndpointURL builds the backend websocket URL from its parts.
func EndpointURL(endpoint, appID, language, brand string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/websockets/v3"
	}

	q := u.Query()
	if appID != "" {
		q.Set("app_id", appID)
	}
	if language != "" {
		q.Set("l", strings.ToUpper(language))
	}
	if brand != "" {
		q.Set("brand", brand)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	if c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0 {
		return fmt.Errorf("buffer sizes must be positive")
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive")
	}

	if c.EnableHealthMonitoring && (c.HealthCheckInterval <= 0 || c.HealthCheckTimeout <= 0) {
		return fmt.Errorf("health check interval and timeout must be positive when health monitoring is enabled")
	}

	if c.EnableHealthMonitoring && c.EnableHealthPings && c.ReadTimeout > 0 && c.HealthCheckInterval >= c.ReadTimeout {
		return fmt.Errorf("health check interval %v must be shorter than read timeout %v", c.HealthCheckInterval, c.ReadTimeout)
	}

	return nil
}

// ApplyDefaults fills in missing values with defaults
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.RateLimitRefill == 0 {
		c.RateLimitRefill = defaults.RateLimitRefill
	}
	if c.CircuitMaxFailures == 0 {
		c.CircuitMaxFailures = defaults.CircuitMaxFailures
	}
	if c.CircuitResetTimeout == 0 {
		c.CircuitResetTimeout = defaults.CircuitResetTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = defaults.HealthCheckTimeout
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig(url string) Config {
	config := DefaultConfig()
	config.URL = url
	config.ConnectTimeout = 5 * time.Second
	config.HandshakeTimeout = 5 * time.Second
	config.RequireSSL = false
	config.RateLimitCapacity = 0
	config.EnableHealthMonitoring = false
	config.EnableHealthPings = false
	return config
}
