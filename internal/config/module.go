package config

import (
	"go.uber.org/fx"
)

// Path is the optional config file handed to LoadConfig
type Path string

// Module provides *Config. The caller supplies a Path.
var Module = fx.Module("config",
	fx.Provide(func(path Path) (*Config, error) {
		return LoadConfig(string(path))
	}),
)
