// Package config provides configuration management for widgetd. It
// supports loading configuration from environment variables, config files,
// and defaults, the way the host application's internal/common/config does.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds every configuration section widgetd needs.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the demo server's listen settings.
type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"required,min=1,max=65535"`
}

// SessionConfig holds per-widget-session behavior.
type SessionConfig struct {
	// InitOnLoad controls whether capability negotiation runs as soon as a
	// session is created, or is deferred until the widget's first
	// content_loaded message.
	InitOnLoad bool `mapstructure:"initOnLoad"`
	// MutexTimeoutMS is how long the diagnostic capabilities mutex waits
	// before logging a contention warning, in milliseconds.
	MutexTimeoutMS int `mapstructure:"mutexTimeoutMs" validate:"min=1"`
}

// MutexTimeout returns the configured mutex timeout as a time.Duration.
func (s SessionConfig) MutexTimeout() time.Duration {
	return time.Duration(s.MutexTimeoutMS) * time.Millisecond
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("session.initOnLoad", false)
	v.SetDefault("session.mutexTimeoutMs", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix WIDGETD_ followed by the
// upper-cased key path with '.' replaced by '_' (for example
// WIDGETD_SESSION_MUTEXTIMEOUTMS).
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations ("." and "/etc/widgetd/").
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WIDGETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/widgetd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
