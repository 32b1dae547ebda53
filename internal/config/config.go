// Package config loads server configuration from defaults, an optional
// YAML file, and RELAY_-prefixed environment variables, in increasing
// precedence.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	DBPath         string   `mapstructure:"db_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	RateLimit      Rate     `mapstructure:"rate_limit"`
}

type Rate struct {
	// Requests allowed per client IP per minute on mutating endpoints.
	PerMinute int `mapstructure:"per_minute"`
}

func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_path", "relay.db")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("rate_limit.per_minute", 60)

	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
