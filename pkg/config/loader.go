package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "SSTNOTIFY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.internalToken", "")
	v.SetDefault("server.metricsPath", "/metrics")
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("server.rateLimit.perSecond", 5)
	v.SetDefault("server.rateLimit.burst", 10)
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.heartbeatInterval", "25s")
	v.SetDefault("transport.heartbeatTimeout", "60s")
	v.SetDefault("transport.handshakeTimeout", "10s")
	v.SetDefault("lifecycle.statsInterval", "5m")
	v.SetDefault("lifecycle.shutdownGrace", "1s")
	v.SetDefault("lifecycle.drainTimeout", "10s")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from a file and environment variables.
// An empty path looks for config.yaml in the working directory.
func Load(logger *slog.Logger, path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("invalid connectionLimit mode %q: want reject or cycle", c.Server.ConnectionLimit.Mode)
	}
	if c.Transport.HeartbeatInterval <= 0 || c.Transport.HeartbeatTimeout <= 0 {
		return errors.New("transport heartbeat interval and timeout must be positive")
	}
	if c.Transport.HeartbeatTimeout < c.Transport.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout %s is shorter than interval %s",
			c.Transport.HeartbeatTimeout, c.Transport.HeartbeatInterval)
	}
	if c.Transport.SendBuffer <= 0 {
		return errors.New("transport sendBuffer must be positive")
	}
	if c.Lifecycle.StatsInterval <= 0 {
		return errors.New("lifecycle statsInterval must be positive")
	}
	return nil
}
