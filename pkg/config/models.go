package config

import "time"

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Transport TransportConfig
	Lifecycle LifecycleConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	AllowedOrigins  []string              `mapstructure:"allowedOrigins"`
	InternalToken   string                `mapstructure:"internalToken"`
	MetricsPath     string                `mapstructure:"metricsPath"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	RateLimit       RateLimitConfig       `mapstructure:"rateLimit"`
}

type AuthConfig struct {
	// empty secret means the handshake identity is trusted as-is.
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

// RateLimitConfig bounds new connection attempts per client IP.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"perSecond"`
	Burst     int     `mapstructure:"burst"`
}

type TransportConfig struct {
	SendBuffer        int           `mapstructure:"sendBuffer"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeatTimeout"`
	HandshakeTimeout  time.Duration `mapstructure:"handshakeTimeout"`
}

type LifecycleConfig struct {
	StatsInterval time.Duration `mapstructure:"statsInterval"`
	ShutdownGrace time.Duration `mapstructure:"shutdownGrace"`
	DrainTimeout  time.Duration `mapstructure:"drainTimeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
