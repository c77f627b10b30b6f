package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ws_gateway/internal/types"
)

// Config holds all gateway configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listener
	Host string `env:"WS_HOST" envDefault:""`
	Port int    `env:"WS_PORT" envDefault:"8081"`
	Path string `env:"WS_PATH" envDefault:"/"`

	// Identity and routing
	ServerMode      string `env:"WS_SERVER_MODE" envDefault:"multi"`
	ServerID        string `env:"WS_SERVER_ID" envDefault:""`
	TiedPeerSubject string `env:"WS_TIED_PEER_SUBJECT" envDefault:""` // multi mode: ask a peer for its identity

	// Authentication gating
	ForceAuthenticate    bool          `env:"WS_FORCE_AUTHENTICATE" envDefault:"false"`
	NotifyClientOnNoAuth bool          `env:"WS_NOTIFY_CLIENT_ON_NO_AUTH" envDefault:"false"`
	AuthTimeout          time.Duration `env:"WS_AUTH_TIMEOUT" envDefault:"10s"`
	JWTSecret            string        `env:"JWT_SECRET" envDefault:""` // local bus only

	// Health reaper
	ReaperInterval    time.Duration `env:"WS_REAPER_INTERVAL" envDefault:"30s"`
	PongTimeout       time.Duration `env:"WS_PONG_TIMEOUT" envDefault:"10s"`
	ReaperConcurrency int           `env:"WS_REAPER_CONCURRENCY" envDefault:"0"`

	// Per-connection transport
	WriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	SendBufferSize int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"1048576"` // 1MB

	// Capacity
	MaxConnections int `env:"WS_MAX_CONNECTIONS" envDefault:"10000"`

	// Connection rate limiting (per IP and global)
	ConnRateLimitEnabled     bool    `env:"WS_CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateLimitIPBurst     int     `env:"WS_CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64 `env:"WS_CONN_RATE_LIMIT_IP_RATE" envDefault:"1.0"`
	ConnRateLimitGlobalBurst int     `env:"WS_CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"300"`
	ConnRateLimitGlobalRate  float64 `env:"WS_CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"50.0"`

	// Event bus
	BusDriver          string        `env:"BUS_DRIVER" envDefault:"local"`
	EventTimeout       time.Duration `env:"BUS_EVENT_TIMEOUT" envDefault:"5s"`
	NATSURL            string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubjectPrefix  string        `env:"NATS_SUBJECT_PREFIX" envDefault:"ws"`
	NATSRequestTimeout time.Duration `env:"NATS_REQUEST_TIMEOUT" envDefault:"5s"`
	NATSMaxReconnects  int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"`
	NATSReconnectWait  time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}
	return cfg, nil
}

// Parse builds a Config from the process environment only and validates it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("WS_PORT must be 1-65535, got %d", c.Port)
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("WS_PATH must start with '/', got %q", c.Path)
	}

	if !types.ServerMode(c.ServerMode).Valid() {
		return fmt.Errorf("WS_SERVER_MODE must be one of: single, multi, generic (got: %s)", c.ServerMode)
	}
	if c.TiedPeerSubject != "" && c.BusDriver != "nats" {
		return fmt.Errorf("WS_TIED_PEER_SUBJECT requires BUS_DRIVER=nats")
	}

	if c.ReaperInterval <= 0 {
		return fmt.Errorf("WS_REAPER_INTERVAL must be > 0, got %s", c.ReaperInterval)
	}
	if c.PongTimeout <= 0 || c.PongTimeout >= c.ReaperInterval {
		return fmt.Errorf("WS_PONG_TIMEOUT (%s) must be > 0 and < WS_REAPER_INTERVAL (%s)",
			c.PongTimeout, c.ReaperInterval)
	}
	if c.ReaperConcurrency < 0 {
		return fmt.Errorf("WS_REAPER_CONCURRENCY must be >= 0, got %d", c.ReaperConcurrency)
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("WS_AUTH_TIMEOUT must be > 0, got %s", c.AuthTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WS_WRITE_TIMEOUT must be > 0, got %s", c.WriteTimeout)
	}
	if c.SendBufferSize < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be > 0, got %d", c.SendBufferSize)
	}
	if c.MaxMessageSize < 1 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be > 0, got %d", c.MaxMessageSize)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}

	if c.ConnRateLimitEnabled {
		if c.ConnRateLimitIPBurst < 1 || c.ConnRateLimitGlobalBurst < 1 {
			return fmt.Errorf("connection rate limit bursts must be > 0 (ip=%d global=%d)",
				c.ConnRateLimitIPBurst, c.ConnRateLimitGlobalBurst)
		}
		if c.ConnRateLimitIPRate <= 0 || c.ConnRateLimitGlobalRate <= 0 {
			return fmt.Errorf("connection rate limit rates must be > 0 (ip=%.2f global=%.2f)",
				c.ConnRateLimitIPRate, c.ConnRateLimitGlobalRate)
		}
	}

	validDrivers := map[string]bool{"local": true, "nats": true}
	if !validDrivers[c.BusDriver] {
		return fmt.Errorf("BUS_DRIVER must be one of: local, nats (got: %s)", c.BusDriver)
	}
	if c.BusDriver == "nats" && c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when BUS_DRIVER=nats")
	}
	if c.EventTimeout <= 0 {
		return fmt.Errorf("BUS_EVENT_TIMEOUT must be > 0, got %s", c.EventTimeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Addr is the listen address built from host and port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerConfig projects the gateway-facing settings.
func (c *Config) ServerConfig() types.ServerConfig {
	return types.ServerConfig{
		Addr:                       c.Addr(),
		Path:                       c.Path,
		ForceAuthenticate:          c.ForceAuthenticate,
		NotifyClientOnNoAuth:       c.NotifyClientOnNoAuth,
		ReaperInterval:             c.ReaperInterval,
		PongTimeout:                c.PongTimeout,
		ReaperConcurrency:          c.ReaperConcurrency,
		WriteTimeout:               c.WriteTimeout,
		SendBufferSize:             c.SendBufferSize,
		MaxMessageSize:             c.MaxMessageSize,
		EventTimeout:               c.EventTimeout,
		AuthTimeout:                c.AuthTimeout,
		MaxConnections:             c.MaxConnections,
		ConnectionRateLimitEnabled: c.ConnRateLimitEnabled,
		ConnRateLimitIPBurst:       c.ConnRateLimitIPBurst,
		ConnRateLimitIPRate:        c.ConnRateLimitIPRate,
		ConnRateLimitGlobalBurst:   c.ConnRateLimitGlobalBurst,
		ConnRateLimitGlobalRate:    c.ConnRateLimitGlobalRate,
	}
}

// LogConfig logs configuration using structured logging (Loki-compatible)
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr()).
		Str("path", c.Path).
		Str("server_mode", c.ServerMode).
		Str("server_id", c.ServerID).
		Str("tied_peer_subject", c.TiedPeerSubject).
		Bool("force_authenticate", c.ForceAuthenticate).
		Bool("notify_client_on_no_auth", c.NotifyClientOnNoAuth).
		Bool("jwt_enabled", c.JWTSecret != "").
		Dur("reaper_interval", c.ReaperInterval).
		Dur("pong_timeout", c.PongTimeout).
		Int("max_connections", c.MaxConnections).
		Int("send_buffer", c.SendBufferSize).
		Int64("max_message_size", c.MaxMessageSize).
		Bool("conn_rate_limit", c.ConnRateLimitEnabled).
		Str("bus_driver", c.BusDriver).
		Str("nats_url", c.NATSURL).
		Str("nats_subject_prefix", c.NATSSubjectPrefix).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Gateway configuration loaded")
}
