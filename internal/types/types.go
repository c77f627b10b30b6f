package types

import (
	"sync/atomic"
	"time"
)

// LogLevel represents log verbosity level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat represents log output format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"   // JSON format for Loki
	LogFormatPretty LogFormat = "pretty" // Human-readable for local dev
)

// ServerMode selects how the gateway labels its events and which command
// namespace it listens on.
type ServerMode string

const (
	// ModeSingle pins the gateway to one fixed identity; everything is scoped by it.
	ModeSingle ServerMode = "single"
	// ModeMulti routes like single but the identity is derived at startup
	// (configuration, a tied peer, or generated).
	ModeMulti ServerMode = "multi"
	// ModeGeneric uses one shared, unscoped namespace.
	ModeGeneric ServerMode = "generic"
)

// Valid reports whether m is one of the known modes.
func (m ServerMode) Valid() bool {
	switch m {
	case ModeSingle, ModeMulti, ModeGeneric:
		return true
	}
	return false
}

// ServerConfig contains the configuration for the gateway server
type ServerConfig struct {
	Addr string
	Path string

	// Authentication gating
	ForceAuthenticate    bool // Drop (or reject) content from unauthenticated connections
	NotifyClientOnNoAuth bool // Reply "NOAuthenticated" instead of silently dropping

	// Health reaper
	ReaperInterval    time.Duration // Ping/check-in period (default: 30s)
	PongTimeout       time.Duration // Max wait for a pong within one tick
	ReaperConcurrency int           // Max parallel pings per tick (0 = unbounded)

	// Per-connection transport
	WriteTimeout   time.Duration
	SendBufferSize int
	MaxMessageSize int64

	// Collaborator calls (events and auth callbacks)
	EventTimeout time.Duration
	AuthTimeout  time.Duration

	// Admission control
	MaxConnections             int
	ConnectionRateLimitEnabled bool
	ConnRateLimitIPBurst       int
	ConnRateLimitIPRate        float64
	ConnRateLimitGlobalBurst   int
	ConnRateLimitGlobalRate    float64
}

// Stats tracks server statistics
type Stats struct {
	StartTime time.Time

	TotalConnections   atomic.Int64
	CurrentConnections atomic.Int64
	MessagesReceived   atomic.Int64
	MessagesSent       atomic.Int64
	BytesReceived      atomic.Int64
	BytesSent          atomic.Int64

	ProtocolViolations atomic.Int64 // Frames that forced a disconnect
	ForcedDisconnects  atomic.Int64
	PingFailures       atomic.Int64 // Connections reaped for not answering a ping
	AuthRejections     atomic.Int64
}

// NewStats returns zeroed stats stamped with the current time.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}
