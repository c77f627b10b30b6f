package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/ws_gateway/internal/monitoring"
	"github.com/adred-codev/ws_gateway/internal/types"
	"github.com/adred-codev/ws_gateway/pkg/wsclient"
)

type Config struct {
	WSURL             string
	HealthURL         string
	Token             string
	TargetConnections int
	RampRate          int // connections per second
	Duration          time.Duration
	ReportInterval    time.Duration
	PingInterval      time.Duration
	ChatInterval      time.Duration
}

// State tracks test counters
type State struct {
	active   atomic.Int64
	created  atomic.Int64
	failed   atomic.Int64
	notices  atomic.Int64
	messages atomic.Int64
	sent     atomic.Int64
	errors   atomic.Int64
}

type healthResponse struct {
	Status      string `json:"status"`
	ServerID    string `json:"server_id"`
	Connections struct {
		Current int `json:"current"`
		Max     int `json:"max"`
	} `json:"connections"`
	Process struct {
		CPUPercent float64 `json:"cpu_percent"`
		MemoryMB   float64 `json:"memory_mb"`
	} `json:"process"`
}

func main() {
	cfg := parseFlags()
	logger := monitoring.NewLogger(monitoring.LoggerConfig{Level: types.LogLevelInfo, Format: types.LogFormatPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("url", cfg.WSURL).
		Int("target", cfg.TargetConnections).
		Int("ramp_rate", cfg.RampRate).
		Dur("duration", cfg.Duration).
		Bool("authenticated", cfg.Token != "").
		Msg("Starting sustained load test")

	if h, err := checkHealth(ctx, cfg.HealthURL); err != nil {
		logger.Fatal().Err(err).Msg("Server health check failed")
	} else {
		logger.Info().Str("status", h.Status).Str("server_id", h.ServerID).Msg("Server healthy")
	}

	state := &State{}
	go report(ctx, cfg, state, logger)

	var wg sync.WaitGroup
	limiter := rate.NewLimiter(rate.Limit(cfg.RampRate), max(1, cfg.RampRate/10))
	start := time.Now()
	for i := 0; i < cfg.TargetConnections; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(ctx, cfg, id, state, logger)
		}(i)
	}
	logger.Info().Dur("took", time.Since(start)).Int64("active", state.active.Load()).Msg("Ramp-up complete")

	select {
	case <-time.After(cfg.Duration):
	case <-ctx.Done():
		logger.Warn().Msg("Sustain phase interrupted")
	}
	stop()
	wg.Wait()

	printReport(state, logger)
}

func runClient(ctx context.Context, cfg *Config, id int, state *State, logger zerolog.Logger) {
	state.created.Add(1)
	session := fmt.Sprintf("loadtest-%d", id)

	client, err := wsclient.New(wsclient.Config{
		Endpoint: cfg.WSURL,
		Token:    cfg.Token,
		Logger:   logger.With().Int("client", id).Logger().Level(zerolog.ErrorLevel),
		OnMessage: func(string, json.RawMessage) {
			state.messages.Add(1)
		},
		OnNotice: func(string) {
			state.notices.Add(1)
		},
		OnStatus: func(connected bool) {
			if connected {
				state.active.Add(1)
			} else {
				state.active.Add(-1)
			}
		},
	})
	if err != nil {
		state.failed.Add(1)
		return
	}

	go func() {
		ping := time.NewTicker(cfg.PingInterval)
		chat := time.NewTicker(cfg.ChatInterval)
		defer ping.Stop()
		defer chat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if client.Connected() {
					count(state, client.Ping(session))
				}
			case <-chat.C:
				if client.Connected() {
					count(state, client.Send("chat", map[string]any{"from": session, "at": time.Now().UnixMilli()}))
				}
			}
		}
	}()

	_ = client.Run(ctx)
}

func count(state *State, err error) {
	if err != nil {
		state.errors.Add(1)
		return
	}
	state.sent.Add(1)
}

func report(ctx context.Context, cfg *Config, state *State, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := logger.Info().
				Int64("active", state.active.Load()).
				Int64("created", state.created.Load()).
				Int64("failed", state.failed.Load()).
				Int64("sent", state.sent.Load()).
				Int64("received", state.messages.Load()).
				Int64("notices", state.notices.Load()).
				Int64("errors", state.errors.Load())
			if h, err := checkHealth(ctx, cfg.HealthURL); err == nil {
				ev = ev.Int("server_connections", h.Connections.Current).
					Float64("server_cpu", h.Process.CPUPercent).
					Float64("server_memory_mb", h.Process.MemoryMB)
			}
			ev.Msg("Load test progress")
		}
	}
}

func printReport(state *State, logger zerolog.Logger) {
	logger.Info().
		Int64("created", state.created.Load()).
		Int64("failed", state.failed.Load()).
		Int64("sent", state.sent.Load()).
		Int64("received", state.messages.Load()).
		Int64("notices", state.notices.Load()).
		Int64("errors", state.errors.Load()).
		Msg("Load test finished")
}

func checkHealth(ctx context.Context, url string) (*healthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &h, fmt.Errorf("health status %d (%s)", resp.StatusCode, h.Status)
	}
	return &h, nil
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.WSURL, "url", getEnv("WS_URL", "ws://localhost:8081/"), "WebSocket gateway URL")
	flag.StringVar(&cfg.HealthURL, "health", getEnv("HEALTH_URL", "http://localhost:8081/health"), "Health check URL")
	flag.StringVar(&cfg.Token, "token", getEnv("WS_TOKEN", ""), "Credential attached to every frame")
	flag.IntVar(&cfg.TargetConnections, "connections", getEnvInt("TARGET_CONNECTIONS", 1000), "Target number of connections")
	flag.IntVar(&cfg.RampRate, "ramp-rate", getEnvInt("RAMP_RATE", 100), "Connections per second during ramp-up")
	flag.DurationVar(&cfg.Duration, "duration", 5*time.Minute, "Sustain duration")
	flag.DurationVar(&cfg.ReportInterval, "report-interval", 10*time.Second, "Report interval")
	flag.DurationVar(&cfg.PingInterval, "ping-interval", 20*time.Second, "Session ping interval per client")
	flag.DurationVar(&cfg.ChatInterval, "chat-interval", 5*time.Second, "Content message interval per client")
	flag.Parse()

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
