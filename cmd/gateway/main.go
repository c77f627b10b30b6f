package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/ws_gateway/internal/auth"
	"github.com/adred-codev/ws_gateway/internal/bus"
	"github.com/adred-codev/ws_gateway/internal/config"
	"github.com/adred-codev/ws_gateway/internal/gateway"
	"github.com/adred-codev/ws_gateway/internal/monitoring"
	"github.com/adred-codev/ws_gateway/internal/natsbus"
	"github.com/adred-codev/ws_gateway/internal/routing"
	"github.com/adred-codev/ws_gateway/internal/types"
)

const shutdownGrace = 30 * time.Second

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Basic logger until the structured one is configured
	startup := log.New(os.Stdout, "[WS] ", log.LstdFlags)
	startup.Printf("GOMAXPROCS: %d (via automaxprocs)", runtime.GOMAXPROCS(0))

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		startup.Fatalf("Failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = string(types.LogLevelDebug)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  types.LogLevel(cfg.LogLevel),
		Format: types.LogFormat(cfg.LogFormat),
	})
	cfg.LogConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Gateway failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.BusDriver == "nats" {
		conn, err := natsbus.Connect(natsbus.Config{
			URL:             cfg.NATSURL,
			MaxReconnects:   cfg.NATSMaxReconnects,
			ReconnectWait:   cfg.NATSReconnectWait,
			ReconnectJitter: cfg.NATSReconnectWait / 4,
			RequestTimeout:  cfg.NATSRequestTimeout,
		}, logger)
		if err != nil {
			return err
		}
		var resolver routing.IdentityResolver
		if cfg.TiedPeerSubject != "" {
			resolver = natsbus.TiedResolver(conn, cfg.TiedPeerSubject, cfg.NATSRequestTimeout)
		}

		router, err := routing.New(ctx, routing.Options{
			Mode:     types.ServerMode(cfg.ServerMode),
			ServerID: cfg.ServerID,
			Resolver: resolver,
			Prefix:   cfg.NATSSubjectPrefix,
		})
		if err != nil {
			conn.Close()
			return err
		}
		natsBus := natsbus.New(conn, router, cfg.NATSRequestTimeout, logger)
		return serve(ctx, cfg, logger, router, natsBus, natsBus)
	}

	local := &bus.Local{Logger: logger}
	if cfg.JWTSecret != "" {
		local.Auth = auth.NewJWTVerifier(cfg.JWTSecret, 0).Func()
	} else {
		logger.Warn().Msg("JWT_SECRET not set, every credential will be rejected")
	}
	router, err := routing.New(ctx, routing.Options{
		Mode:     types.ServerMode(cfg.ServerMode),
		ServerID: cfg.ServerID,
	})
	if err != nil {
		return err
	}
	return serve(ctx, cfg, logger, router, local, nil)
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger, router *routing.Router, events bus.Events, natsBus *natsbus.Bus) error {
	server, err := gateway.NewServer(gateway.Options{
		Config: cfg.ServerConfig(),
		Logger: logger,
		Router: router,
		Events: events,
	})
	if err != nil {
		return err
	}

	if natsBus != nil {
		defer func() {
			if err := natsBus.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to drain NATS connection")
			}
		}()
		if err := natsBus.Serve(server); err != nil {
			return err
		}
	}

	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
