package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/oplog-tailer/internal/admin"
	"github.com/SteelMorgan/oplog-tailer/internal/config"
	"github.com/SteelMorgan/oplog-tailer/internal/observability"
	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
	"github.com/SteelMorgan/oplog-tailer/internal/sink"
	"github.com/SteelMorgan/oplog-tailer/internal/tailer"
	"github.com/SteelMorgan/oplog-tailer/internal/telemetry"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logCloser := observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()

	log.Info().
		Str("version", version).
		Str("namespace", cfg.OplogNamespace).
		Str("sink", cfg.Sink).
		Msg("Starting oplog tailer")

	// Initialize tracer (no-op provider when disabled)
	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "oplog-tailer",
		ServiceVersion: version,
		Namespace:      cfg.OplogNamespace,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		SampleRatio:    cfg.TracingSampleRatio,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
		shutdownTracer = func(context.Context) error { return nil }
	}

	telemetry.Initialize(cfg.MetricsEnabled)

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Oplog tailer failed to start")
		_ = shutdownTracer(context.Background())
		logCloser.Close()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracer(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down tracer")
	}
}

// run builds the engine, serves until a shutdown signal arrives and tears
// everything down. Only construction failures are returned.
func run(cfg *config.Config) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := sink.New(startCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close sink")
		}
	}()

	dialer, err := oplog.NewMgoDialer(oplog.MgoConfig{
		ConnectionString: cfg.ConnectionString,
		Database:         cfg.OplogDatabase,
		Collection:       cfg.OplogCollection,
		DialTimeout:      cfg.DialTimeout(),
		AwaitTimeout:     cfg.AwaitTimeout(),
	})
	if err != nil {
		return err
	}

	tail, err := tailer.New(tailer.Config{
		Namespace:      cfg.OplogNamespace,
		Dialer:         dialer,
		Handler:        out,
		Clock:          clock.WallClock,
		RestartDelay:   cfg.RestartDelay(),
		EmptyPollDelay: cfg.EmptyPollDelay(),
	})
	if err != nil {
		return err
	}

	var adminSrv *admin.Server
	if cfg.AdminAddr != "" {
		adminSrv = admin.NewServer(cfg.AdminAddr, tail, telemetry.Handler())
		if err := adminSrv.Start(); err != nil {
			return err
		}
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := tail.Start(); err != nil {
		return err
	}
	log.Info().Msg("Tail service started successfully")

	// Wait for shutdown signal or the worker exiting on its own
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-tail.Dead():
		log.Error().Err(tail.Err()).Msg("Tail service exited unexpectedly")
	}

	log.Info().Msg("Shutting down gracefully...")
	_ = tail.Stop()

	if adminSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down admin server")
		}
	}

	log.Info().Msg("Tail service stopped")
	return nil
}
