package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/app"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/config"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/logging"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/scheduler"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Worker failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	if err := telemetry.InitTelemetry(telemetry.TelemetryConfig{
		Enabled:      cfg.Telemetry.Enabled,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Environment,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Failed to shutdown telemetry")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, app.Options{RequireNATS: true})
	if err != nil {
		return fmt.Errorf("failed to start matching engine: %w", err)
	}
	defer application.Close()

	if err := application.NATS.Subscribe(ctx, cfg.NATS.Stream, cfg.NATS.Consumer, cfg.NATS.TriggerSubject, application.HandleTrigger); err != nil {
		return fmt.Errorf("failed to subscribe to job triggers: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(ctx, application.Orchestrator, application.Cleanup, scheduler.Config{
			MatchingCron: cfg.Scheduler.MatchingCron,
			CleanupCron:  cfg.Scheduler.CleanupCron,
			LookbackDays: cfg.Matching.LookbackDays,
		}, logger)
		if err := sched.RegisterAll(); err != nil {
			return err
		}
		sched.Start()
	}

	logger.WithField("subject", cfg.NATS.TriggerSubject).Info("Matching worker started")
	<-ctx.Done()
	logger.Info("Shutting down matching worker...")

	if sched != nil {
		sched.Stop()
	}
	logger.Info("Matching worker exited")
	return nil
}
