package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/app"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/config"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/logging"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/messaging"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
)

// triggerFlags are the command line options of the trigger CLI
type triggerFlags struct {
	lookback   int
	publish    bool
	jobID      string
	configPath string
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitCode is non-zero only when a store or the queue was unreachable, or the
// command line itself was invalid. Individual proposal failures never fail the CLI.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if utils.IsInfrastructureError(err) {
		return 2
	}
	return 1
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &triggerFlags{}
	cmd := &cobra.Command{
		Use:           "trigger",
		Short:         "Run or enqueue an opportunity matching job",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := runTrigger(cmd.Context(), flags, cmd.Flags().Changed("lookback"), stdout, stderr)
			if err != nil {
				fmt.Fprintf(stderr, "trigger failed: %v\n", err)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&flags.lookback, "lookback", models.DefaultLookbackDays, "days an alert stays active")
	cmd.Flags().BoolVar(&flags.publish, "publish", false, "enqueue the job on the durable queue instead of running it")
	cmd.Flags().StringVar(&flags.jobID, "job-id", "", "explicit job id; reruns with the same id write no new proposals")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "configuration file")
	return cmd
}

func runTrigger(ctx context.Context, flags *triggerFlags, lookbackSet bool, stdout, stderr io.Writer) error {
	if flags.lookback < 1 {
		return fmt.Errorf("--lookback must be positive, got %d", flags.lookback)
	}

	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.NewLoggerWithOutput(cfg.LogLevel, cfg.Environment, stderr)

	lookback := cfg.Matching.LookbackDays
	if lookbackSet {
		lookback = flags.lookback
	}
	trigger := models.JobTrigger{
		Job:          models.MatchingJobName,
		LookbackDays: lookback,
		JobID:        flags.jobID,
	}

	if flags.publish {
		return publishTrigger(ctx, cfg, logger, trigger, stdout)
	}

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer application.Close()

	trigger.TriggerSource = "cli"
	summary, err := application.Orchestrator.Run(ctx, trigger)
	if summary != nil {
		if encErr := writeJSON(stdout, summary); encErr != nil {
			return encErr
		}
	}
	if err != nil && !utils.IsInfrastructureError(err) {
		// Cancelled and rejected runs are reported in the summary
		logger.WithError(err).Warn("Matching job did not complete")
		if summary == nil {
			return err
		}
		return nil
	}
	return err
}

func publishTrigger(ctx context.Context, cfg *config.Config, logger *logrus.Logger, trigger models.JobTrigger, stdout io.Writer) error {
	now := time.Now().UTC()
	trigger.TriggerSource = "manual"
	trigger.RequestedAt = &now

	client, err := messaging.NewNATSClient(cfg.NATS.URL, messaging.StreamOptions{
		Name:     cfg.NATS.Stream,
		Subjects: append([]string{cfg.NATS.TriggerSubject}, cfg.Notifications.Subjects()...),
	}, logger)
	if err != nil {
		return utils.NewInfrastructureError("nats", err)
	}
	defer client.Close()

	data, err := messaging.EncodeEvent(models.EventMatchRequest, trigger)
	if err != nil {
		return err
	}
	if err := client.Publish(ctx, cfg.NATS.TriggerSubject, data); err != nil {
		return utils.NewInfrastructureError("nats", err)
	}
	return writeJSON(stdout, map[string]any{
		"published": true,
		"subject":   cfg.NATS.TriggerSubject,
		"trigger":   trigger,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
