package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/cache"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/config"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/database"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/messaging"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/services"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
)

// Options selects the optional parts of the application
type Options struct {
	// RequireNATS connects to NATS even when events go elsewhere.
	RequireNATS bool
}

// Stores groups the three storage seams of the engine
type Stores struct {
	Alerts  services.AlertStore
	Matches services.MatchRepository
	Jobs    services.JobRepository
	close   func()
}

// App holds the wired matching engine
type App struct {
	Config       *config.Config
	Logger       *logrus.Logger
	Stores       *Stores
	Orchestrator *services.MatchOrchestrator
	Cleanup      *services.CleanupService
	Notifier     *services.NotificationService
	NATS         *messaging.NATSClient
	Redis        *database.RedisClient

	closers []func()
}

// New connects every dependency and wires the orchestrator.
//
// Parameters:
//   - ctx: Bounds connection and migration.
//   - cfg: Validated configuration.
//   - logger: Process logger.
//   - opts: Optional parts.
//
// Returns:
//   - The application; Close releases it.
//   - An InfrastructureError when a required dependency is unreachable.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	erm := services.NewErrorRecoveryManager(logger)
	if cfg.Matching.PersistRetryDelay > 0 {
		policy := *erm.RetryPolicy(services.OperationProposalPersist)
		policy.InitialDelay = cfg.Matching.PersistRetryDelay
		erm.RegisterRetryPolicy(services.OperationProposalPersist, &policy)
	}

	stores, err := OpenStores(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.Stores = stores
	a.closers = append(a.closers, stores.close)

	dedup, err := a.connectRedis(erm)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.connectPublisher(opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	adjacency, err := services.LoadSectorAdjacency(cfg.Matching.SectorAdjacencyFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	timeouts := services.NewTimeoutManager(&services.TimeoutConfig{
		Fetch:   cfg.Matching.FetchTimeout,
		Persist: cfg.Matching.PersistTimeout,
		Publish: cfg.Matching.PublishTimeout,
	}, logger)

	a.Notifier = services.NewNotificationService(publisher, dedup, services.NotificationSubjects{
		Found:    cfg.Notifications.FoundSubject,
		Approval: cfg.Notifications.ApprovalSubject,
		Result:   cfg.Notifications.ResultSubject,
	}, timeouts, logger)

	assembler := services.NewBundleAssembler(services.NewCompatibilityScorer(adjacency), services.AssemblerConfig{
		MaxBundleSize:  cfg.Matching.MaxBundleSize,
		EnumerationCap: cfg.Matching.EnumerationCap,
		TopN:           cfg.Matching.TopN,
	}, logger)

	a.Orchestrator = services.NewMatchOrchestrator(services.OrchestratorDeps{
		Alerts:    stores.Alerts,
		Matches:   stores.Matches,
		Jobs:      stores.Jobs,
		Assembler: assembler,
		Notifier:  a.Notifier,
		Recovery:  erm,
		Timeouts:  timeouts,
	}, services.OrchestratorConfig{Concurrency: cfg.Matching.Concurrency}, logger)

	a.Cleanup = services.NewCleanupService(stores.Jobs, services.CleanupConfig{
		JobRetentionDays: cfg.Cleanup.JobRetentionDays,
	}, erm, logger)

	return a, nil
}

// OpenStores opens the configured storage driver and applies the schema
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*Stores, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := database.NewSQLiteStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, utils.NewInfrastructureError("sqlite", err)
		}
		return &Stores{
			Alerts:  store,
			Matches: store,
			Jobs:    store,
			close:   func() { _ = store.Close() },
		}, nil
	default:
		db, err := database.NewPostgresConnection(ctx, cfg)
		if err != nil {
			return nil, utils.NewInfrastructureError("postgres", err)
		}
		pool := db.Traced()
		if err := database.Migrate(ctx, pool); err != nil {
			db.Close()
			return nil, utils.NewInfrastructureError("postgres", err)
		}
		return &Stores{
			Alerts:  database.NewPostgresAlertStore(pool),
			Matches: database.NewPostgresMatchRepository(pool, logger),
			Jobs:    database.NewPostgresJobRepository(pool),
			close:   db.Close,
		}, nil
	}
}

// connectRedis returns the dedup store. Without Redis marks are kept in
// process memory unless Redis is also the event transport.
func (a *App) connectRedis(erm *services.ErrorRecoveryManager) (services.DedupStore, error) {
	cfg := a.Config
	if cfg.Redis.Enabled {
		client, err := database.NewRedisConnectionWithRetry(cfg.Redis, erm)
		if err == nil {
			a.Redis = client
			a.closers = append(a.closers, client.Close)
			return cache.NewRedisNotificationDedup(client.Client, cfg.Notifications.DedupTTL, a.Logger), nil
		}
		if cfg.Notifications.Transport == config.TransportRedis {
			return nil, utils.NewInfrastructureError("redis", err)
		}
		a.Logger.WithError(err).Warn("Redis unavailable, keeping notification marks in memory")
	}
	return cache.NewInMemoryNotificationDedup(cfg.Notifications.DedupTTL), nil
}

func (a *App) connectPublisher(opts Options) (messaging.Publisher, error) {
	cfg := a.Config
	if cfg.Notifications.Transport == config.TransportNATS || opts.RequireNATS {
		subjects := append([]string{cfg.NATS.TriggerSubject}, cfg.Notifications.Subjects()...)
		client, err := messaging.NewNATSClient(cfg.NATS.URL, messaging.StreamOptions{
			Name:     cfg.NATS.Stream,
			Subjects: subjects,
		}, a.Logger)
		if err != nil {
			return nil, utils.NewInfrastructureError("nats", err)
		}
		a.NATS = client
		a.closers = append(a.closers, client.Close)
	}

	switch cfg.Notifications.Transport {
	case config.TransportNATS:
		return a.NATS, nil
	case config.TransportRedis:
		return messaging.NewRedisStreamPublisher(a.Redis.Client, messaging.DefaultStreamMaxLen), nil
	default:
		return messaging.NewLogPublisher(a.Logger), nil
	}
}

// Close releases connections in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// DecodeTrigger accepts a bare trigger or a match_request envelope
func DecodeTrigger(data []byte) (models.JobTrigger, error) {
	var trigger models.JobTrigger
	if env, err := messaging.DecodeEnvelope(data); err == nil {
		if env.Type != models.EventMatchRequest {
			return trigger, utils.NewInputDataErrorf("", "type", "unexpected event type %q", env.Type)
		}
		data = env.Payload
	}
	if err := json.Unmarshal(data, &trigger); err != nil {
		return trigger, utils.NewInputDataErrorf("", "payload", "malformed trigger: %v", err)
	}
	if trigger.Job == "" {
		return trigger, utils.NewInputDataError("", "job", "required")
	}
	return trigger, nil
}

// HandleTrigger runs the job named by a queued trigger. Unusable messages are
// dropped; an unreachable store or a cancelled run asks for redelivery.
func (a *App) HandleTrigger(ctx context.Context, data []byte) error {
	trigger, err := DecodeTrigger(data)
	if err != nil {
		a.Logger.WithError(err).Warn("Dropping malformed job trigger")
		return nil
	}

	summary, err := a.Orchestrator.Run(ctx, trigger)
	switch {
	case err == nil:
		a.Logger.WithFields(logrus.Fields{
			"job_id": summary.JobID,
			"run_id": summary.RunID,
		}).Info("Queued matching job completed")
		return nil
	case utils.IsInputDataError(err):
		a.Logger.WithError(err).Warn("Dropping unsupported job trigger")
		return nil
	case utils.IsInfrastructureError(err), errors.Is(err, services.ErrJobCancelled):
		return err
	default:
		return fmt.Errorf("matching job failed: %w", err)
	}
}
