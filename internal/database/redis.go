package database

import (
	"context"
	"fmt"
	"time"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrorRecoveryManager interface for dependency injection.
// Allows injecting a mechanism to retry failed operations.
type ErrorRecoveryManager interface {
	// ExecuteWithRetry attempts to execute an operation with retry logic.
	ExecuteWithRetry(ctx context.Context, operationName string, operation func(context.Context) error) error
}

// RedisConnectOperation names the retry policy used while connecting
const RedisConnectOperation = "connect"

type RedisClient struct {
	Client *redis.Client
}

// RedisOptions builds client options from the URL when set, else host and port
func RedisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

func NewRedisConnection(cfg config.RedisConfig) (*RedisClient, error) {
	return NewRedisConnectionWithRetry(cfg, nil)
}

// NewRedisConnectionWithRetry creates a new Redis connection with retry logic.
//
// Parameters:
//   - cfg: Redis configuration.
//   - errorRecoveryManager: Optional retry manager; nil pings once.
//
// Returns:
//   - The connected client.
//   - Error if every ping fails.
func NewRedisConnectionWithRetry(cfg config.RedisConfig, errorRecoveryManager ErrorRecoveryManager) (*RedisClient, error) {
	opts, err := RedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ping := func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
	if errorRecoveryManager != nil {
		err = errorRecoveryManager.ExecuteWithRetry(ctx, RedisConnectOperation, ping)
	} else {
		err = ping(ctx)
	}
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.WithField("addr", opts.Addr).Info("Successfully connected to Redis")

	return &RedisClient{Client: rdb}, nil
}

func (r *RedisClient) Close() {
	if r.Client != nil {
		if err := r.Client.Close(); err != nil {
			logrus.WithError(err).Error("Error closing Redis client")
			return
		}
		logrus.Info("Redis connection closed")
	}
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return r.Client.Ping(ctx).Err()
}
