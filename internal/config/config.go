package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Notification transports
const (
	TransportNATS  = "nats"
	TransportRedis = "redis"
	TransportLog   = "log"
)

// Trace exporters
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Matching      MatchingConfig      `mapstructure:"matching"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Cleanup       CleanupConfig       `mapstructure:"cleanup"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int    `mapstructure:"max_conns"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// DSN returns DatabaseURL when set, otherwise a URL built from the parts
func (c DatabaseConfig) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	URL            string `mapstructure:"url"`
	Stream         string `mapstructure:"stream"`
	TriggerSubject string `mapstructure:"trigger_subject"`
	Consumer       string `mapstructure:"consumer"`
}

type NotificationsConfig struct {
	Transport       string        `mapstructure:"transport"`
	FoundSubject    string        `mapstructure:"found_subject"`
	ApprovalSubject string        `mapstructure:"approval_subject"`
	ResultSubject   string        `mapstructure:"result_subject"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
}

// Subjects lists every subject the engine publishes events on
func (c NotificationsConfig) Subjects() []string {
	return []string{c.FoundSubject, c.ApprovalSubject, c.ResultSubject}
}

type MatchingConfig struct {
	LookbackDays        int           `mapstructure:"lookback_days"`
	MaxBundleSize       int           `mapstructure:"max_bundle_size"`
	EnumerationCap      int           `mapstructure:"enumeration_cap"`
	TopN                int           `mapstructure:"top_n"`
	Concurrency         int           `mapstructure:"concurrency"`
	SectorAdjacencyFile string        `mapstructure:"sector_adjacency_file"`
	PersistRetryDelay   time.Duration `mapstructure:"persist_retry_delay"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	PersistTimeout      time.Duration `mapstructure:"persist_timeout"`
	PublishTimeout      time.Duration `mapstructure:"publish_timeout"`
}

type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MatchingCron string `mapstructure:"matching_cron"`
	CleanupCron  string `mapstructure:"cleanup_cron"`
}

type CleanupConfig struct {
	JobRetentionDays int `mapstructure:"job_retention_days"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	ServiceName  string  `mapstructure:"service_name"`
}

// Load reads configs/config.yaml or ./config.yaml, then environment overrides
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given file instead of searching the default locations.
// An empty path searches the defaults; a missing default file is not an error.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Bind specific environment variables
	bindings := map[string]string{
		"database.database_url": "DATABASE_URL",
		"redis.url":             "REDIS_URL",
		"nats.url":              "NATS_URL",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Database.Driver = strings.ToLower(config.Database.Driver)
	config.Notifications.Transport = strings.ToLower(config.Notifications.Transport)
	config.Telemetry.Exporter = strings.ToLower(config.Telemetry.Exporter)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}

	switch c.Notifications.Transport {
	case TransportNATS, TransportRedis, TransportLog:
	default:
		return fmt.Errorf("notification transport must be one of nats, redis, log, got %q", c.Notifications.Transport)
	}
	if c.Notifications.Transport == TransportRedis && !c.Redis.Enabled {
		return fmt.Errorf("notification transport redis requires redis.enabled")
	}

	m := c.Matching
	if m.MaxBundleSize < 1 || m.MaxBundleSize > 10 {
		return fmt.Errorf("matching.max_bundle_size must be between 1 and 10, got %d", m.MaxBundleSize)
	}
	if m.Concurrency < 1 || m.Concurrency > 16 {
		return fmt.Errorf("matching.concurrency must be between 1 and 16, got %d", m.Concurrency)
	}
	if m.TopN < 1 {
		return fmt.Errorf("matching.top_n must be at least 1, got %d", m.TopN)
	}
	if m.EnumerationCap < 2 {
		return fmt.Errorf("matching.enumeration_cap must be at least 2, got %d", m.EnumerationCap)
	}
	if m.LookbackDays < 1 {
		return fmt.Errorf("matching.lookback_days must be positive, got %d", m.LookbackDays)
	}

	if c.Cleanup.JobRetentionDays < 1 {
		return fmt.Errorf("cleanup.job_retention_days must be positive, got %d", c.Cleanup.JobRetentionDays)
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case ExporterStdout, ExporterOTLP:
		default:
			return fmt.Errorf("telemetry exporter must be %q or %q, got %q", ExporterStdout, ExporterOTLP, c.Telemetry.Exporter)
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %v", c.Telemetry.SampleRatio)
		}
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Database
	viper.SetDefault("database.driver", DriverPostgres)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "service20")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.sqlite_path", "data/matching.db")

	// Redis
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// NATS
	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.stream", "MATCHING")
	viper.SetDefault("nats.trigger_subject", "matching.requests")
	viper.SetDefault("nats.consumer", "matching-worker")

	// Notifications
	viper.SetDefault("notifications.transport", TransportNATS)
	viper.SetDefault("notifications.found_subject", "matching.found")
	viper.SetDefault("notifications.approval_subject", "matching.approval")
	viper.SetDefault("notifications.result_subject", "matching.results")
	viper.SetDefault("notifications.dedup_ttl", "720h")

	// Matching
	viper.SetDefault("matching.lookback_days", 30)
	viper.SetDefault("matching.max_bundle_size", 5)
	viper.SetDefault("matching.enumeration_cap", 12)
	viper.SetDefault("matching.top_n", 1)
	viper.SetDefault("matching.concurrency", 4)
	viper.SetDefault("matching.sector_adjacency_file", "")
	viper.SetDefault("matching.persist_retry_delay", "200ms")
	viper.SetDefault("matching.fetch_timeout", "30s")
	viper.SetDefault("matching.persist_timeout", "5s")
	viper.SetDefault("matching.publish_timeout", "5s")

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.matching_cron", "0 0 2 * * *")
	viper.SetDefault("scheduler.cleanup_cron", "0 30 3 * * *")

	// Cleanup
	viper.SetDefault("cleanup.job_retention_days", 90)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", ExporterStdout)
	viper.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	viper.SetDefault("telemetry.sample_ratio", 1.0)
	viper.SetDefault("telemetry.service_name", "service20-matching")
}
