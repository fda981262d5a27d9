// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for the API gateway and the job processor,
// covering databases, the work queue, the generation provider and retry tuning.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during
// application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Outbox      OutboxConfig
	Queue       QueueConfig
	Worker      WorkerConfig
	Dispatch    DispatchConfig
	Provider    ProviderConfig
	Credentials CredentialsConfig
	Classifier  ClassifierConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
	AllowedOrigins  []string      // CORS origins
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	JobEventsTopic    string // Job lifecycle events
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Operator alerts for exhausted outbox records
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
	ArtifactBucket  string // GridFS bucket for generated artifacts
}

// OutboxConfig contains outbox relay configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int           // Pending records per tick
	RetryBatchSize   int           // Failed records per tick
	MaxRetryAttempts int           // Relay attempts before a record is left for an operator
	RetryCooldown    time.Duration // Minimum gap between two relay attempts of one record
}

// QueueConfig contains work queue retry settings
type QueueConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// WorkerConfig contains job worker settings
type WorkerConfig struct {
	Concurrency      int
	JobTimeout       time.Duration // Budget for a single attempt
	StaleAfter       time.Duration // A processing job older than this is considered orphaned
	RecoveryInterval time.Duration
}

// DispatchConfig contains settings for the best-effort immediate enqueue pool
type DispatchConfig struct {
	PoolSize int
	Timeout  time.Duration
}

// ProviderConfig contains generation provider settings
type ProviderConfig struct {
	BaseURL          string
	APIKeys          []string
	RequestTimeout   time.Duration // Per-call timeout
	PollInterval     time.Duration
	MaxPolls         int
	PersistArtifacts bool
	FFProbePath      string
}

// CredentialsConfig contains credential rotation settings
type CredentialsConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// ClassifierConfig contains error classification settings
type ClassifierConfig struct {
	DefaultRetryable bool // Outcome for errors no rule recognises
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.JobEventsTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_JOB_EVENTS_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}
	if c.MongoDB.ArtifactBucket == "" {
		validationErrors = append(validationErrors, "MONGO_ARTIFACT_BUCKET is required")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.RetryBatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_RETRY_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}
	if c.Outbox.RetryCooldown < 0 {
		validationErrors = append(validationErrors, "OUTBOX_RETRY_COOLDOWN must not be negative")
	}

	// Validate Queue config
	if c.Queue.MaxAttempts <= 0 {
		validationErrors = append(validationErrors, "QUEUE_MAX_ATTEMPTS must be greater than 0")
	}
	if c.Queue.BackoffBase <= 0 {
		validationErrors = append(validationErrors, "QUEUE_BACKOFF_BASE must be greater than 0")
	}
	if c.Queue.BackoffMax < c.Queue.BackoffBase {
		validationErrors = append(validationErrors, "QUEUE_BACKOFF_MAX must not be lower than QUEUE_BACKOFF_BASE")
	}

	// Validate Worker config
	if c.Worker.Concurrency <= 0 {
		validationErrors = append(validationErrors, "WORKER_CONCURRENCY must be greater than 0")
	}
	if c.Worker.JobTimeout <= 0 {
		validationErrors = append(validationErrors, "WORKER_JOB_TIMEOUT must be greater than 0")
	}
	if c.Worker.StaleAfter <= c.Worker.JobTimeout {
		validationErrors = append(validationErrors, "WORKER_STALE_AFTER must be greater than WORKER_JOB_TIMEOUT")
	}
	if c.Worker.RecoveryInterval <= 0 {
		validationErrors = append(validationErrors, "WORKER_RECOVERY_INTERVAL must be greater than 0")
	}

	// Validate Dispatch config
	if c.Dispatch.PoolSize <= 0 {
		validationErrors = append(validationErrors, "DISPATCH_POOL_SIZE must be greater than 0")
	}
	if c.Dispatch.Timeout <= 0 {
		validationErrors = append(validationErrors, "DISPATCH_TIMEOUT must be greater than 0")
	}

	// Validate Provider config
	if c.Provider.BaseURL == "" {
		validationErrors = append(validationErrors, "PROVIDER_BASE_URL is required")
	}
	if c.Provider.RequestTimeout <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_REQUEST_TIMEOUT must be greater than 0")
	}
	if c.Provider.PollInterval <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_POLL_INTERVAL must be greater than 0")
	}
	if c.Provider.MaxPolls <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_MAX_POLLS must be greater than 0")
	}

	// Validate Credentials config
	if c.Credentials.FailureThreshold <= 0 {
		validationErrors = append(validationErrors, "CREDENTIALS_FAILURE_THRESHOLD must be greater than 0")
	}
	if c.Credentials.Cooldown <= 0 {
		validationErrors = append(validationErrors, "CREDENTIALS_COOLDOWN must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
