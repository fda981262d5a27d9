package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/credentials"
	"github.com/reelforge-backend/internal/credits"
	"github.com/reelforge-backend/internal/data/mongo"
	"github.com/reelforge-backend/internal/data/postgres"
	"github.com/reelforge-backend/internal/job_processor/audit"
	"github.com/reelforge-backend/internal/job_processor/classifier"
	"github.com/reelforge-backend/internal/job_processor/outbox_relay"
	"github.com/reelforge-backend/internal/job_processor/worker"
	"github.com/reelforge-backend/internal/logger"
	"github.com/reelforge-backend/internal/metrics"
	"github.com/reelforge-backend/internal/platform/messaging/consumers"
	"github.com/reelforge-backend/internal/platform/messaging/producers"
	"github.com/reelforge-backend/internal/platform/persistence"
	"github.com/reelforge-backend/internal/platform/provider"
	"github.com/reelforge-backend/internal/platform/queue"
	"github.com/reelforge-backend/internal/platform/storage"
	"github.com/riverqueue/river"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
)

const credentialGaugeInterval = 15 * time.Second

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("job_processor")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Job Processor",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"worker_concurrency", cfg.Worker.Concurrency,
	)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := postgres.NewAccountRepository(log, postgresDB)
	ledgerRepo := postgres.NewLedgerRepository(log, postgresDB)
	jobRepo := postgres.NewJobRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	jobEventRepo := mongo.NewJobEventRepository(log, mongoDB.Database())
	if err := jobEventRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to create job event indexes", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producers; the DLQ producer is nil when no topic is configured
	eventProducer, err := producers.NewJobEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize job event producer", "error", err)
		os.Exit(1)
	}
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	var deadLetters producers.DeadLetterPublisher
	if dlqProducer != nil {
		deadLetters = dlqProducer
	}

	// Credits
	creditLedger := credits.NewLedger(postgresDB, accountRepo, ledgerRepo, log)
	settler := credits.NewSettler(postgresDB, jobRepo, creditLedger, log)

	// Provider access
	errClassifier := classifier.New(cfg.Classifier.DefaultRetryable)
	credentialSource, err := credentials.NewSource(cfg.Provider.APIKeys, &cfg.Credentials, classifier.IsQuotaExhausted, log)
	if err != nil {
		log.Error("No provider credentials configured", "error", err)
		os.Exit(1)
	}

	var artifactStore storage.ArtifactStore
	if cfg.Provider.PersistArtifacts {
		artifactStore = storage.NewGridFSStorage(func() (*gridfs.Bucket, error) {
			return mongoDB.GridFSBucket(cfg.MongoDB.ArtifactBucket)
		}, log)
	}
	var prober provider.Prober
	if cfg.Provider.FFProbePath != "" {
		prober = provider.NewFFProbe(cfg.Provider.FFProbePath)
	}
	workflow := worker.NewWorkflow(provider.NewHTTPClient(&cfg.Provider, log), artifactStore, prober, &cfg.Provider, log)

	generationWorker := worker.NewGenerationWorker(
		jobRepo,
		settler,
		credentialSource,
		workflow,
		errClassifier,
		eventProducer,
		&cfg.Worker,
		&cfg.Queue,
		log,
	)

	// Initialize the work queue with the generation worker
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, generationWorker); err != nil {
		log.Error("Failed to register generation worker", "error", err)
		os.Exit(1)
	}
	riverClient, err := queue.NewClient(postgresDB.Pool(), workers, cfg.Worker.Concurrency, log)
	if err != nil {
		log.Error("Failed to initialize queue client", "error", err)
		os.Exit(1)
	}
	workQueue := queue.NewWorkQueue(riverClient, &cfg.Queue, log)

	// Outbox relay: fallback delivery of staged jobs into the queue
	dispatcher, err := outbox_relay.NewDispatcher(outboxRepo, workQueue, deadLetters, &cfg.Outbox, &cfg.Dispatch, log)
	if err != nil {
		log.Error("Failed to initialize dispatcher", "error", err)
		os.Exit(1)
	}
	relay := outbox_relay.NewRelay(&cfg.Outbox, outboxRepo, dispatcher, log)

	recoverer := worker.NewRecoverer(jobRepo, settler, eventProducer, &cfg.Worker, log)

	// Audit trail consumer
	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)
	jobEventHandler := audit.NewJobEventHandler(log, jobEventRepo, deadLetters)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	if err := riverClient.Start(appCtx); err != nil {
		log.Error("Failed to start queue workers", "error", err)
		os.Exit(1)
	}

	if err := kafkaConsumer.Subscribe(appCtx, jobEventHandler.HandleMessage); err != nil {
		errChan <- fmt.Errorf("kafka consumer error: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Start(appCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		recoverer.Start(appCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportCredentials(appCtx, credentialSource, log)
	}()

	opsServer := newOpsServer(cfg)
	go func() {
		log.Info("Starting metrics server", "port", cfg.Server.Port)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	if err = opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping metrics server", "error", err)
	}

	// Running jobs get the shutdown window to finish; River retries whatever
	// is left and the recoverer settles jobs abandoned mid-run
	if err = riverClient.Stop(shutdownCtx); err != nil {
		log.Error("Queue workers did not stop cleanly", "error", err)
	}

	// Cancel the application context
	cancelAppCtx()

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	dispatcher.Shutdown(cfg.Dispatch.Timeout)

	// Close DLQ Kafka producer
	if dlqProducer != nil {
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	if err = eventProducer.Close(); err != nil {
		log.Error("Error closing job event producer", "error", err)
	}

	// Close Kafka consumer
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Job Processor shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Job Processor shutdown completed with errors")
	} else {
		log.Info("Job Processor shutdown completed successfully")
	}
}

// newOpsServer exposes liveness and Prometheus metrics for the processor
func newOpsServer(cfg *config.Config) *http.Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}
}

// reportCredentials keeps the available-credentials gauge current
func reportCredentials(ctx context.Context, source credentials.Source, log *slog.Logger) {
	pool, ok := source.(*credentials.Pool)
	if !ok {
		metrics.CredentialsAvailable.Set(1)
		return
	}

	ticker := time.NewTicker(credentialGaugeInterval)
	defer ticker.Stop()

	for {
		available, total := pool.Snapshot()
		metrics.CredentialsAvailable.Set(float64(available))
		if available == 0 {
			log.Warn("All provider credentials are benched", "total", total)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
