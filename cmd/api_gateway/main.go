package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reelforge-backend/internal/api_gateway"
	"github.com/reelforge-backend/internal/api_gateway/service"
	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/credits"
	"github.com/reelforge-backend/internal/data/mongo"
	"github.com/reelforge-backend/internal/data/postgres"
	"github.com/reelforge-backend/internal/job_processor/outbox_relay"
	"github.com/reelforge-backend/internal/logger"
	"github.com/reelforge-backend/internal/platform/messaging/producers"
	"github.com/reelforge-backend/internal/platform/persistence"
	"github.com/reelforge-backend/internal/platform/queue"
	"github.com/reelforge-backend/internal/platform/storage"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	// Initialize databases with app context; schema and queue migrations run here
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

	// Job lifecycle events for the audit trail
	eventProducer, err := producers.NewJobEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize job event producer", "error", err)
		os.Exit(1)
	}

	// Insert-only queue client: the gateway enqueues, the job processor works
	riverClient, err := queue.NewClient(postgresDB.Pool(), nil, 0, log)
	if err != nil {
		log.Error("Failed to initialize queue client", "error", err)
		os.Exit(1)
	}
	workQueue := queue.NewWorkQueue(riverClient, &cfg.Queue, log)

	// Initialize repositories
	accountRepo := postgres.NewAccountRepository(log, postgresDB)
	ledgerRepo := postgres.NewLedgerRepository(log, postgresDB)
	jobRepo := postgres.NewJobRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	jobEventRepo := mongo.NewJobEventRepository(log, mongoDB.Database())

	// Credits
	creditLedger := credits.NewLedger(postgresDB, accountRepo, ledgerRepo, log)
	settler := credits.NewSettler(postgresDB, jobRepo, creditLedger, log)

	// Immediate enqueue after commit; the relay in the job processor covers failures
	dispatcher, err := outbox_relay.NewDispatcher(outboxRepo, workQueue, nil, &cfg.Outbox, &cfg.Dispatch, log)
	if err != nil {
		log.Error("Failed to initialize dispatch pool", "error", err)
		os.Exit(1)
	}

	artifacts := storage.NewGridFSStorage(func() (*gridfs.Bucket, error) {
		return mongoDB.GridFSBucket(cfg.MongoDB.ArtifactBucket)
	}, log)

	// Initialize services
	accountService := service.NewAccountService(log, postgresDB, accountRepo, creditLedger)
	jobService := service.NewJobService(log, service.JobServiceDeps{
		TxManager:  postgresDB,
		Credits:    creditLedger,
		Settler:    settler,
		Jobs:       jobRepo,
		Outbox:     outboxRepo,
		Dispatcher: dispatcher,
		Queue:      workQueue,
		Events:     eventProducer,
		Timeline:   jobEventRepo,
	})

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, api_gateway.Services{
		Accounts:  accountService,
		Jobs:      jobService,
		Artifacts: artifacts,
	})
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Stop accepting requests before the pools they use go away
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	// Let in-flight immediate enqueues finish; pending ones stay for the relay
	log.Info("Draining dispatch pool", "running", dispatcher.Running())
	dispatcher.Shutdown(cfg.Dispatch.Timeout)

	if err = eventProducer.Close(); err != nil {
		log.Error("Error closing job event producer", "error", err)
	}

	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
