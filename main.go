package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"mysql-livefeed/internal/hub"
	natsrelay "mysql-livefeed/internal/nats"
	"mysql-livefeed/internal/processor"
	"mysql-livefeed/internal/store"
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Set log level from config
	if level, err := logrus.ParseLevel(config.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Info("Starting MySQL live feed service...")

	// Open database connection
	db, err := sql.Open("mysql", config.MySQL.DSN())
	if err != nil {
		logger.Fatalf("Failed to open MySQL connection: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Validate connectivity, privileges and capture schema
	checker := NewMySQLChecker(db, config.MySQL.Database, config.ChangeLog.Table, config.Entities.Table, logger)
	if err := checker.Check(); err != nil {
		logger.Fatalf("MySQL check failed: %v", err)
	}

	// Stores
	changeLog := store.NewChangeLog(db, config.ChangeLog.Table, time.Duration(config.MySQL.QueryTimeout), logger)
	entities := store.NewEntities(db, config.Entities.Table, time.Duration(config.MySQL.QueryTimeout), logger)

	// WebSocket fan-out
	broadcaster := hub.NewHub(entities, config.Server.SendBuffer, time.Duration(config.Server.WriteTimeout), logger)

	// Event sinks: the hub always, NATS relay when enabled
	sinks := []processor.Sink{broadcaster}
	if config.NATS.Enabled {
		relay, err := natsrelay.NewPublisher(
			config.NATS.URL,
			config.NATS.Subject,
			config.NATS.MaxReconnect,
			time.Duration(config.NATS.ReconnectWait),
			logger,
		)
		if err != nil {
			logger.Fatalf("Failed to create NATS relay: %v", err)
		}
		defer relay.Close()
		sinks = append(sinks, relay)
	}

	// Change poller
	poller := processor.NewProcessor(changeLog, sinks, processor.Options{
		PollInterval:     time.Duration(config.ChangeLog.PollInterval),
		BatchSize:        config.ChangeLog.BatchSize,
		RetentionKeep:    config.Retention.Keep,
		SweepProbability: config.Retention.SweepProbability,
	}, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The cursor must recover from the store before anything is served.
	if err := poller.Init(ctx); err != nil {
		logger.Fatalf("Failed to initialize cursor: %v", err)
	}

	// HTTP server for subscriber connections
	mux := http.NewServeMux()
	mux.HandleFunc(config.Server.WSPath, broadcaster.ServeWS)
	server := &http.Server{
		Addr:    config.Server.Addr,
		Handler: mux,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		logger.Infof("Listening for subscribers on %s%s", config.Server.Addr, config.Server.WSPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	go func() {
		errChan <- poller.Start(ctx)
	}()

	// Wait for signal or error
	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
	case err := <-errChan:
		if err != nil {
			logger.Errorf("Pipeline error: %v", err)
		}
	}

	// Stop scheduling ticks, let an in-flight tick finish, then tear down the
	// subscriber surface.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP shutdown: %v", err)
	}
	broadcaster.Close()

	logger.Info("MySQL live feed service stopped")
}
