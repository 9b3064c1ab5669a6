package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/api"
	"github.com/t77yq/schedule-console/internal/config"
	"github.com/t77yq/schedule-console/internal/monitor"
	"github.com/t77yq/schedule-console/internal/scheduler"
	"github.com/t77yq/schedule-console/internal/service"
	"github.com/t77yq/schedule-console/internal/storage"
)

func main() {
	configFile := flag.String("config", "", "path to config file (default ./config/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Open schedule storage
	store, err := storage.NewSQLiteScheduleStore(logger, cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open schedule storage", zap.Error(err))
	}
	defer store.Close()

	// Schedule events go to JetStream when enabled, otherwise to the log
	var publisher scheduler.EventPublisher = scheduler.NewLogPublisher(logger)
	if cfg.NATS.Enabled {
		nc := connectNATS(cfg, logger)
		defer nc.Close()

		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}

		jsPublisher, err := scheduler.NewJetStreamPublisher(js, logger)
		if err != nil {
			logger.Fatal("Failed to create schedule event publisher", zap.Error(err))
		}
		publisher = jsPublisher
	}

	taskStore, err := storage.NewSQLiteTaskStore(logger, store)
	if err != nil {
		logger.Fatal("Failed to open task storage", zap.Error(err))
	}

	runner := scheduler.NewCronRunner(publisher, logger)
	schedules := service.NewScheduleService(store, logger, runner)
	tasks := service.NewTaskService(taskStore, schedules, runner, logger)
	runner.UseExecutor(tasks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	existing, err := schedules.All(ctx)
	if err != nil {
		logger.Fatal("Failed to load schedules", zap.Error(err))
	}
	loaded := runner.Load(existing)
	logger.Info("Loaded stored schedules",
		zap.Int("loaded", loaded),
		zap.Int("stored", len(existing)))
	runner.Start()

	started, err := tasks.StartEnabled(ctx)
	if err != nil {
		logger.Fatal("Failed to start enabled tasks", zap.Error(err))
	}
	logger.Info("Started enabled tasks", zap.Int("started", started))

	if cfg.Storage.RunRetention > 0 {
		go pruneRuns(ctx, tasks, cfg.Storage.RunRetention, logger)
	}

	health := monitor.NewHealthReporter(runner, cfg.Server.HealthInterval, logger)
	health.Start(ctx)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(&api.Handler{
		Service: schedules,
		Tasks:   tasks,
		Health:  health,
		Logger:  logger.Named("api"),
	}, cfg.Server.ContextPath)

	server := api.NewServer(cfg.Server.Addr(), router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, logger)
	serverErr := server.Start()

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}
	cancel()
	health.Stop()
	runner.Stop()

	logger.Info("Server shutting down gracefully")
}

// pruneRuns deletes task runs older than retention now and then hourly
func pruneRuns(ctx context.Context, tasks *service.TaskService, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		deleted, err := tasks.PruneRuns(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Error("Failed to prune task runs", zap.Error(err))
		} else if deleted > 0 {
			logger.Info("Pruned task runs", zap.Int64("deleted", deleted))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// connectNATS connects with retry, exiting when every attempt fails
func connectNATS(cfg *config.Config, logger *zap.Logger) *nats.Conn {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc
}
