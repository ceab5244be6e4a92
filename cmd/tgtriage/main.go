package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tgtriage/internal/config"
	"tgtriage/internal/constants"
	"tgtriage/internal/database"
	"tgtriage/internal/hub"
	"tgtriage/internal/models"
	"tgtriage/internal/queue"
	"tgtriage/internal/retry"
	"tgtriage/internal/service"
	"tgtriage/internal/tracing"
	"tgtriage/pkg/telegram"
	"tgtriage/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message text)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("tgtriage %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting tgtriage")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	client := telegram.NewClient(clientConfig(cfg), &http.Client{}, logger)

	// queue and subscriber state live for exactly as long as this process
	queues := queue.NewStore()
	broadcast := hub.New(cfg.Hub.SubscriberBuffer, logger)
	defer broadcast.Close()

	registry := service.NewRegistry(client, cfg.Telegram.DefaultSession, logger)
	inbound := service.NewRouter(queues, broadcast, logger)
	triage := service.NewTriageService(registry, queues, db, logger)
	triage.Reconciler().WithLimit(cfg.Queue.ReconcileDialogLimit)

	ctxWithVerbose := service.WithVerbose(ctx, *verbose)

	poller := service.NewUpdatePoller(registry, inbound, cfg.Gateway, cfg.Retry, logger)
	if err := poller.Start(ctxWithVerbose); err != nil {
		logger.Warnf("Failed to start update poller: %v", err)
	}
	if !poller.IsRunning() {
		logger.Info("Inbound messages will only arrive through /webhook/telegram")
	}
	// the default account is watched from the start so inbound messages queue up
	// before the operator opens the UI
	if _, err := registry.GetOrCreate(""); err != nil {
		logger.Warnf("Failed to open default session: %v", err)
	}

	scheduler := service.NewScheduler(db, triage.Reconciler(), registry,
		cfg.Server.LoginTTLHours, cfg.Server.CleanupIntervalHr, cfg.Queue.ReconcileIntervalSec, logger)
	go scheduler.Start(ctxWithVerbose)

	server := NewServer(cfg, triage, inbound, broadcast, db, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErrCh:
		logger.Error(runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	poller.Stop()
	scheduler.Stop()
	registry.CloseAll(shutdownCtx)

	logger.Info("Server shutdown completed")
	return runErr
}

// configureLogLevel applies the configured level. Debug output carries message
// text, so it needs the -verbose flag; the config file alone caps at info.
func configureLogLevel(logger *logrus.Logger, configured string, verboseFlag bool) {
	if verboseFlag {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - message text will be logged")
		return
	}
	if configured == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// openDatabase opens the sign-in challenge store with exponential backoff
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoffConfig := retry.DefaultBackoffConfig()
	backoffConfig.InitialDelay = time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond
	backoffConfig.MaxDelay = time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	backoff := retry.NewBackoff(backoffConfig)

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

func clientConfig(cfg *models.Config) telegram.ClientConfig {
	cc := telegram.ClientConfig{
		BaseURL:         cfg.Gateway.BaseURL,
		APIKey:          cfg.Gateway.APIKey,
		Timeout:         time.Duration(cfg.Gateway.TimeoutSec) * time.Second,
		APIID:           cfg.Telegram.APIID,
		APIHash:         cfg.Telegram.APIHash,
		SessionDir:      cfg.Telegram.SessionDir,
		BreakerFailures: uint32(cfg.Gateway.CircuitBreakerFailures),
		BreakerTimeout:  time.Duration(cfg.Gateway.CircuitBreakerTimeout) * time.Second,
	}
	if p := cfg.Telegram.Proxy; p.Enabled() {
		cc.Proxy = &types.ProxySettings{
			Scheme:   p.Scheme,
			Hostname: p.Host,
			Port:     p.Port,
			Username: p.Username,
			Password: p.Password,
		}
	}
	return cc
}
