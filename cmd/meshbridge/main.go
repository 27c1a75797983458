package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshbridge/internal/config"
	"meshbridge/internal/constants"
	"meshbridge/internal/database"
	"meshbridge/internal/mesh"
	"meshbridge/internal/metrics"
	"meshbridge/internal/models"
	"meshbridge/internal/monitor"
	"meshbridge/internal/retry"
	"meshbridge/internal/service"
	"meshbridge/internal/tracing"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message content and unmasked IDs)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("meshbridge %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
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
	}).Info("Starting meshbridge")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.TracingShutdownTimeout)
		defer cancel()
		if err := tracingManager.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	var transport mesh.Transport
	if cfg.Messaging.IsMeshEnabled() {
		transport = mesh.NewRelayTransport(cfg.Mesh, cfg.Retry, logger)
	} else {
		logger.Info("Mesh delivery disabled; running store-only")
	}

	provider := newStoreProvider(cfg.Network, db, logger)
	provider.Start(ctx)
	defer provider.Stop()

	registry := metrics.GetRegistry()
	svc := service.New(cfg.Messaging, db, transport, provider, service.SenderFromContext, logger, registry)
	svc.RegisterMessageHandler(models.MessageTypeDirect, func(ctx context.Context, msg *models.UnifiedMessage) {
		service.LogMessage(ctx, logger, "incoming", msg).Info("Inbound mesh message delivered")
	})

	initCtx := service.WithVerbose(ctx, *verbose)
	if err := svc.Initialize(initCtx); err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}

	watcher := config.NewConfigWatcher(*configPath, 0, logger)
	watcher.OnConfigChange(func(c *models.Config) {
		applyLogLevel(logger, c.LogLevel, *verbose)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg.Server, svc, db, registry, logger, *verbose)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
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

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to shutdown server gracefully")
	}
	if err := svc.Disconnect(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to disconnect messaging service")
	}

	logger.Info("Shutdown completed")
	return runErr
}

// applyLogLevel sets the configured level. Debug and trace need -verbose;
// without it they are clamped to info.
func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	if parsed > logrus.InfoLevel {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// openDatabase opens the store with exponential backoff.
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoffConfig := retry.FromConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts

	var db *database.Database
	err := retry.NewBackoff(backoffConfig).Retry(ctx, func() error {
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

// newStoreProvider probes the configured health URL, or pings the local
// database when none is set.
func newStoreProvider(cfg models.NetworkConfig, db *database.Database, logger *logrus.Logger) *monitor.ProbeProvider {
	interval := time.Duration(cfg.ProbeIntervalSec) * time.Second
	timeout := time.Duration(cfg.ProbeTimeoutSec) * time.Second
	if cfg.StoreHealthURL != "" {
		logger.WithField("url", cfg.StoreHealthURL).Info("Probing store health endpoint")
		return monitor.NewHTTPProbeProvider(cfg.StoreHealthURL, interval, timeout, logger)
	}
	return monitor.NewProbeProvider(db.Ping, interval, timeout, logger)
}
