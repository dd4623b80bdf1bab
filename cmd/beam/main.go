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

	"beam/internal/config"
	"beam/internal/constants"
	"beam/internal/models"
	"beam/internal/ratelimit"
	"beam/internal/service"
	"beam/internal/storage"
	"beam/internal/tracing"
	"beam/pkg/circuitbreaker"
	"beam/pkg/webpush"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes full URLs)")
	configPath = flag.String("config", "", "Path to configuration file (optional)")
	envFile    = flag.String("env-file", ".env", "Path to an optional .env file")
	watch      = flag.Bool("watch-config", false, "Reload rate limit and log level when the config file changes")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Beam %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("Failed to load %s: %v", *envFile, err)
		}
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
	}).Info("Starting Beam")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - full URLs will be logged")
	} else {
		applyLogLevel(logger, cfg.LogLevel)
	}

	// Initialize OpenTelemetry tracing
	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.kv.Close()
	logger.WithField("backend", b.name).Info("Storage backend ready")

	retention := time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour
	store := storage.NewStore(b.kv, retention)

	sender, vapidKey, err := newPushSender(cfg.Push)
	if err != nil {
		return fmt.Errorf("invalid push configuration: %w", err)
	}
	breakers := circuitbreaker.NewGroup(
		uint32(cfg.Push.BreakerMaxFailures),
		time.Duration(cfg.Push.BreakerTimeoutSec)*time.Second,
		circuitbreaker.WithLogger(logger),
	)
	dispatcher := service.NewPushDispatcher(sender, breakers, logger)

	devices := service.NewDeviceService(store, logger)
	inbox := service.NewInboxService(devices, store, ratelimit.New(b.kv), dispatcher, service.InboxConfig{
		RateLimit:     cfg.RateLimit.EnqueueLimit,
		RateWindow:    time.Duration(cfg.RateLimit.EnqueueWindowSeconds) * time.Second,
		Retention:     retention,
		DispatchAfter: time.Duration(cfg.Push.HTTPTimeoutSec) * time.Second,
	}, logger)

	scheduler := service.NewScheduler(inbox, b.sweeper, cfg.Server.PurgeIntervalHours, logger)
	go scheduler.Start(ctx)

	if *watch && *configPath != "" {
		watcher := config.NewConfigWatcher(*configPath, logger)
		watcher.OnConfigChange(func(c *models.Config) {
			inbox.SetRateLimit(c.RateLimit.EnqueueLimit, time.Duration(c.RateLimit.EnqueueWindowSeconds)*time.Second)
			if !*verbose {
				applyLogLevel(logger, c.LogLevel)
			}
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	server := NewServer(cfg, devices, inbox, vapidKey, *verbose, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	inbox.Wait()

	logger.Info("Server shutdown completed")
	return nil
}

func applyLogLevel(logger *logrus.Logger, name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", name)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// newPushSender returns a nil sender when no VAPID keys are configured
func newPushSender(cfg models.PushConfig) (service.PushSender, string, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, "", nil
	}

	keys, err := webpush.ParseVAPIDKeys(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	if err != nil {
		return nil, "", err
	}

	sender := webpush.NewSender(keys, cfg.VAPIDSubject,
		webpush.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second}),
		webpush.WithTTL(time.Duration(cfg.TTLSeconds)*time.Second),
		webpush.WithUrgency(cfg.Urgency),
		webpush.WithTokenTTL(constants.DefaultVAPIDTokenTTL),
	)
	return sender, keys.PublicKey, nil
}
