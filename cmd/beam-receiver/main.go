package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beam/internal/config"
	"beam/internal/constants"
	"beam/internal/database"
	"beam/internal/models"
	"beam/internal/receiver"
	"beam/pkg/beamclient/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	Version = "dev"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes full URLs)")
	configPath = flag.String("config", "", "Path to receiver configuration file (optional)")
	envFile    = flag.String("env-file", ".env", "Path to an optional .env file")
	rotateKey  = flag.Bool("rotate-key", false, "Rotate the inbox key, print the new pairing and exit")
	showPair   = flag.Bool("pairing", false, "Print the pairing JSON and exit")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Beam receiver %s\n", Version)
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
		logrus.Fatalf("Receiver error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadReceiverConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	state, err := database.New(ctx, cfg.StatePath, os.Getenv("BEAM_ENCRYPTION_SECRET"))
	if err != nil {
		return fmt.Errorf("failed to open receiver state: %w", err)
	}
	defer state.Close()
	store := receiver.NewKVStorage(state)

	if err := saveSettings(ctx, store, cfg); err != nil {
		return err
	}

	keys, err := loadOrCreatePushKeys(ctx, store)
	if err != nil {
		return err
	}
	endpoint := cfg.PublicURL + constants.ReceiverPushPath

	clients := receiver.NewClientFactory(&http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second}, logger)
	registrar := receiver.NewRegistrar(store, clients, func(ctx context.Context) (*types.Subscription, error) {
		return keys.subscription(endpoint), nil
	}, logger)

	runtime := receiver.NewRuntime(receiver.Deps{
		Storage:   store,
		Inbox:     receiver.NewAPIInbox(clients, logger),
		Tabs:      newBrowserTabs(),
		Notifier:  logNotifier{logger: logger},
		Registrar: registrar,
		Logger:    logger,
	})
	runtime.Reset()

	if *rotateKey {
		if _, err := registrar.RotateKey(ctx, cfg.DeviceName); err != nil {
			return err
		}
		return printPairing(ctx, store)
	}

	reg, err := runtime.HandleInstall(ctx)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	logger.WithField("device_id", reg.DeviceID).Info("Receiver registered")

	if *showPair {
		return printPairing(ctx, store)
	}

	push := newPushEndpoint(ctx, keys, runtime.HandlePush, logger)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           push.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     cfg.ListenAddr,
			"endpoint": endpoint,
		}).Info("Push endpoint listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	catchUp := func(ctx context.Context, name string) {
		if err := runtime.HandleStartup(ctx); err != nil {
			logger.WithError(err).WithField("alarm", name).Warn("Catch-up failed")
		}
	}
	catchUp(ctx, "startup")

	tickers := receiver.NewTickerAlarms(ctx, catchUp)
	receiver.NewAlarms(tickers).ScheduleCatchUp(time.Duration(cfg.CatchUpIntervalSec) * time.Second)

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		return fmt.Errorf("push endpoint error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Push endpoint shutdown failed")
	}
	push.Wait()
	tickers.Wait()

	logger.Info("Receiver stopped")
	return nil
}

// saveSettings mirrors the file configuration into the runtime's storage keys
func saveSettings(ctx context.Context, store receiver.Storage, cfg *models.ReceiverConfig) error {
	if err := store.Set(ctx, receiver.KeyConfig, receiver.Config{
		APIBaseURL: cfg.APIBaseURL,
		DeviceName: cfg.DeviceName,
	}); err != nil {
		return fmt.Errorf("failed to save %s: %w", receiver.KeyConfig, err)
	}
	if err := store.Set(ctx, receiver.KeySettings, receiver.Settings{AutoOpen: cfg.AutoOpen}); err != nil {
		return fmt.Errorf("failed to save %s: %w", receiver.KeySettings, err)
	}
	return nil
}

// pairing is what a sender needs to reach this device
type pairing struct {
	Name     string `json:"name"`
	DeviceID string `json:"deviceId"`
	InboxKey string `json:"inboxKey"`
	API      string `json:"api"`
}

func printPairing(ctx context.Context, store receiver.Storage) error {
	raw, err := store.Get(ctx, receiver.KeyDevice)
	if err != nil {
		return err
	}
	var device receiver.Device
	if len(raw) == 0 || json.Unmarshal(raw, &device) != nil || device.DeviceID == "" {
		return receiver.ErrNotRegistered
	}

	out, err := json.MarshalIndent(pairing{
		Name:     device.Name,
		DeviceID: device.DeviceID,
		InboxKey: device.InboxKey,
		API:      device.APIBaseURL,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
