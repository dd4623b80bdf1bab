package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"beam/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}

const watcherConfig = `{
	"storage": {"backend": "memory", "retentionDays": 7},
	"rateLimit": {"enqueueLimit": 30},
	"log_level": "info"
}`

func TestNewConfigWatcher(t *testing.T) {
	logger := logrus.New()
	configPath := "/path/to/config.json"

	watcher := NewConfigWatcher(configPath, logger)

	assert.NotNil(t, watcher)
	assert.Equal(t, configPath, watcher.configPath)
	assert.Equal(t, logger, watcher.logger)
	assert.Equal(t, defaultPollInterval, watcher.pollInterval)
	assert.Len(t, watcher.callbacks, 0)
}

func TestConfigWatcher_Start_InvalidPath(t *testing.T) {
	clearEnv(t)
	watcher := NewConfigWatcher("/nonexistent/config.json", logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, watcher.Start(ctx))
}

func TestConfigWatcher_Start_ValidConfig(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, watcherConfig)

	watcher := NewConfigWatcher(configPath, logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// returns once the context is cancelled
	assert.NoError(t, watcher.Start(ctx))

	config := watcher.GetConfig()
	require.NotNil(t, config)
	assert.Equal(t, BackendMemory, config.Storage.Backend)
}

func TestConfigWatcher_Start_PicksUpChange(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, watcherConfig)

	watcher := NewConfigWatcher(configPath, logrus.New())
	watcher.pollInterval = 20 * time.Millisecond

	changed := make(chan *models.Config, 1)
	watcher.OnConfigChange(func(c *models.Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Start(ctx) }()

	require.Eventually(t, func() bool { return watcher.GetConfig() != nil }, time.Second, 10*time.Millisecond)

	updated := strings.Replace(watcherConfig, `"enqueueLimit": 30`, `"enqueueLimit": 5`, 1)
	require.NoError(t, os.WriteFile(configPath, []byte(updated), 0600))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(configPath, future, future))

	select {
	case c := <-changed:
		assert.Equal(t, 5, c.RateLimit.EnqueueLimit)
	case <-time.After(3 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestConfigWatcher_ReloadConfig_FileChanged(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, watcherConfig)

	var logOutput strings.Builder
	logger := logrus.New()
	logger.SetOutput(&logOutput)

	watcher := NewConfigWatcher(configPath, logger)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	watcher.mu.Lock()
	watcher.config = config
	watcher.mu.Unlock()

	var mu sync.Mutex
	var newConfig *models.Config
	watcher.OnConfigChange(func(config *models.Config) {
		mu.Lock()
		defer mu.Unlock()
		newConfig = config
	})

	updated := strings.Replace(watcherConfig, `"retentionDays": 7`, `"retentionDays": 14`, 1)
	require.NoError(t, os.WriteFile(configPath, []byte(updated), 0600))

	watcher.reloadConfig()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return newConfig != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 14, newConfig.Storage.RetentionDays)
	mu.Unlock()
	assert.Equal(t, 14, watcher.GetConfig().Storage.RetentionDays)
	assert.Contains(t, logOutput.String(), "Configuration reloaded successfully")
}

func TestConfigWatcher_ReloadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, watcherConfig)

	var logOutput strings.Builder
	logger := logrus.New()
	logger.SetOutput(&logOutput)

	watcher := NewConfigWatcher(configPath, logger)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	watcher.mu.Lock()
	watcher.config = config
	watcher.mu.Unlock()

	require.NoError(t, os.WriteFile(configPath, []byte(`invalid json`), 0600))

	watcher.reloadConfig()

	assert.Contains(t, logOutput.String(), "Failed to reload configuration")
	assert.Equal(t, config, watcher.GetConfig())
}

func TestConfigWatcher_CallbackPanic(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, watcherConfig)

	var logMu sync.Mutex
	var logOutput strings.Builder

	safeWriter := struct {
		io.Writer
	}{
		Writer: writerFunc(func(p []byte) (int, error) {
			logMu.Lock()
			defer logMu.Unlock()
			return logOutput.Write(p)
		}),
	}

	logger := logrus.New()
	logger.SetOutput(safeWriter)

	watcher := NewConfigWatcher(configPath, logger)
	watcher.OnConfigChange(func(config *models.Config) {
		panic("test panic")
	})

	watcher.reloadConfig()

	assert.Eventually(t, func() bool {
		logMu.Lock()
		defer logMu.Unlock()
		return strings.Contains(logOutput.String(), "Config change callback panicked")
	}, time.Second, 5*time.Millisecond)
}

func TestConfigWatcher_LogConfigChanges(t *testing.T) {
	var logOutput strings.Builder
	logger := logrus.New()
	logger.SetOutput(&logOutput)

	watcher := NewConfigWatcher(filepath.Join("config", "beam.json"), logger)

	oldConfig := Defaults()
	newConfig := Defaults()
	newConfig.Storage.RetentionDays = 14
	newConfig.Server.PurgeIntervalHours = 12
	newConfig.RateLimit.EnqueueLimit = 5
	newConfig.LogLevel = "debug"

	watcher.logConfigChanges(oldConfig, newConfig)

	logStr := logOutput.String()
	assert.Contains(t, logStr, "Retention days changed")
	assert.Contains(t, logStr, "Purge interval changed")
	assert.Contains(t, logStr, "Enqueue rate limit changed")
	assert.Contains(t, logStr, "Log level changed")
}

func TestConfigWatcher_LogConfigChanges_NilOldConfig(t *testing.T) {
	var logOutput strings.Builder
	logger := logrus.New()
	logger.SetOutput(&logOutput)

	watcher := NewConfigWatcher("/path/to/config.json", logger)

	watcher.logConfigChanges(nil, Defaults())

	assert.Equal(t, "", logOutput.String())
}
