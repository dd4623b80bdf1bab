package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"beam/internal/constants"
	"beam/internal/models"
	"beam/internal/security"
	"beam/internal/validation"
)

var (
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingRedisAddr   = models.ConfigError{Message: "missing redis address"}
	ErrMissingDatabaseURL = models.ConfigError{Message: "missing postgres database URL"}
	ErrUnknownBackend     = models.ConfigError{Message: "storage backend must be one of sqlite, redis, postgres, memory"}
)

// Storage backends
const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// LoadConfig reads a JSON config file. An empty path starts from defaults
// so the server can run from environment variables alone.
func LoadConfig(path string) (*models.Config, error) {
	var config models.Config

	if path != "" {
		// Validate config file path to prevent directory traversal
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}

		file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(file, &config); err != nil {
			return nil, err
		}
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Defaults returns a fully defaulted configuration
func Defaults() *models.Config {
	var config models.Config
	applyDefaults(&config)
	return &config
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = constants.DefaultMaxBodyBytes
	}
	if c.Server.PurgeIntervalHours <= 0 {
		c.Server.PurgeIntervalHours = constants.DefaultPurgeIntervalHours
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = constants.DefaultStorageBackend
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.Path == "" {
		c.Storage.Path = constants.DefaultDatabasePath
	}
	if c.Storage.RetentionDays <= 0 {
		c.Storage.RetentionDays = constants.DefaultPendingRetentionDays
	}

	if c.RateLimit.EnqueueLimit <= 0 {
		c.RateLimit.EnqueueLimit = constants.DefaultEnqueueRateLimit
	}
	if c.RateLimit.EnqueueWindowSeconds <= 0 {
		c.RateLimit.EnqueueWindowSeconds = constants.DefaultEnqueueWindowSeconds
	}

	if c.Push.VAPIDSubject == "" {
		c.Push.VAPIDSubject = constants.DefaultVAPIDSubject
	}
	if c.Push.TTLSeconds <= 0 {
		c.Push.TTLSeconds = constants.DefaultPushTTLSeconds
	}
	if c.Push.Urgency == "" {
		c.Push.Urgency = constants.DefaultPushUrgency
	}
	if c.Push.HTTPTimeoutSec <= 0 {
		c.Push.HTTPTimeoutSec = constants.DefaultPushHTTPTimeoutSec
	}
	if c.Push.BreakerMaxFailures <= 0 {
		c.Push.BreakerMaxFailures = constants.DefaultPushBreakerFailures
	}
	if c.Push.BreakerTimeoutSec <= 0 {
		c.Push.BreakerTimeoutSec = constants.DefaultPushBreakerTimeoutSec
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = constants.ServiceName
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			return ErrMissingDBPath
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return ErrMissingRedisAddr
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	case BackendMemory:
	default:
		return ErrUnknownBackend
	}

	if err := validation.ValidateNumericRange(c.Server.Port, "server port", 1, 65535); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	for name, v := range map[string]int{
		"read timeout":      c.Server.ReadTimeoutSec,
		"write timeout":     c.Server.WriteTimeoutSec,
		"idle timeout":      c.Server.IdleTimeoutSec,
		"push HTTP timeout": c.Push.HTTPTimeoutSec,
	} {
		if err := validation.ValidateTimeout(v, name); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	if err := validation.ValidateRetentionDays(c.Storage.RetentionDays); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateNumericRange(c.RateLimit.EnqueueLimit, "enqueue rate limit", 1, 10000); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	switch c.Push.Urgency {
	case "very-low", "low", "normal", "high":
	default:
		return models.ConfigError{Message: fmt.Sprintf("invalid push urgency %q", c.Push.Urgency)}
	}

	if c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample rate must be between 0 and 1"}
	}

	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return models.ConfigError{Message: "VAPID public and private keys must be set together"}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("BEAM_TRUST_PROXY_HEADERS"); v != "" {
		c.Server.TrustProxyHeaders = parseBool(v)
	}

	if backend := os.Getenv("BEAM_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Storage.Path = path
	}
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		c.Storage.RedisAddr = addr
	}
	// SECURITY: credentials should be set via environment variables
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Storage.RedisPassword = pw
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DatabaseURL = dsn
	}
	if v := os.Getenv("BEAM_ENABLE_ENCRYPTION"); v != "" {
		c.Storage.EncryptAtRest = parseBool(v)
	}
	if secret := os.Getenv("BEAM_ENCRYPTION_SECRET"); secret != "" {
		c.Storage.EncryptionSecret = secret
	}

	if pub := os.Getenv("VAPID_PUBLIC_KEY"); pub != "" {
		c.Push.VAPIDPublicKey = pub
	}
	if priv := os.Getenv("VAPID_PRIVATE_KEY"); priv != "" {
		c.Push.VAPIDPrivateKey = priv
	}
	if subject := os.Getenv("VAPID_SUBJECT"); subject != "" {
		c.Push.VAPIDSubject = subject
	}
	if c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != "" {
		c.Push.Enabled = true
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
		c.Tracing.Enabled = true
	}
	if env := os.Getenv("BEAM_ENV"); env != "" {
		c.Tracing.Environment = env
	}
	if level := os.Getenv("BEAM_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	// Check if we're in production mode
	isProduction := os.Getenv("BEAM_ENV") == "production"

	if c.Storage.EncryptAtRest && c.Storage.Backend == BackendSQLite {
		if c.Storage.EncryptionSecret == "" {
			return models.ConfigError{Message: "encryption secret is required when encryption is enabled (set BEAM_ENCRYPTION_SECRET environment variable)"}
		}
		if len(c.Storage.EncryptionSecret) < 32 {
			return models.ConfigError{Message: "encryption secret must be at least 32 characters long"}
		}
	}

	if isProduction {
		if c.Push.VAPIDPublicKey == "" || c.Push.VAPIDPrivateKey == "" {
			return models.ConfigError{Message: "VAPID keys are required in production (set VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY environment variables)"}
		}

		// Warn about debug logging in production
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Push.VAPIDPublicKey == "" {
		fmt.Fprintf(os.Stderr, "WARNING: VAPID keys not set. Push delivery is disabled; receivers will rely on catch-up.\n")
	}

	return nil
}
