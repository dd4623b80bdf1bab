package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"beam/internal/constants"
	"beam/internal/models"
	"beam/internal/security"
	"beam/internal/validation"
)

var (
	ErrMissingAPIBaseURL = models.ConfigError{Message: "missing relay API base URL"}
	ErrMissingPublicURL  = models.ConfigError{Message: "missing public URL for the push endpoint"}
)

// LoadReceiverConfig reads the receiver's JSON config, applies BEAM_*
// environment overrides and defaults, and validates the result
func LoadReceiverConfig(path string) (*models.ReceiverConfig, error) {
	var config models.ReceiverConfig

	if path != "" {
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

	applyReceiverEnvironment(&config)
	applyReceiverDefaults(&config)

	if err := validateReceiver(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyReceiverEnvironment(c *models.ReceiverConfig) {
	if v := os.Getenv("BEAM_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("BEAM_DEVICE_NAME"); v != "" {
		c.DeviceName = v
	}
	if v := os.Getenv("BEAM_AUTO_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoOpen = &b
		}
	}
	if v := os.Getenv("BEAM_RECEIVER_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("BEAM_RECEIVER_PUBLIC_URL"); v != "" {
		c.PublicURL = v
	}
	if v := os.Getenv("BEAM_RECEIVER_STATE"); v != "" {
		c.StatePath = v
	}
	if v := os.Getenv("BEAM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func applyReceiverDefaults(c *models.ReceiverConfig) {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.PublicURL = strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
	c.DeviceName = strings.TrimSpace(c.DeviceName)

	if c.DeviceName == "" {
		c.DeviceName = constants.DefaultReceiverDeviceName
	}
	if c.ListenAddr == "" {
		c.ListenAddr = constants.DefaultReceiverListenAddr
	}
	if c.StatePath == "" {
		c.StatePath = constants.DefaultReceiverStatePath
	}
	if c.CatchUpIntervalSec <= 0 {
		c.CatchUpIntervalSec = int(constants.DefaultCatchUpInterval.Seconds())
	}
	if c.HTTPTimeoutSec <= 0 {
		c.HTTPTimeoutSec = constants.DefaultReceiverHTTPTimeoutSec
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validateReceiver(c *models.ReceiverConfig) error {
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if err := validation.ValidateHTTPURL(c.APIBaseURL); err != nil {
		return fmt.Errorf("invalid apiBaseUrl: %w", err)
	}
	if c.PublicURL == "" {
		return ErrMissingPublicURL
	}
	if err := validation.ValidateHTTPURL(c.PublicURL); err != nil {
		return fmt.Errorf("invalid publicUrl: %w", err)
	}
	if u, _ := url.Parse(c.PublicURL); u != nil && u.RawQuery != "" {
		return models.ConfigError{Message: "publicUrl must not carry a query string"}
	}
	if err := validation.ValidateNumericRange(c.CatchUpIntervalSec, "catchUpIntervalSec", 10, 86400); err != nil {
		return err
	}
	if err := validation.ValidateTimeout(c.HTTPTimeoutSec, "httpTimeoutSec"); err != nil {
		return err
	}
	return nil
}
