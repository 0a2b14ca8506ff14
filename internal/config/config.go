package config

import (
	"fmt"
	"os"

	"smsrelay/internal/errors"
	"smsrelay/internal/models"
	"smsrelay/internal/security"
	"smsrelay/internal/validation"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// LoadConfig reads configuration from the environment, or from a YAML/JSON
// file overlaid with the environment when path is set, then validates it.
func LoadConfig(path string) (*models.Config, error) {
	var cfg models.Config

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks provider credentials and numeric settings. Missing
// provider variables are reported together in one error.
func Validate(c *models.Config) error {
	var (
		label   string
		missing []string
		baseURL string
		urlKey  string
	)

	switch c.Provider {
	case models.ProviderTwilio:
		label, baseURL, urlKey = "Twilio", c.Twilio.APIBaseURL, "TWILIO_API_URL"
		missing = collectMissing(
			"TWILIO_ACCOUNT_SID", c.Twilio.AccountSID,
			"TWILIO_AUTH_TOKEN", c.Twilio.AuthToken,
			"TWILIO_PHONE_NUMBER", c.Twilio.PhoneNumber,
		)
	case models.ProviderPlivo:
		label, baseURL, urlKey = "Plivo", c.Plivo.APIBaseURL, "PLIVO_API_URL"
		missing = collectMissing(
			"PLIVO_AUTH_ID", c.Plivo.AuthID,
			"PLIVO_AUTH_TOKEN", c.Plivo.AuthToken,
			"PLIVO_PHONE_NUMBER", c.Plivo.PhoneNumber,
		)
	case models.ProviderGateway:
		label, baseURL, urlKey = "gateway", c.Gateway.BaseURL, "GATEWAY_URL"
		missing = collectMissing(
			"GATEWAY_URL", c.Gateway.BaseURL,
			"GATEWAY_PHONE_NUMBER", c.Gateway.PhoneNumber,
		)
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown SMS_PROVIDER %q (expected twilio, plivo or gateway)", c.Provider)}
	}

	if len(missing) > 0 {
		return models.ConfigError{Message: errors.NewMissingConfigError(label, missing).Message}
	}

	if err := validation.ValidateBaseURL(baseURL, urlKey); err != nil {
		return asConfigError(err)
	}
	if err := validation.ValidatePhoneNumber(c.PhoneNumber()); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid %s phone number: %s", label, asConfigError(err))}
	}

	checks := []error{
		validation.ValidateTimeout(c.Polling.IntervalSec, "POLL_INTERVAL_SEC"),
		validation.ValidateTimeout(c.Polling.TimeoutSec, "POLL_TIMEOUT_SEC"),
		validation.ValidateNumericRange(c.Polling.LookbackSec, "POLL_LOOKBACK_SEC", 0, 7*24*3600),
		validation.ValidateNumericRange(c.Polling.PageSize, "POLL_PAGE_SIZE", 1, 1000),
		validation.ValidateRetentionDays(c.RetentionDays),
		validation.ValidateNumericRange(c.Server.CleanupIntervalHours, "CLEANUP_INTERVAL_HOURS", 1, 24*30),
	}
	for _, err := range checks {
		if err != nil {
			return asConfigError(err)
		}
	}

	if c.Polling.TimeoutSec >= c.Polling.IntervalSec {
		return models.ConfigError{Message: "POLL_TIMEOUT_SEC must be less than POLL_INTERVAL_SEC"}
	}
	if c.Database.Path == "" {
		return models.ConfigError{Message: "missing database path (DB_PATH)"}
	}
	if c.Server.Port == "" {
		return models.ConfigError{Message: "missing server port (PORT)"}
	}

	return nil
}

func asConfigError(err error) error {
	if appErr, ok := errors.As(err); ok {
		return models.ConfigError{Message: appErr.Message}
	}
	return models.ConfigError{Message: err.Error()}
}

// LoadDotEnv loads variables from the given .env files (default ".env").
// Files that do not exist are skipped and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// collectMissing takes name/value pairs and returns the names with empty values.
func collectMissing(pairs ...string) []string {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, pairs[i])
		}
	}
	return missing
}
