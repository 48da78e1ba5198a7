package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tinko_recovery/internal/models"
)

// Config is everything the service reads at startup. It is immutable afterwards.
type Config struct {
	Env         string
	Port        string
	AppURL      string
	DatabaseURL string
	RedisURL    string

	Policy   Policy
	Channels ChannelsConfig

	// Requests per minute allowed per client on the merchant API.
	APIRateLimit int
}

// ChannelsConfig holds provider credentials for the channel senders.
type ChannelsConfig struct {
	DryRun bool

	WahaBaseURL string
	WahaAPIKey  string
	WahaSession string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string
}

// Load builds the configuration from the environment. When RECOVERY_CONFIG points
// to a YAML file the recovery policy is read from there instead of the env vars.
func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		AppURL:      getEnv("APP_URL", "http://localhost:8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Channels: ChannelsConfig{
			DryRun:           getEnv("CHANNEL_DRY_RUN", "false") == "true",
			WahaBaseURL:      getEnv("WAHA_BASE_URL", "http://waha:3000"),
			WahaAPIKey:       os.Getenv("WAHA_API_KEY"),
			WahaSession:      getEnv("WAHA_SESSION", "default"),
			TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
			SMTPHost:         os.Getenv("SMTP_HOST"),
			SMTPPort:         os.Getenv("SMTP_PORT"),
			SMTPUser:         os.Getenv("SMTP_USER"),
			SMTPPass:         os.Getenv("SMTP_PASS"),
			SMTPFrom:         os.Getenv("EMAIL_FROM"),
		},
	}

	var err error
	if cfg.APIRateLimit, err = getEnvInt("API_RATE_LIMIT", 100); err != nil {
		return nil, err
	}

	if path := os.Getenv("RECOVERY_CONFIG"); path != "" {
		cfg.Policy, err = LoadPolicyFile(path)
	} else {
		cfg.Policy, err = policyFromEnv()
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func policyFromEnv() (Policy, error) {
	p := DefaultPolicy()

	defaultChannel, err := models.ParseChannel(getEnv("DEFAULT_CHANNEL", string(models.ChannelWhatsapp)))
	if err != nil {
		return Policy{}, fmt.Errorf("DEFAULT_CHANNEL: %w", err)
	}

	if raw := os.Getenv("RECOVERY_SCHEDULE"); raw != "" {
		if p.Steps, err = ParseSchedule(raw, defaultChannel); err != nil {
			return Policy{}, fmt.Errorf("RECOVERY_SCHEDULE: %w", err)
		}
	} else if os.Getenv("DEFAULT_CHANNEL") != "" {
		// A single channel for the built-in cadence.
		for i := range p.Steps {
			p.Steps[i].Channel = defaultChannel
		}
	}

	if p.MaxAttempts, err = getEnvInt("MAX_RECOVERY_ATTEMPTS", len(p.Steps)); err != nil {
		return Policy{}, err
	}
	if raw := os.Getenv("CLAIM_TTL"); raw != "" {
		if p.ClaimTTL, err = ParseDelay(raw); err != nil {
			return Policy{}, fmt.Errorf("CLAIM_TTL: %w", err)
		}
	}
	if raw := os.Getenv("ARM_HORIZON"); raw != "" {
		if p.ArmHorizon, err = ParseDelay(raw); err != nil {
			return Policy{}, fmt.Errorf("ARM_HORIZON: %w", err)
		}
	}
	if p.SweepConcurrency, err = getEnvInt("SWEEP_CONCURRENCY", p.SweepConcurrency); err != nil {
		return Policy{}, err
	}
	p.SweepRRule = getEnv("SWEEP_RRULE", p.SweepRRule)
	p.MessageTemplate = getEnv("MESSAGE_TEMPLATE", p.MessageTemplate)
	p.RetryLinkBase = os.Getenv("RETRY_LINK_BASE")

	return p, p.Validate()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return n, nil
}

// ParseDelay accepts Go durations plus a trailing "d" for days ("15m", "2h", "1d").
func ParseDelay(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid delay %q", s)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", s)
	}
	return d, nil
}
