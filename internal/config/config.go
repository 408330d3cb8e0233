package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	RedisURL    string `env:"REDIS_URL,required"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	SessionTTLSeconds        int `env:"SESSION_TTL_SECONDS" envDefault:"300"`
	SweepIntervalSeconds     int `env:"SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	ActivationCodeLength     int `env:"ACTIVATION_CODE_LENGTH" envDefault:"6"`
	ActivationCodeTTLSeconds int `env:"ACTIVATION_CODE_TTL_SECONDS" envDefault:"300"`

	SimulationMode     bool `env:"SIMULATION_MODE" envDefault:"false"`
	AutoApproveDelayMs int  `env:"AUTO_APPROVE_DELAY_MS" envDefault:"3000"`
	AutoVerifyDelayMs  int  `env:"AUTO_VERIFY_DELAY_MS" envDefault:"2000"`

	ClientPollIntervalMs     int `env:"CLIENT_POLL_INTERVAL_MS" envDefault:"1000"`
	ClientPollTimeoutSeconds int `env:"CLIENT_POLL_TIMEOUT_SECONDS" envDefault:"300"`

	OperatorTokenHash     string `env:"OPERATOR_TOKEN_HASH"`
	OperatorWebhookSecret string `env:"OPERATOR_WEBHOOK_SECRET"`

	TelegramBotToken       string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramOperatorChatID int64  `env:"TELEGRAM_OPERATOR_CHAT_ID"`

	JournalRetentionDays int `env:"JOURNAL_RETENTION_DAYS" envDefault:"30"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) ActivationCodeTTL() time.Duration {
	return time.Duration(c.ActivationCodeTTLSeconds) * time.Second
}

func (c *Config) AutoApproveDelay() time.Duration {
	return time.Duration(c.AutoApproveDelayMs) * time.Millisecond
}

func (c *Config) AutoVerifyDelay() time.Duration {
	return time.Duration(c.AutoVerifyDelayMs) * time.Millisecond
}

func (c *Config) ClientPollInterval() time.Duration {
	return time.Duration(c.ClientPollIntervalMs) * time.Millisecond
}

func (c *Config) ClientPollTimeout() time.Duration {
	return time.Duration(c.ClientPollTimeoutSeconds) * time.Second
}

func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.JournalRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.ActivationCodeLength < 4 || c.ActivationCodeLength > 6 {
		return fmt.Errorf("ACTIVATION_CODE_LENGTH must be between 4 and 6")
	}
	if c.ActivationCodeTTLSeconds > c.SessionTTLSeconds {
		log.Warn().
			Int("activationTtl", c.ActivationCodeTTLSeconds).
			Int("sessionTtl", c.SessionTTLSeconds).
			Msg("ACTIVATION_CODE_TTL_SECONDS exceeds SESSION_TTL_SECONDS: capped to session TTL")
	}

	if c.OperatorTokenHash != "" {
		if !strings.HasPrefix(c.OperatorTokenHash, "$2a$") &&
			!strings.HasPrefix(c.OperatorTokenHash, "$2b$") &&
			!strings.HasPrefix(c.OperatorTokenHash, "$2y$") {
			return fmt.Errorf("OPERATOR_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <token>)")
		}
	}

	if c.TelegramBotToken != "" && c.TelegramOperatorChatID == 0 {
		return fmt.Errorf("TELEGRAM_OPERATOR_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	if isProduction {
		if c.SimulationMode {
			return fmt.Errorf("SIMULATION_MODE must be disabled in production")
		}
		if c.OperatorTokenHash == "" {
			return fmt.Errorf("OPERATOR_TOKEN_HASH is required in production")
		}
		if c.OperatorWebhookSecret != "" {
			if err := validateSecret("OPERATOR_WEBHOOK_SECRET", c.OperatorWebhookSecret); err != nil {
				return err
			}
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
