package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Config holds the application configuration
type Config struct {
	TelegramToken    string `env:"TELEGRAM_BOT_TOKEN"`
	OperatorPassword string `env:"OPERATOR_PASSWORD"`
	// OperatorChatID receives configuration problem reports; zero disables them
	OperatorChatID int64 `env:"OPERATOR_CHAT_ID"`

	// Bot mode configuration
	WebhookMode   bool   `env:"WEBHOOK_MODE" envDefault:"false"` // If true, use webhook mode; if false, use polling mode
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`                 // Externally reachable base URL (required if WebhookMode is true)
	Port          int    `env:"PORT" envDefault:"8080"`

	Debug bool `env:"DEBUG" envDefault:"false"`

	Campaign Campaign

	// BroadcastAPIKey protects POST /api/broadcast when set
	BroadcastAPIKey string `env:"BROADCAST_API_KEY"`

	// Postgres configuration
	DatabaseURL      string `env:"DATABASE_URL"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	AutoMigrate      bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	UseMockDB bool `env:"USE_MOCK_DB" envDefault:"false"`

	// Redis configuration, operator sessions stay in memory when Addr is empty
	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	// ClickHouse configuration, the journal stays in memory when Host is empty
	ClickHouse struct {
		Host     string `env:"CLICKHOUSE_HOST"`
		Port     int    `env:"CLICKHOUSE_PORT" envDefault:"9000"`
		Database string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
		User     string `env:"CLICKHOUSE_USER" envDefault:"default"`
		Password string `env:"CLICKHOUSE_PASSWORD"`
		UseTLS   bool   `env:"CLICKHOUSE_USE_TLS" envDefault:"false"`
	}
}

// Campaign holds the referral campaign settings
type Campaign struct {
	// CommunityChatID is the chat checked for membership: a numeric id or an @username
	CommunityChatID          string `env:"COMMUNITY_CHAT_ID" envDefault:"@LocalCoinSwapCommunity"`
	CommunityURL             string `env:"COMMUNITY_URL" envDefault:"https://t.me/LocalCoinSwapCommunity"`
	XURL                     string `env:"X_URL" envDefault:"https://x.com/LocalCoinSwap_"`
	SignupURL                string `env:"SIGNUP_URL" envDefault:"https://localcoinswap.com"`
	MinLocalCoinSwapIDLength int    `env:"MIN_LOCALCOINSWAP_ID_LENGTH" envDefault:"3"`
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if config.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	if config.OperatorPassword == "" {
		return nil, fmt.Errorf("OPERATOR_PASSWORD is required")
	}

	if config.WebhookMode && config.PublicBaseURL == "" {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is required when WEBHOOK_MODE is true")
	}
	config.PublicBaseURL = strings.TrimRight(config.PublicBaseURL, "/")

	if !config.UseMockDB && config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when USE_MOCK_DB is not set")
	}

	if config.Campaign.MinLocalCoinSwapIDLength < 1 {
		return nil, fmt.Errorf("MIN_LOCALCOINSWAP_ID_LENGTH must be positive, got %d", config.Campaign.MinLocalCoinSwapIDLength)
	}

	if config.Campaign.CommunityChatID == "" {
		return nil, fmt.Errorf("COMMUNITY_CHAT_ID must not be empty")
	}

	return config, nil
}

// WebhookURL is the address Telegram delivers updates to in webhook mode
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + WebhookPath(c.TelegramToken)
}

// WebhookPath is the secret HTTP path updates are posted to
func WebhookPath(token string) string {
	return "/bot/" + token
}
