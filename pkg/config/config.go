package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the process configuration, populated from the environment.
// A .env file in the working directory is applied first without overriding
// variables already set.
type Config struct {
	BotToken string `env:"TELEPAGE_BOT_TOKEN"`

	DataDir      string `env:"TELEPAGE_DATA_DIR" envDefault:"data"`
	StoreBackend string `env:"TELEPAGE_STORE" envDefault:"file"` // file | sqlite

	LogLevel   string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogDir     string `env:"TELEPAGE_LOG_DIR" envDefault:"logs"`
	LogToFile  bool   `env:"TELEPAGE_LOG_FILE" envDefault:"true"`
	LogMaxSize int    `env:"TELEPAGE_LOG_MAX_SIZE_MB" envDefault:"10"`

	FlushDelay     time.Duration `env:"TELEPAGE_FLUSH_DELAY" envDefault:"5s"`
	SessionTimeout time.Duration `env:"TELEPAGE_SESSION_TIMEOUT" envDefault:"30m"`
	PollTimeout    time.Duration `env:"TELEPAGE_POLL_TIMEOUT" envDefault:"10s"`
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (*Config, error) {
	loadDotenv()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// RequireToken returns the bot token or a descriptive error naming the
// variable that must be set.
func (c *Config) RequireToken() (string, error) {
	if c.BotToken == "" {
		return "", fmt.Errorf("environment variable TELEPAGE_BOT_TOKEN is not set (checked .env and process environment)")
	}
	return c.BotToken, nil
}

// SQLitePath is the database file used when StoreBackend is "sqlite".
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "telepage.db")
}

// loadDotenv loads ./.env and falls back to $HOME/.telepage.env. Existing
// environment variables always win.
func loadDotenv() {
	_ = godotenv.Load()
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".telepage.env"))
	}
}
