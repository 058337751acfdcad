package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Provider endpoints
	BaseURL  string
	Username string
	Token    string

	// Cache tuning
	CacheLimit      int
	RefillThreshold int
	PrefetchCount   int

	// Split inbox definitions
	SplitsPath     string
	SplitsOverride string

	LogLevel string
}

// LoadConfig loads configuration from a .env file (if present) and the
// environment
func LoadConfig() (*Config, error) {
	// Missing .env is fine; explicit environment always wins
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:         getEnv("JMAP_BASE_URL", "https://api.fastmail.com"),
		Username:        getEnv("JMAP_USERNAME", ""),
		Token:           getEnv("JMAP_TOKEN", ""),
		CacheLimit:      getEnvInt("CACHE_LIMIT", 150),
		RefillThreshold: getEnvInt("REFILL_THRESHOLD", 100),
		PrefetchCount:   getEnvInt("PREFETCH_COUNT", 2),
		SplitsPath:      getEnv("SPLITS_PATH", defaultSplitsPath()),
		SplitsOverride:  getEnv("MAIL_SPLITS", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("JMAP_USERNAME is required")
	}
	if c.Token == "" {
		return fmt.Errorf("JMAP_TOKEN is required")
	}
	if c.CacheLimit <= 0 {
		return fmt.Errorf("CACHE_LIMIT must be positive")
	}
	if c.RefillThreshold <= 0 || c.RefillThreshold > c.CacheLimit {
		return fmt.Errorf("REFILL_THRESHOLD must be in (0, CACHE_LIMIT]")
	}
	return nil
}

func defaultSplitsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "splits.json"
	}
	return dir + "/jmapmail/splits.json"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
