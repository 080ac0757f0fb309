package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server.
type Config struct {
	Port string
	Env  string

	// Chat storage
	StoreDriver string // memory, sqlite, postgres or redis
	SQLitePath  string
	DatabaseURL string
	RedisURL    string

	// Relay
	RoomFullPolicy   string        // reject or evict
	OfferGracePeriod time.Duration // 0 drops signals sent to an empty room

	AllowedOrigins []string // empty allows any origin
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		StoreDriver:    getEnv("STORE_DRIVER", "memory"),
		SQLitePath:     getEnv("SQLITE_PATH", "./data/telecare.db"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RoomFullPolicy: getEnv("ROOM_FULL_POLICY", "reject"),
	}

	if grace := os.Getenv("OFFER_GRACE_PERIOD"); grace != "" {
		d, err := time.ParseDuration(grace)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid OFFER_GRACE_PERIOD %q", grace)
		}
		cfg.OfferGracePeriod = d
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if cfg.Env == "production" {
		switch cfg.StoreDriver {
		case "postgres":
			if cfg.DatabaseURL == "" {
				return nil, fmt.Errorf("DATABASE_URL is required in production")
			}
		case "redis":
			if cfg.RedisURL == "" {
				return nil, fmt.Errorf("REDIS_URL is required in production")
			}
		case "memory":
			return nil, fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// StoreDSN returns the connection string for the selected store driver.
func (c *Config) StoreDSN() string {
	switch c.StoreDriver {
	case "sqlite":
		return c.SQLitePath
	case "postgres":
		return c.DatabaseURL
	case "redis":
		return c.RedisURL
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
