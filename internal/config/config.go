package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL          string
	AMQPExchange     string
	AMQPCommandQueue string
	AMQPReplyQueue   string

	// State store bounds
	MaxBots        int
	MaxChatsPerBot int
	MaxIdle        time.Duration
	SweepInterval  time.Duration

	// Billing
	DefaultCutoffHour int
}

func Load() *Config {
	cfg := &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/tallybot.db"),

		// empty by default: the engine runs without a queue unless one is configured
		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "tallybot"),
		AMQPCommandQueue: getEnv("AMQP_COMMAND_QUEUE", "ledger_commands"),
		AMQPReplyQueue:   getEnv("AMQP_REPLY_QUEUE", "ledger_replies"),

		MaxBots:        getEnvInt("MAX_BOTS", 50),
		MaxChatsPerBot: getEnvInt("MAX_CHATS_PER_BOT", 5000),
		MaxIdle:        getEnvDuration("MAX_IDLE", 72*time.Hour),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),

		DefaultCutoffHour: getEnvInt("DEFAULT_CUTOFF_HOUR", 0),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate SQLite configuration
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPCommandQueue == "" {
			errors = append(errors, "AMQP command queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPReplyQueue == "" {
			errors = append(errors, "AMQP reply queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate store bounds
	if c.MaxBots < 1 {
		errors = append(errors, fmt.Sprintf("invalid max bots %d: must be at least 1", c.MaxBots))
	}
	if c.MaxChatsPerBot < 1 {
		errors = append(errors, fmt.Sprintf("invalid max chats per bot %d: must be at least 1", c.MaxChatsPerBot))
	}

	if c.MaxIdle < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid max idle %v: must be at least 1 minute", c.MaxIdle))
	}

	if c.SweepInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at least 1 second", c.SweepInterval))
	} else if c.SweepInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at most 24 hours", c.SweepInterval))
	}

	// Validate cutoff hour
	if c.DefaultCutoffHour < 0 || c.DefaultCutoffHour > 23 {
		errors = append(errors, fmt.Sprintf("invalid default cutoff hour %d: must be between 0 and 23", c.DefaultCutoffHour))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
