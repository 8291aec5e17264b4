package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string
	LogLevel string

	Spoynt SpoyntConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
}

type SpoyntConfig struct {
	LiveSecret      string
	TestSecret      string
	TestMode        bool
	VerifySignature bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// IsProduction reports whether the service runs with production guarantees.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads the configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource: dbSource,
		Port:     getEnv("SERVER_PORT", "8080"),
		Env:      getEnv("ENVIRONMENT", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Spoynt: SpoyntConfig{
			LiveSecret:      os.Getenv("SPOYNT_LIVE_SECRET"),
			TestSecret:      os.Getenv("SPOYNT_TEST_SECRET"),
			TestMode:        getEnvAsBool("SPOYNT_TEST_MODE", false),
			VerifySignature: getEnvAsBool("SPOYNT_VERIFY_SIGNATURE", true),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("BALANCE_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "ledger.topups"),
		},
	}

	if cfg.IsProduction() {
		cfg.Spoynt.VerifySignature = true
	}
	if cfg.Spoynt.VerifySignature && cfg.Spoynt.Secret() == "" {
		mode := "SPOYNT_LIVE_SECRET"
		if cfg.Spoynt.TestMode {
			mode = "SPOYNT_TEST_SECRET"
		}
		return nil, fmt.Errorf("%s is required when signature verification is enabled", mode)
	}

	return cfg, nil
}

// Secret returns the signing secret for the configured mode.
func (s SpoyntConfig) Secret() string {
	if s.TestMode {
		return s.TestSecret
	}
	return s.LiveSecret
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
