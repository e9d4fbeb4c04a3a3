package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	Session SessionConfig
}

type AppConfig struct {
	Port          string `validate:"required,numeric"`
	Environment   string `validate:"oneof=development production test"`
	LogFilePath   string `validate:"required"`
	UploadDir     string `validate:"required"`
	MaxUploadSize int64  `validate:"gt=0"`
}

// ServiceConfig describes the remote analysis/coaching service.
type ServiceConfig struct {
	BaseURL            string        `validate:"required,url"`
	RequestTimeout     time.Duration `validate:"gt=0"`
	BreakerMaxFailures int           `validate:"gte=1"`
	RequestsPerSecond  float64       `validate:"gte=0"` // 0 disables limiting
}

type SessionConfig struct {
	Greeting string
}

const DefaultGreeting = "Welcome! How can I assist you with your baseball coaching today?"

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	cfg := &Config{
		App: AppConfig{
			Port:          getEnv("PORT", "3000"),
			Environment:   getEnv("GO_ENV", "development"),
			LogFilePath:   getEnv("LOG_FILE_PATH", "slugsei.log"),
			UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),
			MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 104857600),
		},
		Service: ServiceConfig{
			BaseURL:            getEnv("COACH_SERVICE_URL", "http://127.0.0.1:8080"),
			RequestTimeout:     time.Duration(getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
			BreakerMaxFailures: getEnvAsInt("BREAKER_MAX_FAILURES", 5),
			RequestsPerSecond:  getEnvAsFloat("REQUESTS_PER_SECOND", 0),
		},
		Session: SessionConfig{
			Greeting: getEnv("SESSION_GREETING", DefaultGreeting),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	for _, section := range []interface{}{c.App, c.Service} {
		if err := v.Struct(section); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}
