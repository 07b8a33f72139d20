// Package config содержит логику чтения конфигурации веб-клиента бронирования.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultAPIBaseURL     = "http://localhost:5000"
	defaultPublishableKey = "pk_test_your_stripe_publishable_key"
)

// Config содержит параметры конфигурации веб-клиента.
type Config struct {
	RunAddress            string        `env:"RUN_ADDRESS"`
	DatabaseURI           string        `env:"DATABASE_URI"`
	APIBaseURL            string        `env:"API_BASE_URL"`
	SessionSecret         string        `env:"SESSION_SECRET"`
	PaymentPublishableKey string        `env:"PAYMENT_PUBLISHABLE_KEY"`
	RedisAddress          string        `env:"REDIS_ADDR"`
	APITimeout            time.Duration `env:"API_TIMEOUT" envDefault:"10s"`
	OptionsCacheTTL       time.Duration `env:"OPTIONS_CACHE_TTL" envDefault:"5m"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAPIBaseURL := cfg.APIBaseURL
	envSessionSecret := cfg.SessionSecret
	envPublishableKey := cfg.PaymentPublishableKey
	envRedisAddress := cfg.RedisAddress

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.APIBaseURL, "r", defaultAPIBaseURL, "booking API base URL")
	flag.StringVar(&cfg.SessionSecret, "s", "", "session cookie signing secret")
	flag.StringVar(&cfg.PaymentPublishableKey, "k", defaultPublishableKey, "payment widget publishable key")
	flag.StringVar(&cfg.RedisAddress, "c", "", "redis address for option cache")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAPIBaseURL != "" {
		cfg.APIBaseURL = envAPIBaseURL
	}
	if envSessionSecret != "" {
		cfg.SessionSecret = envSessionSecret
	}
	if envPublishableKey != "" {
		cfg.PaymentPublishableKey = envPublishableKey
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}

	return cfg, nil
}
