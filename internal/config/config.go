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
	Port         string
	PostgresURL  string
	RedisAddr    string
	KafkaBrokers []string

	CatalogServiceURL string
	OrdersServiceURL  string
	EmailServiceURL   string

	MigrationsPath string
	ServiceVersion string

	Checkout CheckoutConfig
}

type CheckoutConfig struct {
	LockTimeout time.Duration
	TxTimeout   time.Duration
	BusyRetries int
}

// Load reads the process environment, after merging a .env file from the
// working directory when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:              os.Getenv("PORT"),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		KafkaBrokers:      splitCSV(os.Getenv("KAFKA_BROKERS")),
		CatalogServiceURL: os.Getenv("CATALOG_SERVICE_URL"),
		OrdersServiceURL:  os.Getenv("ORDERS_SERVICE_URL"),
		EmailServiceURL:   os.Getenv("EMAIL_SERVICE_URL"),
		MigrationsPath:    getenv("MIGRATIONS_PATH", "file://migrations"),
		ServiceVersion:    getenv("SERVICE_VERSION", "0.1.0"),
	}

	var err error
	if cfg.Checkout.LockTimeout, err = durationEnv("CHECKOUT_LOCK_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.TxTimeout, err = durationEnv("CHECKOUT_TX_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.BusyRetries, err = intEnv("CHECKOUT_BUSY_RETRIES", 3); err != nil {
		return Config{}, err
	}

	if cfg.Checkout.LockTimeout >= cfg.Checkout.TxTimeout {
		return Config{}, fmt.Errorf("CHECKOUT_LOCK_TIMEOUT (%s) must be shorter than CHECKOUT_TX_TIMEOUT (%s)",
			cfg.Checkout.LockTimeout, cfg.Checkout.TxTimeout)
	}

	return cfg, nil
}

// PortOr returns the configured port or def when PORT is unset.
func (c Config) PortOr(def string) string {
	if c.Port == "" {
		return def
	}
	return c.Port
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", k, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", k, v)
	}
	return d, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", k, err)
	}
	if i < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", k, i)
	}
	return i, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
