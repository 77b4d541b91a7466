package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// HTTP Server
	Port           string
	TrustedProxies []string

	// Database
	SQLiteDBPath string

	// AMQP (optional; empty URL disables cross-process sync)
	AMQPURL      string
	AMQPExchange string

	// Receipt storage
	ReceiptBackend    string // "disk" or "gcs"
	ReceiptBucket     string
	ReceiptDir        string
	ReceiptSigningKey string

	// Currency conversion rate overrides, e.g. "EUR=1.09,GBP=1.27"
	FXRates map[string]decimal.Decimal

	// Cache
	CacheCleanupInterval time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/outlay.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "outlay.changes"),

		ReceiptBackend:    getEnv("RECEIPT_BACKEND", "disk"),
		ReceiptBucket:     getEnv("RECEIPT_BUCKET", "receipts"),
		ReceiptDir:        getEnv("RECEIPT_DIR", "./data/receipts"),
		ReceiptSigningKey: getEnv("RECEIPT_SIGNING_KEY", ""),

		FXRates: parseRates(getEnv("FX_RATES", "")),

		CacheCleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
	}

	return cfg
}

// Validate checks the configuration and returns one error naming every
// problem found.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	switch c.ReceiptBackend {
	case "disk":
		if c.ReceiptDir == "" {
			errs = append(errs, "receipt directory cannot be empty with the disk backend")
		}
		if c.ReceiptSigningKey == "" {
			errs = append(errs, "RECEIPT_SIGNING_KEY is required with the disk backend")
		}
	case "gcs":
		if c.ReceiptBucket == "" {
			errs = append(errs, "receipt bucket cannot be empty with the gcs backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid receipt backend '%s': must be one of [disk gcs]", c.ReceiptBackend))
	}

	for code := range c.FXRates {
		if len(code) != 3 {
			errs = append(errs, fmt.Sprintf("invalid currency code '%s' in FX_RATES", code))
		}
	}

	if c.CacheCleanupInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid cache cleanup interval %v: must be at least 1 second", c.CacheCleanupInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

// parseRates reads "EUR=1.09,GBP=1.27" into a rate map. Entries that do
// not parse are dropped rather than failing startup; Validate flags bad
// currency codes separately.
func parseRates(raw string) map[string]decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	rates := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(parts[0]))
		rate, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil || code == "" {
			continue
		}
		rates[code] = rate
	}
	if len(rates) == 0 {
		return nil
	}
	return rates
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
