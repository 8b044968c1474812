// Package config loads application configuration from environment variables.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const secretKeySize = 32

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	// SecretKey is the 32-byte credential vault key. Nil disables the vault:
	// the server still starts, but connecting or syncing fails until it is set.
	SecretKey []byte

	SyncMaxRetries    int
	ExpenseCurrency   string
	ProviderTimeout   time.Duration
	ProviderRateLimit float64

	Splitwise       SplitwiseConfig
	SplitProBaseURL string
}

// SplitwiseConfig is the Splitwise OAuth application registration.
type SplitwiseConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	BaseURL      string
}

// OAuthConfigured reports whether the authorization-code flow can be used.
func (c SplitwiseConfig) OAuthConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// HasSecretKey reports whether a vault key was configured.
func (c *Config) HasSecretKey() bool {
	return len(c.SecretKey) > 0
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is read first; it never overrides variables
// already present in the environment.
// Optional variables with defaults: COINSPLIT_LISTEN_ADDR (127.0.0.1:8080),
// COINSPLIT_DB_PATH (coinsplit.db), COINSPLIT_SYNC_MAX_RETRIES (5),
// COINSPLIT_EXPENSE_CURRENCY (USD), COINSPLIT_PROVIDER_TIMEOUT (30s),
// COINSPLIT_PROVIDER_RATE_LIMIT (5 requests per second).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		ListenAddr:        envOr("COINSPLIT_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:            envOr("COINSPLIT_DB_PATH", "coinsplit.db"),
		SyncMaxRetries:    5,
		ExpenseCurrency:   "USD",
		ProviderTimeout:   30 * time.Second,
		ProviderRateLimit: 5,
		Splitwise: SplitwiseConfig{
			ClientID:     os.Getenv("COINSPLIT_SPLITWISE_CLIENT_ID"),
			ClientSecret: os.Getenv("COINSPLIT_SPLITWISE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("COINSPLIT_SPLITWISE_REDIRECT_URI"),
			BaseURL:      strings.TrimRight(os.Getenv("COINSPLIT_SPLITWISE_BASE_URL"), "/"),
		},
		SplitProBaseURL: strings.TrimRight(os.Getenv("COINSPLIT_SPLITPRO_BASE_URL"), "/"),
	}

	if v, ok := os.LookupEnv("COINSPLIT_SECRET_KEY"); ok && v != "" {
		key, err := parseSecretKey(v)
		if err != nil {
			return nil, fmt.Errorf("COINSPLIT_SECRET_KEY: %w", err)
		}
		cfg.SecretKey = key
	}

	if v, ok := os.LookupEnv("COINSPLIT_SYNC_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("COINSPLIT_SYNC_MAX_RETRIES must be a positive integer, got %q", v)
		}
		cfg.SyncMaxRetries = n
	}

	if v, ok := os.LookupEnv("COINSPLIT_EXPENSE_CURRENCY"); ok {
		code := strings.ToUpper(strings.TrimSpace(v))
		if len(code) != 3 {
			return nil, fmt.Errorf("COINSPLIT_EXPENSE_CURRENCY must be a three-letter currency code, got %q", v)
		}
		cfg.ExpenseCurrency = code
	}

	if v, ok := os.LookupEnv("COINSPLIT_PROVIDER_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("COINSPLIT_PROVIDER_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("COINSPLIT_PROVIDER_TIMEOUT must be positive, got %s", d)
		}
		cfg.ProviderTimeout = d
	}

	if v, ok := os.LookupEnv("COINSPLIT_PROVIDER_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("COINSPLIT_PROVIDER_RATE_LIMIT must be a non-negative number, got %q", v)
		}
		cfg.ProviderRateLimit = f
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// parseSecretKey accepts a 32-byte key as 64 hex characters or standard base64.
func parseSecretKey(v string) ([]byte, error) {
	v = strings.TrimSpace(v)

	if key, err := hex.DecodeString(v); err == nil {
		if len(key) != secretKeySize {
			return nil, fmt.Errorf("must decode to %d bytes, got %d", secretKeySize, len(key))
		}
		return key, nil
	}

	key, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, errors.New("must be hex or base64 encoded")
	}
	if len(key) != secretKeySize {
		return nil, fmt.Errorf("must decode to %d bytes, got %d", secretKeySize, len(key))
	}
	return key, nil
}
