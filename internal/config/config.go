package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string
	GRPCAddr string
	BaseURL  string

	// AdminAddr serves probes, metrics and drain/undrain; keep it private.
	AdminAddr  string
	TrustProxy bool

	Store       string
	PostgresDSN string
	SQLitePath  string
	MongoURI    string
	MongoDB     string
	AutoMigrate bool

	RedisURL string
	CacheTTL time.Duration

	AuthSecret         string
	SessionTTL         time.Duration
	GoogleClientID     string
	GoogleClientSecret string

	// Rate limiting of the management API
	RateLimit  int
	RateWindow time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                getEnv("LIST39_ENV", "development"),
		LogLevel:           getEnv("LIST39_LOG_LEVEL", "info"),
		HTTPAddr:           getEnv("LIST39_HTTP_ADDR", ":8080"),
		GRPCAddr:           os.Getenv("LIST39_GRPC_ADDR"),
		AdminAddr:          getEnv("LIST39_ADMIN_ADDR", "127.0.0.1:9090"),
		BaseURL:            strings.TrimRight(getEnv("LIST39_BASE_URL", "http://localhost:8080"), "/"),
		Store:              strings.ToLower(getEnv("LIST39_STORE", StoreMemory)),
		PostgresDSN:        os.Getenv("LIST39_PG_DSN"),
		SQLitePath:         getEnv("LIST39_SQLITE_PATH", "list39.db"),
		MongoURI:           os.Getenv("LIST39_MONGO_URI"),
		MongoDB:            getEnv("LIST39_MONGO_DB", "list39"),
		RedisURL:           os.Getenv("LIST39_REDIS_URL"),
		AuthSecret:         os.Getenv("LIST39_AUTH_SECRET"),
		GoogleClientID:     os.Getenv("LIST39_GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("LIST39_GOOGLE_CLIENT_SECRET"),
	}

	var err error
	if cfg.AutoMigrate, err = getBool("LIST39_AUTO_MIGRATE", false); err != nil {
		return nil, err
	}
	if cfg.TrustProxy, err = getBool("LIST39_TRUST_PROXY", false); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getDuration("LIST39_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("LIST39_SESSION_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateWindow, err = getDuration("LIST39_RATE_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = getInt("LIST39_RATE_LIMIT", 100); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends are fully configured.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("LIST39_PG_DSN is required for the postgres store"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("LIST39_SQLITE_PATH is required for the sqlite store"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("LIST39_MONGO_URI is required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown LIST39_STORE %q", c.Store))
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		errs = append(errs, errors.New("rate limit and window must be positive"))
	}
	if c.AdminAddr == c.HTTPAddr || (c.GRPCAddr != "" && c.AdminAddr == c.GRPCAddr) {
		errs = append(errs, errors.New("LIST39_ADMIN_ADDR must differ from the public listeners"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("LIST39_SESSION_TTL must be positive"))
	}
	if c.IsProduction() {
		if c.AuthSecret == "" {
			errs = append(errs, errors.New("LIST39_AUTH_SECRET is required in production"))
		}
		if c.Store == StoreMemory {
			errs = append(errs, errors.New("the memory store is not allowed in production"))
		}
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GoogleEnabled reports whether external sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
