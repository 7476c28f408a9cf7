package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: every environment variable is read here and nowhere else
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Import pipeline
	Import ImportConfig

	// Concept membership feed
	Concepts ConceptsConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ImportConfig holds file ingestion settings
type ImportConfig struct {
	ProfilePath         string // optional YAML pipeline profile
	InboxDir            string // scanned by the scheduler, empty disables
	InboxSchedule       string
	MaintenanceSchedule string
	TempDir             string        // spill files for oversized date groups
	LockBackend         string        // memory, redis
	LockTTL             time.Duration // redis lock expiry
	MaxUploadBytes      int64
}

// ConceptsConfig holds the concept membership feed settings
type ConceptsConfig struct {
	FeedURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Load reads configuration from environment variables
// ⭐ SSOT: the only function that calls os.Getenv()
func Load() (*Config, error) {
	cfg := load()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadLocal reads configuration for commands that never touch the database
// (dry-run imports, profile checks). DATABASE_URL is optional here.
func LoadLocal() (*Config, error) {
	cfg := load()

	if err := cfg.validateCommon(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func load() *Config {
	loadEnvFile()

	return &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Import: ImportConfig{
			ProfilePath:         getEnv("IMPORT_PROFILE", ""),
			InboxDir:            getEnv("IMPORT_INBOX_DIR", ""),
			InboxSchedule:       getEnv("IMPORT_INBOX_SCHEDULE", "0 */5 * * * *"),
			MaintenanceSchedule: getEnv("IMPORT_MAINTENANCE_SCHEDULE", "0 30 3 * * *"),
			TempDir:             getEnv("IMPORT_TEMP_DIR", os.TempDir()),
			LockBackend:         getEnv("IMPORT_LOCK_BACKEND", "memory"),
			LockTTL:             getEnvAsDuration("IMPORT_LOCK_TTL", "10m"),
			MaxUploadBytes:      int64(getEnvAsInt("IMPORT_MAX_UPLOAD_MB", 256)) << 20,
		},

		Concepts: ConceptsConfig{
			FeedURL:  getEnv("CONCEPT_FEED_URL", ""),
			Timeout:  getEnvAsDuration("CONCEPT_FEED_TIMEOUT", "30s"),
			CacheTTL: getEnvAsDuration("CONCEPT_CACHE_TTL", "1h"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Import.LockBackend != "memory" && c.Import.LockBackend != "redis" {
		return fmt.Errorf("IMPORT_LOCK_BACKEND must be one of: memory, redis")
	}
	if c.Import.LockBackend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("IMPORT_LOCK_BACKEND=redis requires REDIS_ENABLED=true")
	}

	if c.Import.MaxUploadBytes <= 0 {
		return fmt.Errorf("IMPORT_MAX_UPLOAD_MB must be > 0")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
		"backend/.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
