// Package config loads application configuration from environment
// variables with sensible defaults.
//
// Environment variables:
//
// Application:
//   - LOG_LEVEL: logging level (default: info)
//
// Storage:
//   - STORAGE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./contact-sync.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//
// Directory server:
//   - CARDDAV_SERVER_URL: base URL of the remote server (required)
//   - CARDDAV_USERNAME, CARDDAV_PASSWORD: basic-auth credentials
//   - CONNECTION_NAME: display name of the connection (default: default)
//
// Photo store (optional, photos stay embedded when unset):
//   - S3_BUCKET, S3_REGION, S3_ENDPOINT, S3_ACCESS_KEY_ID,
//     S3_SECRET_ACCESS_KEY
//
// Coordination (optional, in-process locking when unset):
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB
//
// Scheduling:
//   - SYNC_SCHEDULE: cron expression for pull passes (default: @every 15m)
//   - SYNC_LOCK_TTL: lock duration per pass (default: 10m)
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values. Load it with Load and check it
// with Validate before use.
type Config struct {
	LogLevel string

	StorageType  string
	DatabasePath string

	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	ServerURL      string
	Username       string
	Password       string
	ConnectionName string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	SyncSchedule string
	SyncLockTTL  time.Duration
}

// Load reads the environment. It does not validate; call Validate on
// the result.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StorageType:  getEnv("STORAGE_TYPE", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "./contact-sync.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "contact_sync"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		ServerURL:      getEnv("CARDDAV_SERVER_URL", ""),
		Username:       getEnv("CARDDAV_USERNAME", ""),
		Password:       getEnv("CARDDAV_PASSWORD", ""),
		ConnectionName: getEnv("CONNECTION_NAME", "default"),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		SyncSchedule: getEnv("SYNC_SCHEDULE", "@every 15m"),
		SyncLockTTL:  getDurationEnv("SYNC_LOCK_TTL", 10*time.Minute),
	}
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("CARDDAV_SERVER_URL is required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("CARDDAV_SERVER_URL is invalid: %w", err)
	}
	switch c.StorageType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for sqlite storage")
		}
	case "postgres", "postgresql":
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required for postgres storage")
		}
	default:
		return fmt.Errorf("STORAGE_TYPE must be sqlite or postgres, got %q", c.StorageType)
	}
	if c.S3Bucket != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET is set")
	}
	if c.SyncLockTTL <= 0 {
		return fmt.Errorf("SYNC_LOCK_TTL must be positive")
	}
	return nil
}

// PostgresDSN builds the connection string for the postgres adapter.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser), url.QueryEscape(c.PostgresPassword),
		c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
}

// PhotoStoreEnabled reports whether an S3 photo store is configured.
func (c *Config) PhotoStoreEnabled() bool {
	return c.S3Bucket != ""
}

// RedisEnabled reports whether distributed locking is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
