package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Issuer claim stamped into enhanced token assertions

	StoreBackend  string // Store backend (sqlite, redis) (default: sqlite)
	DatabaseFile  string // Path to the SQLite database file (default: ./tokend.db)
	RedisAddr     string // Redis address (default: localhost:6379)
	RedisPassword string // Optional: redis AUTH password
	RedisDB       int    // Redis logical database (default: 0)

	ClientsFile    string // Optional: path to a JSON file of client policies
	SigningKeyFile string // Optional: path to an Ed25519 seed for the claims enhancer

	AccessTokenValidity  int  // Access token lifetime in seconds (0 = non-expiring)
	RefreshTokenValidity int  // Refresh token lifetime in seconds (0 = non-expiring)
	SupportRefreshToken  bool // Whether refresh grants are honored at all
	ReuseRefreshToken    bool // Keep the refresh token value across refreshes

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired-token purge interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:        getEnvOrDefault("TOKEND_ISSUER", "tokend"),
		StoreBackend:  getEnvOrDefault("TOKEND_STORE", "sqlite"),
		DatabaseFile:  getEnvOrDefault("TOKEND_DATABASE_FILE", "tokend.db"),
		RedisAddr:     getEnvOrDefault("TOKEND_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("TOKEND_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("TOKEND_REDIS_DB", 0),

		ClientsFile:    os.Getenv("TOKEND_CLIENTS_FILE"),
		SigningKeyFile: os.Getenv("TOKEND_SIGNING_KEY_FILE"),

		AccessTokenValidity:  getEnvIntOrDefault("TOKEND_ACCESS_TOKEN_VALIDITY", 43200),
		RefreshTokenValidity: getEnvIntOrDefault("TOKEND_REFRESH_TOKEN_VALIDITY", 2592000),
		SupportRefreshToken:  getEnvBoolOrDefault("TOKEND_SUPPORT_REFRESH_TOKEN", true),
		ReuseRefreshToken:    getEnvBoolOrDefault("TOKEND_REUSE_REFRESH_TOKEN", false),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Plain integers are read as minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
