package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverFile   = "file"
	StoreDriverRedis  = "redis"
	StoreDriverMemory = "memory"
)

// Config holds all portal configuration.
type Config struct {
	APIBaseURL  string
	HTTPTimeout time.Duration

	StoreDriver string
	StorePath   string
	// StoreKey enables at-rest encryption of the file store when non-empty.
	StoreKey string
	Profile  string

	RedisURL    string
	DatabaseURL string
	MaxDBConns  int32

	ServerPort string
	GinMode    string
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string

	LogLevel  string
	LogFormat string
	LogFile   string

	TickInterval     time.Duration
	LowTimeThreshold int
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		APIBaseURL:       strings.TrimRight(getEnv("PORTAL_API_BASE_URL", "http://127.0.0.1:8000"), "/"),
		HTTPTimeout:      time.Duration(getEnvInt("PORTAL_HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		StoreDriver:      getEnv("PORTAL_STORE_DRIVER", StoreDriverFile),
		StorePath:        getEnv("PORTAL_STORE_PATH", defaultStorePath()),
		StoreKey:         os.Getenv("PORTAL_STORE_KEY"),
		Profile:          getEnv("PORTAL_PROFILE", "default"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		MaxDBConns:       int32(getEnvInt("MAX_DB_CONNS", 4)),
		ServerPort:       getEnv("SERVER_PORT", "8090"),
		GinMode:          getEnv("GIN_MODE", "release"),
		AllowedOrigins:   parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "pretty"),
		LogFile:          os.Getenv("LOG_FILE"),
		TickInterval:     time.Duration(getEnvInt("EXAM_TICK_MS", 1000)) * time.Millisecond,
		LowTimeThreshold: getEnvInt("EXAM_LOW_TIME_SECONDS", 300),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "exstem-portal", "session.json")
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
