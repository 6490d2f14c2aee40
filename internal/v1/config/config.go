package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	JWTSecret     string
	SigningSecret string
	Port          string
	DatabasePath  string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	TestMode        bool
	AllowedOrigins  string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Retention / TTL engine
	FreeRetentionDays    int
	PremiumRetentionDays int // 0 = unlimited
	MessageEditWindowSec int
	ExpireJobBatch       int
	ExpireJobInterval    time.Duration

	// Uploads / storage
	MaxFileSizeBytes     int64
	StorageDriver        string // "local" or "s3"
	StorageBucket        string
	StoragePublicBaseURL string
	UploadDir            string
	SignedURLTTL         time.Duration

	// Translation
	TranslationEnabled     bool
	TranslationURL         string
	TranslateMaxInputChars int

	// Socket migration flag
	LegacySocketEvents bool

	// Tracing
	OtelCollectorAddr string

	// Rate limits. Global/public use the ulule formatted notation
	// ("1000-M"); the message and translation budgets are fixed windows.
	RateLimitAPIGlobal     string
	RateLimitAPIPublic     string
	MessageRateLimit       int64
	MessageRateWindow      time.Duration
	TranslationRoomRate    int64
	TranslationLangRate    int64
	TranslationRateWindow  time.Duration
	RateLimitWsIP          string
	RateLimitWsUser        string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error listing every missing or invalid variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: SIGNING_SECRET for attachment URL signing
	cfg.SigningSecret = os.Getenv("SIGNING_SECRET")
	if cfg.SigningSecret == "" {
		errors = append(errors, "SIGNING_SECRET is required")
	} else if len(cfg.SigningSecret) < 32 {
		errors = append(errors, fmt.Sprintf("SIGNING_SECRET must be at least 32 characters (got %d)", len(cfg.SigningSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "data/veilchat.db")

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.TestMode = os.Getenv("TEST_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Retention / TTL engine
	cfg.FreeRetentionDays = getEnvInt(&errors, "FREE_RETENTION_DAYS", 30)
	cfg.PremiumRetentionDays = getEnvInt(&errors, "PREMIUM_RETENTION_DAYS", 0)
	cfg.MessageEditWindowSec = getEnvInt(&errors, "MESSAGE_EDIT_WINDOW_SEC", 900)
	cfg.ExpireJobBatch = getEnvInt(&errors, "EXPIRE_JOB_BATCH", 500)
	intervalMs := getEnvInt(&errors, "EXPIRE_JOB_INTERVAL_MS", 15000)
	cfg.ExpireJobInterval = time.Duration(intervalMs) * time.Millisecond

	// Uploads / storage
	cfg.MaxFileSizeBytes = int64(getEnvInt(&errors, "MAX_FILE_SIZE_BYTES", 10*1024*1024))
	cfg.StorageDriver = getEnvOrDefault("STORAGE_DRIVER", "local")
	if cfg.StorageDriver != "local" && cfg.StorageDriver != "s3" {
		errors = append(errors, fmt.Sprintf("STORAGE_DRIVER must be 'local' or 's3' (got '%s')", cfg.StorageDriver))
	}
	cfg.StorageBucket = os.Getenv("STORAGE_BUCKET")
	if cfg.StorageDriver == "s3" && cfg.StorageBucket == "" {
		errors = append(errors, "STORAGE_BUCKET is required when STORAGE_DRIVER=s3")
	}
	cfg.StoragePublicBaseURL = os.Getenv("STORAGE_PUBLIC_BASE_URL")
	cfg.UploadDir = getEnvOrDefault("UPLOAD_DIR", "data/uploads")
	cfg.SignedURLTTL = time.Duration(getEnvInt(&errors, "SIGNED_URL_TTL_SEC", 300)) * time.Second

	// Translation
	cfg.TranslationEnabled = getEnvOrDefault("TRANSLATION_ENABLED", "true") == "true"
	cfg.TranslationURL = os.Getenv("TRANSLATION_URL")
	cfg.TranslateMaxInputChars = getEnvInt(&errors, "TRANSLATE_MAX_INPUT_CHARS", 4000)

	cfg.LegacySocketEvents = getEnvOrDefault("LEGACY_SOCKET_EVENTS", "true") == "true"
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// Rate limits
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.MessageRateLimit = int64(getEnvInt(&errors, "RATE_LIMIT_MESSAGES", 50))
	cfg.MessageRateWindow = time.Duration(getEnvInt(&errors, "RATE_LIMIT_MESSAGES_WINDOW_MS", 10000)) * time.Millisecond
	cfg.TranslationRoomRate = int64(getEnvInt(&errors, "RATE_LIMIT_TRANSLATION_ROOM", 12))
	cfg.TranslationLangRate = int64(getEnvInt(&errors, "RATE_LIMIT_TRANSLATION_LANG", 6))
	cfg.TranslationRateWindow = time.Duration(getEnvInt(&errors, "RATE_LIMIT_TRANSLATION_WINDOW_MS", 10000)) * time.Millisecond
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated successfully")
	slog.Info("Configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"signing_secret", redactSecret(cfg.SigningSecret),
		"port", cfg.Port,
		"database_path", cfg.DatabasePath,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"storage_driver", cfg.StorageDriver,
		"translation_enabled", cfg.TranslationEnabled,
		"free_retention_days", cfg.FreeRetentionDays,
		"expire_job_interval", cfg.ExpireJobInterval,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer env var, collecting an error on bad input
func getEnvInt(errors *[]string, key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("%s must be an integer (got '%s')", key, value))
		return defaultValue
	}
	return n
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
