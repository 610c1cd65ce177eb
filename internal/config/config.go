package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBMaxOpenConns int

	// JWT issued by the identity provider
	JWTSecret string

	// Server
	Port         string
	CORSOrigins  string
	BodyLimitMB  int
	RateLimitRPM int

	// Realtime
	RedisURL          string
	RedisPrefix       string
	RealtimeBuffer    int
	RealtimeQueueSize int
	StreamKeepAlive   time.Duration

	// Attachments (MinIO / S3)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPublicURL string

	// Logging
	LogLevel         slog.Level
	LogPersistLevel  slog.Level
	LogRetentionDays int

	SentryDSN string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real environment variables
// win over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "incident_desk"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns: parseInt(getEnv("DB_MAX_OPEN_CONNS", "25"), 25),

		JWTSecret: getEnv("JWT_SECRET", ""),

		Port:         getEnv("PORT", "8080"),
		CORSOrigins:  getEnv("CORS_ORIGINS", "*"),
		BodyLimitMB:  parseInt(getEnv("BODY_LIMIT_MB", "10"), 10),
		RateLimitRPM: parseInt(getEnv("RATE_LIMIT_RPM", "120"), 120),

		RedisURL:          getEnv("REDIS_URL", ""),
		RedisPrefix:       getEnv("REDIS_PREFIX", "incident-desk:thread:"),
		RealtimeBuffer:    parseInt(getEnv("REALTIME_BUFFER", "64"), 64),
		RealtimeQueueSize: parseInt(getEnv("REALTIME_QUEUE_SIZE", "1024"), 1024),
		StreamKeepAlive:   parseDuration(getEnv("STREAM_KEEPALIVE", "25s"), 25*time.Second),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "incident-attachments"),
		MinioUseSSL:    parseBool(getEnv("MINIO_USE_SSL", "false")),
		MinioPublicURL: getEnv("MINIO_PUBLIC_URL", ""),

		LogLevel:         parseLevel(getEnv("LOG_LEVEL", "info"), slog.LevelInfo),
		LogPersistLevel:  parseLevel(getEnv("LOG_PERSIST_LEVEL", "error"), slog.LevelError),
		LogRetentionDays: parseInt(getEnv("LOG_RETENTION_DAYS", "30"), 30),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

func (c *Config) AttachmentsEnabled() bool {
	return c.MinioEndpoint != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return fallback
	}
	return level
}
