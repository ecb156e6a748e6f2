package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr string
	TLSAddr    string
	EnableTLS  bool

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	RedisURL string

	CacheTTL        time.Duration
	QueryTimeout    time.Duration
	QueryMaxRetries int
	QueryMaxLimit   int

	DefaultRateLimit int
	GlobalRateLimit  int
	GlobalRateWindow time.Duration

	RetentionDays     int
	RetentionInterval time.Duration

	ArchiveEnabled bool
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	AnalyticsURL   string
	AnalyticsToken string
}

func Load() *Config {
	cfg := &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		TLSAddr:           getEnv("TLS_ADDR", ":8443"),
		EnableTLS:         getEnvBool("ENABLE_TLS", false),
		PostgresUser:      getEnv("POSTGRES_USER", "gateway"),
		PostgresPassword:  getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:      getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:      getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:  getEnv("POSTGRES_DATABASE", "query_gateway"),
		PostgresSSLMode:   getEnv("POSTGRES_SSL_MODE", "disable"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		CacheTTL:          getEnvDuration("CACHE_TTL", time.Hour),
		QueryTimeout:      getEnvDuration("QUERY_TIMEOUT", 30*time.Second),
		QueryMaxRetries:   getEnvInt("QUERY_MAX_RETRIES", 2),
		QueryMaxLimit:     getEnvInt("QUERY_MAX_LIMIT", 1000),
		DefaultRateLimit:  getEnvInt("DEFAULT_RATE_LIMIT", 60),
		GlobalRateLimit:   getEnvInt("GLOBAL_RATE_LIMIT", 500),
		GlobalRateWindow:  getEnvDuration("GLOBAL_RATE_WINDOW", time.Minute),
		RetentionDays:     getEnvInt("RETENTION_DAYS", 30),
		RetentionInterval: getEnvDuration("RETENTION_INTERVAL", time.Hour),
		S3Bucket:          getEnv("S3_BUCKET", "gateway-archive"),
		S3Region:          getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:       getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AnalyticsURL:      getEnv("ANALYTICS_URL", ""),
		AnalyticsToken:    getEnv("ANALYTICS_TOKEN", ""),
	}

	cfg.ArchiveEnabled = cfg.S3AccessKey != "" && cfg.S3SecretKey != ""

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
