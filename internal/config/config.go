package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	Storage    string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret string
	JWTExpire time.Duration

	MaxBulkSubmission int
	BulkConcurrency   int
	SandboxTimeout    time.Duration
	FetchTimeout      time.Duration
	UniqueCollation   string

	RedisAddr    string
	FormCacheTTL time.Duration

	CORSOrigins []string
	LogMode     string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

// Load reads configs/.env when present, then the process environment.
func Load() (*Config, bool) {
	envLoaded := godotenv.Load("configs/.env") == nil

	return &Config{
		Port:              getEnv("PORT", "8080"),
		Storage:           strings.ToLower(getEnv("STORAGE", "postgres")),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "postgres"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		JWTSecret:         getEnv("JWT_SECRET", "formio-dev-secret-change-me"),
		JWTExpire:         time.Duration(getEnvInt("JWT_EXPIRE_MINUTES", 240)) * time.Minute,
		MaxBulkSubmission: getEnvInt("MAX_BULK_SUBMISSION", 1000),
		BulkConcurrency:   getEnvInt("BULK_CONCURRENCY", 8),
		SandboxTimeout:    getEnvDuration("SANDBOX_TIMEOUT", 15*time.Second),
		FetchTimeout:      getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		UniqueCollation:   getEnv("UNIQUE_COLLATION", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		FormCacheTTL:      getEnvDuration("FORM_CACHE_TTL", time.Minute),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		LogMode:           getEnv("LOG_MODE", "dev"),
		OtelEnabled:       getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelInsecure:      getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OtelSampleRatio:   getEnvFloat("OTEL_SAMPLER_RATIO", 1),
	}, envLoaded
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
