package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	API       APIConfig
	Compose   ComposeConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ComposeConfig struct {
	JPEGQuality       int
	VectorMode        string
	DecodeConcurrency int
	MaxLayers         int
	MaxPixels         int64
	MaxInputBytes     int64
	FontDirs          []string
}

// ComposerConfig builds the pipeline settings. The font store is left nil so
// the process-wide default is used unless font directories are configured.
func (c ComposeConfig) ComposerConfig() (compose.Config, error) {
	mode, err := compose.ParseVectorMode(c.VectorMode)
	if err != nil {
		return compose.Config{}, fmt.Errorf("COMPOSE_VECTOR_MODE: %w", err)
	}

	cfg := compose.Config{
		JPEGQuality:       c.JPEGQuality,
		VectorMode:        mode,
		DecodeConcurrency: c.DecodeConcurrency,
		Limits: compose.Limits{
			MaxLayers:     c.MaxLayers,
			MaxPixels:     c.MaxPixels,
			MaxInputBytes: c.MaxInputBytes,
		},
	}
	if len(c.FontDirs) > 0 {
		cfg.Fonts = compose.NewFontStore(c.FontDirs)
	}
	return cfg, nil
}

type RateLimitConfig struct {
	Enabled       bool
	Requests      int
	Window        time.Duration
	SubjectHeader string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

func (r RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
	}
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (s StorageConfig) Enabled() bool {
	return strings.TrimSpace(s.Endpoint) != ""
}

type DatabaseConfig struct {
	DSN string
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:            env("LAYERFLOW_API_ADDR", ":8080"),
			ReadTimeout:     envDuration("LAYERFLOW_API_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    envDuration("LAYERFLOW_API_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: envDuration("LAYERFLOW_API_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Compose: ComposeConfig{
			JPEGQuality:       envInt("COMPOSE_JPEG_QUALITY", compose.DefaultJPEGQuality),
			VectorMode:        env("COMPOSE_VECTOR_MODE", string(compose.VectorModeDirect)),
			DecodeConcurrency: envInt("COMPOSE_DECODE_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxLayers:         envInt("COMPOSE_MAX_LAYERS", 64),
			MaxPixels:         envInt64("COMPOSE_MAX_PIXELS", 64_000_000),
			MaxInputBytes:     envInt64("COMPOSE_MAX_INPUT_BYTES", 64<<20),
			FontDirs:          envList("COMPOSE_FONT_DIRS"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       envBool("RATE_LIMIT_ENABLED", true),
			Requests:      envInt("RATE_LIMIT_REQUESTS", 60),
			Window:        envDuration("RATE_LIMIT_WINDOW", time.Minute),
			SubjectHeader: env("RATE_LIMIT_SUBJECT_HEADER", "X-User-ID"),
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", ""),
			Password: env("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", ""),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "layerflow-inputs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "layerflow-api"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// envList splits a path list the way PATH is split on this platform.
func envList(key string) []string {
	var out []string
	for _, item := range filepath.SplitList(env(key, "")) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
