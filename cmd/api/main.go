package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/layerflow/internal/api"
	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/dunamismax/layerflow/internal/config"
	"github.com/dunamismax/layerflow/internal/ratelimit"
	"github.com/dunamismax/layerflow/internal/storage"
	"github.com/dunamismax/layerflow/internal/store"
	"github.com/dunamismax/layerflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := compose.Startup(); err != nil {
		logger.Fatalf("compose runtime startup failed: %v", err)
	}
	defer compose.Shutdown()

	composerCfg, err := cfg.Compose.ComposerConfig()
	if err != nil {
		logger.Fatalf("invalid compose config: %v", err)
	}
	composer, err := compose.NewComposer(composerCfg)
	if err != nil {
		logger.Fatalf("composer init failed: %v", err)
	}
	logger.Printf("composer ready backend=%s vector_mode=%s quality=%d max_layers=%d max_pixels=%d",
		composer.Backend(), composerCfg.VectorMode, cfg.Compose.JPEGQuality, cfg.Compose.MaxLayers, cfg.Compose.MaxPixels)

	usage := newUsageStore(startupCtx, cfg, logger)
	defer func() {
		if err := usage.Close(); err != nil {
			logger.Printf("usage store close error: %v", err)
		}
	}()

	limiter, closeLimiter := newRateLimiter(startupCtx, cfg, logger)
	defer closeLimiter()

	opts := api.Options{
		Logger:        logger,
		Composer:      composer,
		Usage:         usage,
		RateLimiter:   limiter,
		Tracer:        otel.Tracer("layerflow/api"),
		SubjectHeader: cfg.RateLimit.SubjectHeader,
		MaxInputBytes: cfg.Compose.MaxInputBytes,
	}
	if objects := newObjectStorage(startupCtx, cfg, logger); objects != nil {
		opts.Storage = objects
	}
	app := api.NewServer(opts)

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

func newUsageStore(ctx context.Context, cfg config.Config, logger *log.Logger) store.UsageStore {
	if cfg.Database.DSN == "" {
		logger.Printf("usage store=memory")
		return store.NewMemoryUsageStore(0)
	}
	pg, err := store.NewPostgresUsageStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("usage store init failed: %v", err)
	}
	logger.Printf("usage store=postgres")
	return pg
}

// newRateLimiter prefers a shared Redis bucket and falls back to per-process
// buckets when Redis is absent or failing.
func newRateLimiter(ctx context.Context, cfg config.Config, logger *log.Logger) (api.RateLimiter, func()) {
	noop := func() {}
	if !cfg.RateLimit.Enabled {
		logger.Printf("rate limiting disabled")
		return nil, noop
	}

	local, err := ratelimit.NewLocalTokenBucket(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	if err != nil {
		logger.Fatalf("rate limiter init failed: %v", err)
	}
	if !cfg.Redis.Enabled() {
		logger.Printf("rate limiter=local requests=%d window=%s", cfg.RateLimit.Requests, cfg.RateLimit.Window)
		return local, noop
	}

	client := redis.NewClient(cfg.Redis.Options())
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Printf("redis ping failed addr=%s err=%v; buckets fall back to local until it recovers", cfg.Redis.Addr, err)
	}
	shared, err := ratelimit.NewRedisTokenBucket(client, cfg.RateLimit.Requests, cfg.RateLimit.Window, "")
	if err != nil {
		logger.Fatalf("rate limiter init failed: %v", err)
	}
	logger.Printf("rate limiter=redis addr=%s requests=%d window=%s", cfg.Redis.Addr, cfg.RateLimit.Requests, cfg.RateLimit.Window)

	limiter := ratelimit.Fallback{
		Primary:   shared,
		Secondary: local,
		OnError: func(err error) {
			logger.Printf("redis rate limiter failed, using local bucket err=%v", err)
		},
	}
	return limiter, func() {
		if err := client.Close(); err != nil {
			logger.Printf("redis client close error: %v", err)
		}
	}
}

func newObjectStorage(ctx context.Context, cfg config.Config, logger *log.Logger) *storage.Client {
	if !cfg.Storage.Enabled() {
		logger.Printf("object storage disabled; manifest and upload routes return 503")
		return nil
	}
	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("object storage init failed: %v", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		logger.Fatalf("object storage bucket check failed: %v", err)
	}
	logger.Printf("object storage endpoint=%s bucket=%s", cfg.Storage.Endpoint, client.Bucket())
	return client
}
