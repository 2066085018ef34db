package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketkit/api-ratelimit/middleware/nethttp"
	"github.com/marketkit/api-ratelimit/pkg/config"
	"github.com/marketkit/api-ratelimit/pkg/limiter"
)

func buildLogger(cfg config.LoggingConfig) *zap.Logger {
	zc := zap.NewProductionConfig()
	if !cfg.JSON {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zc.Level = lvl
	}
	log, err := zc.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}

func main() {
	cfg, err := config.Load(os.Getenv("RATELIMIT_CONFIG"))
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("config error", zap.Error(err))
	}
	log := buildLogger(cfg.Logging)
	defer log.Sync()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	table, err := cfg.RuleTable()
	if err != nil {
		log.Fatal("invalid rules", zap.Error(err))
	}

	opts := []limiter.EngineOption{
		limiter.WithLogger(log),
		limiter.WithAuditor(limiter.NewZapAuditor(log, 10, 20)),
		limiter.WithExemptRoles(cfg.Exempt.Roles...),
		limiter.WithExemptAddresses(cfg.Exempt.Addresses...),
		limiter.WithLocalStore(limiter.NewMemoryStore(
			limiter.WithMemoryMaxBackoff(cfg.MaxBackoff()),
			limiter.WithSweepInterval(time.Duration(cfg.Sweep.IntervalS)*time.Second),
			limiter.WithRetention(time.Duration(cfg.Sweep.RetentionS)*time.Second),
		)),
	}

	// Probe the shared backend; a failed probe means local-only evaluation
	// until the next restart, which the engine reports via X-RateLimit-Mode.
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	shared, err := limiter.NewRedisStore(client,
		limiter.WithPrefix(cfg.Redis.Prefix),
		limiter.WithTimeout(cfg.RedisTimeout()),
		limiter.WithMaxBackoff(cfg.MaxBackoff()),
	)
	if err != nil {
		log.Warn("shared backend unreachable, running local-only", zap.Error(err))
	} else {
		opts = append(opts, limiter.WithSharedStore(shared))
	}

	eng := limiter.NewEngine(table, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	eng.LocalStore().StartSweeper(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong\n"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           nethttp.Middleware(eng, nethttp.WithAPIPrefix(cfg.APIPrefix))(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", zap.String("addr", srv.Addr), zap.String("redis", cfg.Redis.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}
