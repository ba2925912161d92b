package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/predictionmkt/engine/internal/balance"
	"github.com/predictionmkt/engine/internal/dispatcher"
	"github.com/predictionmkt/engine/internal/executor"
	"github.com/predictionmkt/engine/internal/httpapi"
	"github.com/predictionmkt/engine/internal/marketstore"
	"github.com/predictionmkt/engine/internal/positionstore"
	"github.com/predictionmkt/engine/internal/ratelimit"
	"github.com/predictionmkt/engine/internal/store"
	"github.com/predictionmkt/engine/internal/wsfeed"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize durable store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Core services ---
	balances := balance.NewService(st)
	markets := marketstore.New(st)
	positions := positionstore.New(st)
	disp := dispatcher.New(ctx)
	wsHub := wsfeed.NewHub()

	execSvc := executor.NewService(st, markets, positions, st, balances, disp, wsHub)

	limiterCapacity := envInt("RATE_LIMIT_CAPACITY", 100)
	limiterRefill := envFloat("RATE_LIMIT_REFILL_PER_SEC", 10)
	limiter := ratelimit.New(limiterCapacity, limiterRefill)

	exemptPrefixes := []string{"/health", "/metrics"}
	if raw := os.Getenv("RATE_LIMIT_EXEMPT_PREFIXES"); raw != "" {
		exemptPrefixes = strings.Split(raw, ",")
	}

	api := httpapi.NewService(execSvc, markets, limiter, exemptPrefixes, wsHub)

	// --- Background loops ---
	go balances.Run(ctx)
	go markets.Run(ctx)
	go positions.Run(ctx)
	go limiter.Run(ctx)
	go wsHub.Run(ctx)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("predictionmkt engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down predictionmkt engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("predictionmkt engine stopped")
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid int env var, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}
