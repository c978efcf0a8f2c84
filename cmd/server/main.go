package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "chemsearch/searchservice/internal/api/http"
	"chemsearch/searchservice/internal/app"
	"chemsearch/searchservice/internal/metrics"
	"chemsearch/searchservice/internal/providers/pubchem"
	"chemsearch/searchservice/internal/search"
	"chemsearch/searchservice/internal/telemetry"
)

const serviceName = "compound-search"

func main() {
	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("pubchemBaseURL", cfg.PubChemBaseURL),
		slog.Duration("lookupTimeout", cfg.LookupTimeout),
		slog.Float64("lookupRatePerSec", cfg.LookupRatePerSec),
		slog.Int("lookupMaxInFlight", cfg.LookupMaxInFlight),
		slog.Duration("debounce", cfg.Debounce),
		slog.Int("suggestLimit", cfg.SuggestLimit),
		slog.Duration("sessionIdleTTL", cfg.SessionIdleTTL),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
		slog.Duration("cacheTTL", cfg.CacheTTL),
	)

	client := pubchem.NewClient(pubchem.Config{
		BaseURL:       cfg.PubChemBaseURL,
		Client:        &http.Client{Timeout: cfg.LookupTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		UserAgent:     cfg.UserAgent,
		Cache:         buildLookupCache(cfg, logger),
		CacheTTL:      cfg.CacheTTL,
		RatePerSecond: cfg.LookupRatePerSec,
		MaxConcurrent: cfg.LookupMaxInFlight,
	})
	lookup := search.NewHealthLookup(client, search.WithExpectedErrors(pubchem.IsNotFound))

	manager := search.NewManager(lookup,
		search.WithSessionOptions(
			search.WithDebounce(cfg.Debounce),
			search.WithSuggestionLimit(cfg.SuggestLimit),
		),
		search.WithIdleTTL(cfg.SessionIdleTTL),
		search.WithManagerLogger(logger),
	)

	handler := apihttp.NewServer(manager, lookup,
		apihttp.WithLogger(logger),
		apihttp.WithLookupHealth(lookup),
		apihttp.WithSuggestLimit(cfg.SuggestLimit),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Session streams stay open for as long as the client watches.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	manager.StartBackground(rootCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("compound search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.LookupTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	manager.Shutdown()
	logger.Info("compound search service stopped")
}

// buildLookupCache layers the in-process LRU in front of Redis when Redis is
// configured and reachable.
func buildLookupCache(cfg app.Config, logger *slog.Logger) pubchem.Cache {
	if cfg.CacheDisabled {
		return nil
	}
	layers := []pubchem.Cache{pubchem.NewMemoryCache(cfg.CacheMaxEntries, cfg.CacheTTL)}

	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return pubchem.NewTieredCache(cfg.CacheTTL, layers...)
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
		return pubchem.NewTieredCache(cfg.CacheTTL, layers...)
	}
	redisCache := pubchem.NewRedisCache(redis.NewClient(redisOpts))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
		return pubchem.NewTieredCache(cfg.CacheTTL, layers...)
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return pubchem.NewTieredCache(cfg.CacheTTL, append(layers, redisCache)...)
}
