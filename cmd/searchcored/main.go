package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/cache"
	"github.com/kitedocs/searchcore/internal/config"
	dbRedis "github.com/kitedocs/searchcore/internal/db/redis"
	logpkg "github.com/kitedocs/searchcore/internal/logger"
	"github.com/kitedocs/searchcore/internal/metrics"
	"github.com/kitedocs/searchcore/internal/repository/embcache"
	indexrepo "github.com/kitedocs/searchcore/internal/repository/index"
	chiTransport "github.com/kitedocs/searchcore/internal/transport/chi"
	openaiTransport "github.com/kitedocs/searchcore/internal/transport/openai"
	classifyuc "github.com/kitedocs/searchcore/internal/usecase/classify"
	hybriduc "github.com/kitedocs/searchcore/internal/usecase/hybrid"
	optimizeuc "github.com/kitedocs/searchcore/internal/usecase/optimize"
	orchestratoruc "github.com/kitedocs/searchcore/internal/usecase/orchestrator"
	"github.com/kitedocs/searchcore/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting searchcore API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register core metrics explicitly (no init())
	metrics.RegisterCoreMetrics()

	// Typed cache over the same store — degraded mode if the probe fails.
	cacheStore := cache.New(ctx, store, cacheTypesFromConfig(cfg.Cache), metrics.CacheOpsTotal, logger)
	logger.Info("Cache store created", zap.Bool("available", cacheStore.Available()))

	// Embedder chain: OpenAI -> Cached
	baseEmbedder := openaiTransport.NewEmbedder(openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	}, logger)
	embedder := embcache.NewCachedEmbedder(baseEmbedder, cacheStore, logger)

	completer := openaiTransport.NewCompleter(openaiTransport.CompleterConfig{
		APIKey:  cfg.Classifier.APIKey,
		BaseURL: cfg.Classifier.BaseURL,
		Model:   cfg.Classifier.Model,
	}, logger)

	classifySvc := classifyuc.NewService(
		completer, cacheStore, cfg.Classifier.Weights,
		time.Duration(cfg.Classifier.TimeoutSec)*time.Second, logger,
	)
	optimizeSvc := optimizeuc.NewService(
		cacheStore,
		optimizeuc.NewLexicon(cfg.Optimizer.QuestionWords, cfg.Optimizer.Conjunctions, cfg.Optimizer.TechnicalTerms),
		logger,
	)

	indexRepo := indexrepo.New(store, cfg.Search.IndexName, cfg.Search.VectorWeight, logger)
	engine := hybriduc.New(indexRepo, cfg.Search.MinScore, logger)

	orch := orchestratoruc.New(
		classifySvc, optimizeSvc, embedder, engine, cacheStore,
		orchestratoruc.Config{
			DefaultLimit:   cfg.Search.DefaultLimit,
			MaxLimit:       cfg.Search.MaxLimit,
			MaxQueryLen:    cfg.Search.MaxQueryLen,
			DefaultTimeout: time.Duration(cfg.Search.DefaultTimeoutSec) * time.Second,
			MinScore:       cfg.Search.MinScore,
		},
		logger,
	)

	server := chiTransport.NewServer(orch, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Mount(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// cacheTypesFromConfig converts the YAML cache table into typed policies.
func cacheTypesFromConfig(cfg config.CacheConfig) map[cache.Type]cache.TypeConfig {
	types := make(map[cache.Type]cache.TypeConfig, len(cfg.Types))
	for name, tc := range cfg.Types {
		types[cache.Type(name)] = cache.TypeConfig{
			Prefix:   tc.Prefix,
			TTL:      time.Duration(tc.TTLSec) * time.Second,
			Compress: tc.Compress,
		}
	}
	return types
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
