// Package main is the entry point for the chat gateway server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shoplane/chat-pipeline/internal/config"
	"github.com/shoplane/chat-pipeline/internal/gateway"
	"github.com/shoplane/chat-pipeline/internal/handler"
	"github.com/shoplane/chat-pipeline/internal/middleware"
	natsclient "github.com/shoplane/chat-pipeline/internal/nats"
	"github.com/shoplane/chat-pipeline/internal/presence"
	"github.com/shoplane/chat-pipeline/internal/queue"
	"github.com/shoplane/chat-pipeline/internal/unseen"
	"github.com/shoplane/chat-pipeline/pkg/logger"
	"github.com/shoplane/chat-pipeline/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting gateway server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to the shared cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", zap.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Durable queue producer
	var (
		publisher queue.Publisher
		readiness []handler.ReadinessCheck
	)
	switch cfg.QueueDriver {
	case "memory":
		log.Warn("using in-process queue, messages are not durable across restarts")
		publisher = queue.NewMemory(1)
	default:
		nc, err := natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer nc.Close()

		if err := natsclient.NewStreamManager(nc).EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		publisher = natsclient.NewProducer(nc)

		readiness = append(readiness, handler.ReadinessCheck{
			Name: "nats",
			Check: func(ctx context.Context) error {
				if !nc.IsConnected() {
					return fmt.Errorf("not connected")
				}
				return nil
			},
		})
	}
	defer publisher.Close()

	readiness = append(readiness, handler.ReadinessCheck{
		Name:  "redis",
		Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	// Wire the registry, router, and websocket gateway
	registry := gateway.NewRegistry(log)
	unseenLedger := unseen.NewRedisLedger(redisClient)
	presenceLedger := presence.New(redisClient, cfg.PresenceTTL)
	router := gateway.NewRouter(registry, unseenLedger, publisher, log)
	ws := gateway.New(log, registry, router, presenceLedger, gateway.Config{
		SendQueueSize:   cfg.SendQueueSize,
		WriteTimeout:    cfg.WriteTimeout,
		ReadIdleTimeout: cfg.ReadIdleTimeout,
	})

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(readiness...)
	unseenHandler := handler.NewUnseenHandler(unseenLedger, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint; the first frame identifies the caller, the token
	// only gates the upgrade when auth is enabled.
	if cfg.AuthEnabled {
		r.With(middleware.Auth(cfg.JWTSecret)).Get("/ws", ws.HandleWS)
	} else {
		r.Get("/ws", ws.HandleWS)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/unseen", unseenHandler.Get)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Signal every live connection so read loops exit and presence entries
	// are deleted.
	registry.CloseAll()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
