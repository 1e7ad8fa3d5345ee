// Package main is the entry point for the batch persistence consumer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shoplane/chat-pipeline/internal/config"
	"github.com/shoplane/chat-pipeline/internal/handler"
	"github.com/shoplane/chat-pipeline/internal/middleware"
	natsclient "github.com/shoplane/chat-pipeline/internal/nats"
	"github.com/shoplane/chat-pipeline/internal/persist"
	"github.com/shoplane/chat-pipeline/internal/store"
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

	log.Info("starting batch persistence consumer")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-persister", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to the relational store
	pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("failed to connect to postgres", zap.Error(err))
		os.Exit(1)
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		log.Error("failed to ensure schema", zap.Error(err))
		os.Exit(1)
	}

	// Connect to NATS and open the durable pull subscription
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

	sub, err := natsclient.NewPullSubscription(ctx, nc, natsclient.SubscriptionConfig{
		ConsumerName:  cfg.ConsumerName,
		FetchBatch:    cfg.FetchBatch,
		FetchMaxWait:  cfg.FetchMaxWait,
		AckWait:       cfg.AckWait,
		LivenessEvery: cfg.LivenessEvery,
	}, log)
	if err != nil {
		log.Error("failed to open subscription", zap.Error(err))
		os.Exit(1)
	}
	defer sub.Close()

	// Consumer loop
	consumer := persist.New(sub, pg, persist.Config{
		FlushInterval:  cfg.FlushInterval,
		HighWaterMark:  cfg.HighWaterMark,
		LowWaterMark:   cfg.LowWaterMark,
		BackoffCeiling: cfg.BackoffCeiling,
	}, log)

	runCtx, stop := context.WithCancel(ctx)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(runCtx)
	}()

	// Health/metrics listener
	healthHandler := handler.NewHealthHandler(
		handler.ReadinessCheck{
			Name: "nats",
			Check: func(ctx context.Context) error {
				if !nc.IsConnected() {
					return fmt.Errorf("not connected")
				}
				return nil
			},
		},
		handler.ReadinessCheck{Name: "postgres", Check: pg.Ping},
	)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal or consumer exit
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutting down consumer")
		stop()
		if err := <-consumerDone; err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer exited with error", zap.Error(err))
		}
	case err := <-consumerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer exited with error", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("consumer stopped")
}
