package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
	"github.com/tjfontaine/responses-relay/internal/config"
	"github.com/tjfontaine/responses-relay/internal/controlplane"
	"github.com/tjfontaine/responses-relay/internal/eventlog"
	"github.com/tjfontaine/responses-relay/internal/frontdoor/turnresponse"
	"github.com/tjfontaine/responses-relay/internal/frontdoor/vectorstores"
	"github.com/tjfontaine/responses-relay/internal/server"
	"github.com/tjfontaine/responses-relay/internal/storage"
	"github.com/tjfontaine/responses-relay/internal/storage/memory"
	"github.com/tjfontaine/responses-relay/internal/storage/sqlite"
	"github.com/tjfontaine/responses-relay/internal/telemetry"
	"github.com/tjfontaine/responses-relay/internal/tokens"
	"github.com/tjfontaine/responses-relay/internal/turn"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.Options{}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	if store != nil {
		defer store.Close()
	}

	srv, err := newServer(cfg, logger, store)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	case <-sigChan:
	}

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("shutdown complete")
}

// newServer wires the upstream client, the handlers and the routes.
func newServer(cfg *config.Config, logger *slog.Logger, store storage.TurnStore) (*server.Server, error) {
	httpClient := &http.Client{Transport: http.DefaultTransport}
	if cfg.Telemetry.Enabled {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	client := openai.NewClient(cfg.OpenAI.APIKey,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithHTTPClient(httpClient),
	)

	turnOpts := []turnresponse.Option{
		turnresponse.WithLogger(logger),
		turnresponse.WithTokenCounter(tokens.NewRegistry()),
	}
	if cfg.Logging.Dir != "" {
		logs, err := eventlog.New(cfg.Logging.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		turnOpts = append(turnOpts, turnresponse.WithEventLog(logs))
		logger.Info("event logging enabled", slog.String("dir", logs.Dir()))
	}
	if store != nil {
		turnOpts = append(turnOpts, turnresponse.WithStore(store))
	}

	turnHandler := turnresponse.NewHandler(turn.NewInvoker(client, cfg.OpenAI.Model), turnOpts...)
	storeHandler := vectorstores.NewHandler(client, logger)

	srv := server.New(server.Options{
		Port:    cfg.Server.Port,
		Logger:  logger,
		Tracing: cfg.Telemetry.Enabled,
	})

	// Streams are bounded by the client, not a server deadline
	srv.Router.Post("/turn_response", turnHandler.HandleTurnResponse)

	srv.Router.Route("/vector_stores", func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(server.DefaultRequestTimeout))
		r.Post("/add_file", storeHandler.HandleAddFile)
		r.Get("/list_files", storeHandler.HandleListFiles)
		r.Get("/retrieve_store", storeHandler.HandleRetrieveStore)
	})

	srv.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if cfg.Metrics.Enabled {
		srv.Router.Handle("/metrics", promhttp.Handler())
	}

	srv.Router.Group(func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(server.DefaultRequestTimeout))
		r.Mount("/admin", controlplane.NewServer(store))
	})

	logger.Info("relay configured",
		slog.String("model", cfg.OpenAI.Model),
		slog.String("base_url", cfg.OpenAI.BaseURL),
		slog.String("storage", cfg.Storage.Type),
		slog.Bool("metrics", cfg.Metrics.Enabled),
		slog.Bool("telemetry", cfg.Telemetry.Enabled),
	)
	return srv, nil
}

// openStore returns nil for storage type "none".
func openStore(cfg config.StorageConfig) (storage.TurnStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.New("unknown storage type: " + cfg.Type)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
