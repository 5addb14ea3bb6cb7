package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/gemini-learner/internal/agent"
	"github.com/ashureev/gemini-learner/internal/api"
	"github.com/ashureev/gemini-learner/internal/config"
	"github.com/ashureev/gemini-learner/internal/conversation"
	"github.com/ashureev/gemini-learner/internal/health"
	"github.com/ashureev/gemini-learner/internal/identity"
	"github.com/ashureev/gemini-learner/internal/middleware"
	"github.com/ashureev/gemini-learner/internal/realtime"
	"github.com/ashureev/gemini-learner/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and realtime server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "ai_enabled", cfg.AIEnabled())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	issuer := identity.NewCredentialIssuer(cfg.Credential.Secret, cfg.Credential.TTL)
	resolver := identity.NewOriginResolver(cfg.TrustedProxies)

	registry := realtime.NewRegistry()
	hub := realtime.NewHub(registry, realtime.DefaultWriteTimeout)
	var pusher realtime.Pusher = hub

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		relay := realtime.NewRedisRelay(client, hub)
		pusher = relay
		g.Go(func() error { return relay.Run(ctx) })
		slog.Info("Realtime relay enabled", "addr", cfg.Redis.Addr, "channel", realtime.RelayChannel)
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer conversationLogger.Close()

	var generator agent.Generator
	if cfg.AIEnabled() {
		gemini, err := agent.NewGeminiClient(ctx, agent.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			Timeout: cfg.Gemini.Timeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize gemini client: %w", err)
		}
		generator = gemini
		slog.Info("AI turns enabled", "model", cfg.Gemini.Model)
	} else {
		slog.Info("AI features disabled (GEMINI_API_KEY not set)")
	}

	pipeline := conversation.New(repo, generator, pusher, conversation.Config{
		Limits:         cfg.Limits,
		SerializeTurns: cfg.Turn.Serialize,
		Log:            conversationLogger,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     newRouter(cfg, repo, issuer, resolver, registry, pipeline),
		ReadTimeout: 30 * time.Second,
		// WebSocket connections are long lived.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return conversation.RunBusyReaper(ctx, repo, cfg.Turn.ReapInterval, cfg.Turn.BusyStaleAfter)
	})

	if cfg.GRPCPort != "" {
		hs := health.NewServer(repo, 0)
		g.Go(func() error {
			slog.Info("gRPC health listening", "port", cfg.GRPCPort)
			return hs.ListenAndServe(ctx, ":"+cfg.GRPCPort)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down gracefully...")
		return shutdown(srv, pipeline, registry, cfg.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

func newRouter(
	cfg *config.Config,
	repo store.Repository,
	issuer *identity.CredentialIssuer,
	resolver *identity.OriginResolver,
	registry *realtime.Registry,
	pipeline *conversation.Pipeline,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL)))
	r.Use(resolver.Middleware)

	api.NewHealthHandler(repo, cfg.AIEnabled()).RegisterHealth(r)
	api.NewSessionHandler(repo, issuer).RegisterRoutes(r)
	api.NewMessageHandler(repo, pipeline).RegisterRoutes(r)

	r.Get("/ws", realtime.NewHandler(repo, issuer, registry, cfg.FrontendURL, cfg.IsDevelopment()).ServeHTTP)

	return r
}

// shutdown stops accepting requests, drains in-flight turns and closes
// realtime connections.
func shutdown(srv *http.Server, pipeline *conversation.Pipeline, registry *realtime.Registry, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := pipeline.Close(ctx); err != nil {
		slog.Warn("Turns abandoned at shutdown", "error", err)
	}
	registry.CloseAll("server shutting down")
	return errors.Join(errs...)
}
