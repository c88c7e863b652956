// Ammora - conversational companion chat server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/ashureev/ammora/internal/api"
	"github.com/ashureev/ammora/internal/chat"
	"github.com/ashureev/ammora/internal/config"
	"github.com/ashureev/ammora/internal/llm"
	"github.com/ashureev/ammora/internal/prompt"
	"github.com/ashureev/ammora/internal/store"
)

func main() {
	flagSet := pflag.NewFlagSet("ammora", pflag.ExitOnError)
	envFile := flagSet.String("env-file", ".env", "dotenv file to load before reading the environment")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	_ = flagSet.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println("ammora", api.Version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "llm_mode", cfg.LLM.Mode, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	persona := prompt.DefaultPersona()
	if cfg.PersonaFile != "" {
		persona, err = prompt.LoadPersona(cfg.PersonaFile)
		if err != nil {
			slog.Error("Failed to load persona", "path", cfg.PersonaFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Persona loaded", "name", persona.Name, "path", cfg.PersonaFile)
	}

	completions, err := llm.NewCompletionClient(llm.CompletionConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		HTTPTimeout: cfg.LLM.HTTPTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize completion client", "error", err)
		os.Exit(1)
	}

	// Thread mode needs an assistant; stateless mode still uses it if configured.
	var threads llm.ThreadResponder
	if cfg.LLM.AssistantID != "" {
		assistant, err := llm.NewAssistantClient(llm.AssistantConfig{
			APIKey:             cfg.LLM.APIKey,
			BaseURL:            cfg.LLM.BaseURL,
			AssistantID:        cfg.LLM.AssistantID,
			TruncationMessages: cfg.LLM.TruncationMessages,
			PollInterval:       cfg.LLM.PollInterval,
			RunTimeout:         cfg.LLM.RunTimeout,
			HTTPTimeout:        cfg.LLM.HTTPTimeout,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize assistant client", "error", err)
			os.Exit(1)
		}
		threads = assistant
		slog.Info("Assistant threads enabled", "assistant_id", cfg.LLM.AssistantID)
	}

	engine, err := chat.NewEngine(chat.Deps{
		Repo:        repo,
		Cache:       chat.NewMemoryHistoryCache(cfg.Chat.HistoryCacheSize),
		Builder:     prompt.NewBuilder(persona),
		Threads:     threads,
		Completions: completions,
		Logger:      logger,
	}, chat.Config{
		RefreshEvery:      cfg.Chat.ContextRefreshEvery,
		HistoryLimit:      cfg.Chat.HistoryCacheSize,
		PersistWorkers:    cfg.Chat.PersistWorkers,
		PersistQueueSize:  cfg.Chat.PersistQueueSize,
		PersistJobTimeout: cfg.Chat.PersistJobTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize chat engine", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, engine, cfg.RequestBodyLimit, logger)
	registry := api.NewConnRegistry()
	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
		Health:         api.NewHealthHandler(repo, engine, 5*time.Second),
		Chat:           api.NewChatHandler(baseHandler, cfg.LLM.Mode),
		WebSocket:      api.NewWebSocketHandler(engine, registry, wsOriginPatterns(cfg), logger),
	})

	// Create server.
	// No WriteTimeout: a turn may wait on the model for up to RUN_TIMEOUT.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// gRPC health service for orchestrators (optional).
	var grpcSrv *grpc.Server
	var grpcHealth *api.GRPCHealth
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		grpcSrv = grpc.NewServer()
		grpcHealth = api.NewGRPCHealth(repo, logger)
		grpcHealth.Register(grpcSrv)
		go grpcHealth.Run(ctx, 10*time.Second)
		go func() {
			slog.Info("gRPC health listening", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				slog.Error("gRPC server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	if grpcHealth != nil {
		grpcHealth.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	// Drain background persistence before the store closes.
	if err := engine.Close(); err != nil {
		slog.Error("Persistence did not drain", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func wsOriginPatterns(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{hostOf(cfg.FrontendURL)}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
