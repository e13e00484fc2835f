package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamehub-backend/internal/auth"
	"github.com/gamehub-backend/internal/config"
	"github.com/gamehub-backend/internal/handler"
	"github.com/gamehub-backend/internal/kafka"
	"github.com/gamehub-backend/internal/postgres"
	"github.com/gamehub-backend/internal/redis"
	"github.com/gamehub-backend/internal/service"
	"github.com/gamehub-backend/internal/websocket"
	"github.com/gamehub-backend/internal/worker"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load env file", "path", *envFile, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		if cfg, err = config.DefaultConfig(); err != nil {
			logger.Error("invalid environment configuration", "error", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis holds the live server registry
	logger.Info("connecting to redis", "addr", cfg.Redis.Addr)
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		return err
	}
	registry := redis.NewRegistry(redisClient, &cfg.Registry, logger)
	defer registry.Close()

	// PostgreSQL holds accounts, ranks and achievements
	logger.Info("connecting to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		return err
	}

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()

	verifier := auth.NewVerifier(auth.TokenConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	gate := auth.NewGate(repo, logger)

	ranks := service.NewRankLookup(repo, cfg.Matchmaking.DefaultRank)
	matchmaker := service.NewMatchmaker(registry, ranks, logger)
	operations := service.NewOperations(
		gate,
		repo,
		registry,
		ranks,
		matchmaker,
		service.Options{
			OperatorRole: cfg.Auth.OperatorRole,
			StoreTimeout: cfg.Store.Timeout,
		},
		logger,
	)
	operations.SetNotifier(wsHub)
	wsHub.SetServerSource(operations)

	sweeper := worker.NewSweeper(registry, cfg.Registry.SweepInterval, cfg.Store.Timeout, logger)
	if !cfg.Registry.SweepDisabled {
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	// Heartbeats over Kafka are optional; HTTP publishing works without them
	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(&cfg.Kafka, operations, verifier, logger)
		if err != nil {
			logger.Warn("failed to create kafka consumer, continuing without kafka", "error", err)
		} else if err := consumer.Start(); err != nil {
			logger.Warn("failed to start kafka consumer, continuing without kafka", "error", err)
			if err := consumer.Stop(); err != nil {
				logger.Error("failed to stop kafka consumer", "error", err)
			}
		} else {
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.Error("failed to stop kafka consumer", "error", err)
				}
			}()
		}
	}

	httpHandler := handler.NewHandler(operations, verifier, wsHub, map[string]handler.Pinger{
		"redis":    registry,
		"postgres": repo,
	}, registry, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
