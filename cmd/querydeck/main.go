package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/config"
	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/llm"
	"github.com/querydeck/querydeck/internal/server"
	"github.com/querydeck/querydeck/internal/session"
	"github.com/querydeck/querydeck/internal/sqlexec"
	redisstore "github.com/querydeck/querydeck/internal/store/redis"
	"github.com/querydeck/querydeck/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("QUERYDECK_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("QUERYDECK_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Warehouse.MaxConns < 0 || cfg.Warehouse.MaxConns > math.MaxInt32 {
		return fmt.Errorf("warehouse max_conns %d out of int32 range", cfg.Warehouse.MaxConns)
	}

	// Connect to the PostgreSQL warehouse.
	executor, err := sqlexec.NewPG(ctx, cfg.Warehouse.DSN(), int32(cfg.Warehouse.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer executor.Close()

	// Open the session snapshot database.
	persister, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer persister.Close()

	// Connect to Redis for the event stream, when configured.
	var pubsub *redisstore.PubSub
	var publisher session.PubSubPublisher
	if cfg.Redis.EventsEnabled() {
		pubsub, err = redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer pubsub.Close()
		publisher = pubsub
	} else {
		log.Info().Msg("redis not configured, session events disabled")
	}

	events := session.NewEventBus(publisher, redisstore.SessionChannel)
	defer events.Close()

	// Create the LLM client.
	llmClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)

	// Create the session manager.
	budgets := history.DefaultBudgets()
	budgets.MaxMessages = cfg.Session.MaxMessages

	manager := session.NewManager(executor, llmClient, events, persister, session.ManagerConfig{
		Budgets: budgets,
		Turn: session.TurnConfig{
			SafeguardEnabled: cfg.Session.SafeguardEnabled,
			QueryTimeout:     cfg.Session.QueryTimeout,
			MaxToolRounds:    cfg.Session.MaxToolRounds,
			SystemPrompt:     cfg.Session.SystemPrompt,
		},
	})

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, manager, pubsub)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
