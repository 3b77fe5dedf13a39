package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"tallybot/internal/amqp"
	"tallybot/internal/config"
	applog "tallybot/internal/log"
	"tallybot/internal/services"
	"tallybot/internal/storage"
	"tallybot/internal/store"
	"tallybot/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting tallybot ledger engine")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPCommandQueue, cfg.AMQPReplyQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	states := store.New(cfg.MaxBots, cfg.MaxChatsPerBot, cfg.MaxIdle)

	var publisher services.ReplyPublisher
	if amqpClient != nil {
		publisher = amqpClient
	}
	svc := services.NewCommandService(states, repo, repo, publisher, cfg.DefaultCutoffHour)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	sweeper := worker.NewSweepWorker(states, cfg.SweepInterval)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	if amqpClient != nil {
		g.Go(func() error {
			return amqpClient.ConsumeCommands(ctx, func(msg *amqp.CommandMessage) error {
				return svc.HandleMessage(ctx, msg)
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Engine stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}
