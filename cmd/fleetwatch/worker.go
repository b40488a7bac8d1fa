package main

import (
	"context"
	"net/http"

	"github.com/septivank/fleetwatch/internal/config"
	"github.com/septivank/fleetwatch/internal/ingest"
	"github.com/septivank/fleetwatch/internal/mq"
	"github.com/septivank/fleetwatch/internal/presence"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startIngestConsumer feeds broker telemetry batches into the gateway when
// RABBITMQ_INGEST_ENABLED is set
func startIngestConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	gateway *ingest.Gateway,
) error {
	if !cfg.RabbitMQ.IngestEnabled {
		logger.Info("broker ingest consumer disabled")
		return nil
	}

	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.IngestQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.IngestExchange,
		RoutingKey:       cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: gateway.HandleMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting ingest consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("ingest consumer stopped gracefully")
			return nil
		},
	})

	return nil
}

// startScheduler runs the offline sweep in the background
func startScheduler(lc fx.Lifecycle, scheduler *presence.Scheduler, cfg *config.Config, logger *zap.Logger) {
	if !cfg.Presence.SweepEnabled {
		logger.Info("offline sweep disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			scheduler.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}

// startHTTP forces construction of the server so its lifecycle hooks run
func startHTTP(*http.Server) {}
