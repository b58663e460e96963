package main

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/utility-sync-worker/internal/anomaly"
	"github.com/septivank/utility-sync-worker/internal/config"
	"github.com/septivank/utility-sync-worker/internal/db"
	"github.com/septivank/utility-sync-worker/internal/httpserver"
	"github.com/septivank/utility-sync-worker/internal/logging"
	"github.com/septivank/utility-sync-worker/internal/mq"
	"github.com/septivank/utility-sync-worker/internal/remote"
	"github.com/septivank/utility-sync-worker/internal/repository"
	"github.com/septivank/utility-sync-worker/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.Processor,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.ActionQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.ActionExchange,
		RoutingKey:    cfg.RabbitMQ.ActionRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting action consumer",
				zap.String("queue", cfg.RabbitMQ.ActionQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("action consumer stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

func startPoller(lc fx.Lifecycle, poller *service.Poller, entries []*service.Entry, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			poller.Start(context.Background())
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			poller.Stop()
			for _, entry := range entries {
				entry.Unload(stopCtx)
			}
			logger.Info("poller stopped", zap.Int("entries", len(entries)))
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *httpserver.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(stopCtx context.Context) error {
			return srv.Stop(stopCtx)
		},
	})
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.DefaultMaxDifference)
}

// ProvideEventBus creates the outcome event bus and flushes it on shutdown
func ProvideEventBus(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.EventBus, error) {
	bus, err := mq.NewEventBus(conn, cfg.RabbitMQ.EventExchange, cfg.RabbitMQ.EventBufferSize, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(stopCtx context.Context) error {
			return bus.Close(stopCtx)
		},
	})
	return bus, nil
}

// ProvideEntries builds one remote client and entry per configured login
func ProvideEntries(
	cfg *config.Config,
	repo *repository.Repository,
	bus *mq.EventBus,
	detector *anomaly.Detector,
	logger *zap.Logger,
) ([]*service.Entry, error) {
	entries := make([]*service.Entry, 0, len(cfg.Entries))
	for _, entryCfg := range cfg.Entries {
		entryLogger := logging.WithEntry(logger, entryCfg.ID, entryCfg.Username)

		client, err := remote.NewClient(remote.ClientConfig{
			BaseURL:  cfg.Remote.BaseURL,
			Username: entryCfg.Username,
			Password: entryCfg.Password,
			Timeout:  cfg.Remote.Timeout,
			Logger:   entryLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", entryCfg.ID, err)
		}

		entries = append(entries, service.NewEntry(entryCfg, client, repo, bus, detector, logger))
	}
	return entries, nil
}

// ProvidePoller creates the background poller
func ProvidePoller(entries []*service.Entry, cfg *config.Config, logger *zap.Logger) *service.Poller {
	return service.NewPoller(entries, cfg.Poll.Tick, logger)
}

// ProvideProcessor creates the action processor
func ProvideProcessor(entries []*service.Entry, logger *zap.Logger) *service.Processor {
	return service.NewProcessor(entries, time.Local, logger)
}

// ProvideHTTPServer creates the status server
func ProvideHTTPServer(
	cfg *config.Config,
	entries []*service.Entry,
	processor *service.Processor,
	repo *repository.Repository,
	logger *zap.Logger,
) *httpserver.Server {
	return httpserver.New(fmt.Sprintf(":%d", cfg.ServicePort), entries, processor, repo, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.MaxConns)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
