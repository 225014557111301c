package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-metrics/config"
	"order-metrics/internal/aggregator"
	"order-metrics/internal/api"
	"order-metrics/internal/broadcast"
	"order-metrics/internal/clickhouse"
	"order-metrics/internal/metrics"
	"order-metrics/internal/postgres"
	"order-metrics/internal/rabbitmq"
	"order-metrics/internal/snapshot"
	"order-metrics/internal/workers"
	"order-metrics/pkg/logger"
	"order-metrics/pkg/profiling"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	flush := logger.Init()

	if err := run(); err != nil {
		zap.L().Error("Order metrics service failed", zap.Error(err))
		flush()
		os.Exit(1)
	}
	flush()
}

func run() error {
	zap.L().Info("Starting order metrics service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	zap.L().Info("Configuration loaded",
		zap.String("queue", cfg.RabbitMQ.OrderQueue),
		zap.String("postgres", cfg.Postgres.Host),
		zap.Bool("clickhouse", cfg.ClickHouse.Enabled),
		zap.String("http", cfg.HTTP.Addr))

	stopProfiler, err := profiling.Start(cfg.Profiling)
	if err != nil {
		return err
	}
	defer stopProfiler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Postgres
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return err
	}
	defer pgClient.Close()
	zap.L().Info("Connected to Postgres")

	var (
		aggOpts []aggregator.Option
		facts   workers.FactSink
	)
	if cfg.ClickHouse.Enabled {
		chClient, err := clickhouse.NewClient(cfg.ClickHouse)
		if err != nil {
			return err
		}
		defer chClient.Close()
		aggOpts = append(aggOpts, aggregator.WithMirror(chClient))
		facts = chClient
		zap.L().Info("Connected to ClickHouse")
	}

	stores, err := metrics.NewStores(cfg.Metrics, nil)
	if err != nil {
		return err
	}
	defer stores.Close()

	agg := aggregator.New(pgClient.DB(), aggOpts...)
	scheduler := aggregator.NewScheduler(agg, cfg.Rollup, nil)
	assembler := snapshot.NewAssembler(stores, nil)
	bc := broadcast.NewService(assembler, cfg.Broadcast.Interval)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer consumer.Close()
	zap.L().Info("Connected to RabbitMQ")

	orderWorker := workers.NewOrderWorker(consumer, stores, agg, scheduler, facts,
		cfg.RabbitMQ.OrderQueue, cfg.Worker.MessageTimeout)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(assembler, stores, agg, bc).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stores.RunJanitor(gctx, cfg.Metrics.SweepInterval)
		return nil
	})
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return orderWorker.Start(gctx)
	})
	g.Go(func() error {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("Shutting down")
		bc.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// fold in whatever the last interval persisted
	finalCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if rerr := scheduler.RunOnce(finalCtx); rerr != nil {
		zap.L().Warn("Final rollup failed", zap.Error(rerr))
	}

	zap.L().Info("Order metrics service stopped")
	return err
}
