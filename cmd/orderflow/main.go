package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/config"
	"orderflow/internal/deadletter"
	"orderflow/internal/generator"
	"orderflow/internal/httpapi"
	"orderflow/internal/logging"
	"orderflow/internal/metrics"
	"orderflow/internal/pipeline"
	"orderflow/internal/routing"
	"orderflow/internal/snapshot"
	"orderflow/internal/store"
	"orderflow/internal/transport"
	"orderflow/internal/transport/kafkaclient"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("ORDERFLOW_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("orderflow failed", zap.Error(err))
	}
	logger.Info("orderflow stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", zap.Error(err))
		}
	}()
	logger.Info("store opened", zap.String("backend", cfg.Store.Backend))

	var snap *snapshot.FilesystemSnapshotter
	if cfg.Store.SnapshotDir != "" {
		snap = snapshot.NewFilesystemSnapshotter(cfg.Store.SnapshotDir)
	}
	if cfg.Store.RestoreSnapshot != "" {
		n, err := snap.LoadSnapshot(ctx, cfg.Store.RestoreSnapshot, st)
		if err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		logger.Info("snapshot restored", zap.String("snapshot_id", cfg.Store.RestoreSnapshot), zap.Int("orders", n))
	}
	if snap != nil {
		defer writeSnapshot(snap, st, logger)
	}

	if rec, err := store.SmokeSave(ctx, st); err != nil {
		logger.Error("startup test save failed", zap.Error(err))
	} else {
		logger.Info("startup test save succeeded", zap.String("order_id", rec.OrderID))
	}

	reg := metrics.NewRegistry(logger)

	var (
		pub     transport.Publisher
		sub     pipeline.Subscriber
		sinks   []deadletter.Sink
		closers []func() error
	)
	switch cfg.Transport {
	case "memory":
		bus := transport.NewMemoryBus(0, logger)
		pub, sub = bus, bus
	case "kafka":
		if cfg.Kafka.EnsureTopics {
			topics := []string{cfg.Streams.Standard, cfg.Streams.Urgent, cfg.Streams.DeadLetter}
			spec := transport.TopicSpec{Partitions: cfg.Kafka.Partitions, ReplicationFactor: cfg.Kafka.ReplicationFactor}
			if err := transport.EnsureTopics(ctx, cfg.Kafka.Brokers, topics, spec, logger); err != nil {
				return fmt.Errorf("ensure topics: %w", err)
			}
		}
		kp, err := kafkaclient.NewPublisher(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		pub = kp
		closers = append(closers, kp.Close)
		sub = transport.NewKafkaSubscriber(cfg.Kafka.Brokers, cfg.Kafka.GroupID, logger)

		if cfg.DeadLetter.Publish {
			ks := deadletter.NewKafkaSink(cfg.Kafka.Brokers, cfg.Streams.DeadLetter, logger)
			sinks = append(sinks, ks)
			closers = append(closers, ks.Close)
		}
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("failed to close kafka client", zap.Error(err))
			}
		}
	}()

	if cfg.Breaker.Enabled {
		pub = transport.NewBreakerPublisher(pub, transport.BreakerSettings{
			Name:         "publisher",
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
			OpenTimeout:  cfg.Breaker.OpenTimeout,
		}, logger)
	}

	if cfg.DeadLetter.LogFile != "" {
		fs, err := deadletter.NewFileSink(cfg.DeadLetter.LogFile)
		if err != nil {
			return fmt.Errorf("dead letter log: %w", err)
		}
		sinks = append(sinks, fs)
	}
	dlq := deadletter.NewRouter(deadletter.NewMultiSink(sinks...), logger)

	router := routing.Router{Standard: cfg.Streams.Standard, Urgent: cfg.Streams.Urgent}
	gen := generator.New(generator.WithBatchPriority(cfg.BatchPriority()))
	producer := pipeline.NewProducer(gen, router, pub, reg, logger).WithMaxBatch(cfg.Pipeline.MaxBatch)
	processor := pipeline.NewProcessor(st, reg, dlq, cfg.Pipeline.MarkupFactor, logger)
	pl := pipeline.New(sub, []string{cfg.Streams.Standard, cfg.Streams.Urgent}, processor, producer, cfg.Generator.Interval, logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(producer, st, reg.Handler(), logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return pl.Run(gctx) })
	return g.Wait()
}

func writeSnapshot(snap *snapshot.FilesystemSnapshotter, st store.Store, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	id := snapshot.NewID()
	n, err := snap.WriteSnapshot(ctx, id, st)
	if err != nil {
		logger.Error("shutdown snapshot failed", zap.Error(err))
		return
	}
	logger.Info("shutdown snapshot written", zap.String("snapshot_id", id), zap.Int("orders", n))
}
