package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"orderflow/internal/config"
	"orderflow/internal/generator"
	"orderflow/internal/jsoncodec"
	"orderflow/internal/logging"
	"orderflow/internal/metrics"
	"orderflow/internal/pipeline"
	"orderflow/internal/routing"
	"orderflow/internal/transport/kafkaclient"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath string
		count      int
		outputFile string
		publish    bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("ORDERFLOW_CONFIG"), "path to YAML config file")
	flag.IntVar(&count, "count", 100, "number of orders to generate")
	flag.StringVar(&outputFile, "output", "orders.jsonl", "output file")
	flag.BoolVar(&publish, "publish", false, "publish the orders to kafka as one batch instead of writing a file")
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

	gen := generator.New(generator.WithBatchPriority(cfg.BatchPriority()))
	if publish {
		err = publishBatch(cfg, gen, count, logger)
	} else {
		err = writeOrders(gen, count, outputFile)
	}
	if err != nil {
		logger.Fatal("generation failed", zap.Error(err))
	}
}

// writeOrders writes single-shot orders, so priorities are mixed like the scheduled generator's.
func writeOrders(gen *generator.Generator, count int, outputFile string) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for i := 0; i < count; i++ {
		if err := jsoncodec.Encode(w, gen.GenerateOne()); err != nil {
			return fmt.Errorf("encode order %d: %w", i+1, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Printf("generated %d orders to %s\n", count, outputFile)
	return nil
}

func publishBatch(cfg *config.Config, gen *generator.Generator, count int, logger *zap.Logger) (err error) {
	pub, err := kafkaclient.NewPublisher(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := pub.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close publisher: %w", cerr)
		}
	}()

	router := routing.Router{Standard: cfg.Streams.Standard, Urgent: cfg.Streams.Urgent}
	producer := pipeline.NewProducer(gen, router, pub, metrics.NewRegistry(logger), logger).
		WithMaxBatch(cfg.Pipeline.MaxBatch)

	res := <-producer.SubmitBatch(context.Background(), count)
	fmt.Println(res.Ack())
	if res.Err != nil {
		return res.Err
	}
	for _, f := range res.Failures {
		logger.Warn("order not published", zap.String("order_id", f.OrderID), zap.String("stream", f.Stream), zap.String("error", f.Error))
	}
	return nil
}
