package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/climate-cache/internal/app"
	"github.com/smukkama/climate-cache/internal/logger"
	"github.com/smukkama/climate-cache/internal/queue"
	"github.com/smukkama/climate-cache/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if !cfg.Kafka.Enabled() {
		log.Fatal("KAFKA_BROKERS must be set for the refresher")
	}

	logs := logger.New(cfg.Log.Level, cfg.Log.Format)
	ctx := context.Background()

	fmt.Println("Starting Climate Refresher Service...")
	db, err := app.OpenDatabase(ctx, cfg, logs)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	responses, closeCache := app.NewResponseCache(ctx, cfg, logs)
	defer closeCache()

	events := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer events.Close()

	orchestrator := app.NewOrchestrator(cfg, db,
		app.NewClimateClient(cfg, responses, logs),
		queue.NewEventPublisher(events), logs)

	if err := queue.EnsureTopics(cfg.Kafka.Brokers, cfg.Kafka.NumPartitions,
		cfg.Kafka.TopicBatches, cfg.Kafka.TopicEvents); err != nil {
		fmt.Printf("Note: Topic creation failed: %v\n", err)
	}

	// Create Kafka consumer
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBatches, cfg.Kafka.GroupID)
	defer consumer.Close()
	fmt.Println("Kafka consumer created (registering with broker...)")

	batchConsumer := queue.NewBatchConsumer(consumer, orchestrator, logs)
	if err := batchConsumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start batch consumer: %v", err)
	}
	fmt.Println("Batch consumer started")

	// Print consumer stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := consumer.Stats()
			fmt.Printf("Consumer stats: Messages=%d, Bytes=%d, Errors=%d, Lag=%d\n",
				stats.Messages, stats.Bytes, stats.Errors, stats.Lag)
		}
	}()

	fmt.Println("\n✓ Climate Refresher Service is running")
	fmt.Printf("✓ Consuming batches from %s, announcing on %s\n", cfg.Kafka.TopicBatches, cfg.Kafka.TopicEvents)
	fmt.Printf("✓ Batch ceiling: %d cells | Workers: %d\n", orchestrator.Config().MaxCells, orchestrator.Config().Workers)
	fmt.Println("✓ Press Ctrl+C to stop")
	fmt.Println("\nWaiting for batch requests...")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	batchConsumer.Stop()
	fmt.Println("Climate Refresher Service stopped")
}
