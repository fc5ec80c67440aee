package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/climate-cache/internal/api"
	"github.com/smukkama/climate-cache/internal/app"
	"github.com/smukkama/climate-cache/internal/cache"
	"github.com/smukkama/climate-cache/internal/logger"
	"github.com/smukkama/climate-cache/internal/queue"
	"github.com/smukkama/climate-cache/internal/refresh"
	"github.com/smukkama/climate-cache/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logs := logger.New(cfg.Log.Level, cfg.Log.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Starting Climate Cache API Server...")

	db, err := app.OpenDatabase(ctx, cfg, logs)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	fmt.Printf("Connected to database (%s)\n", db.Driver())

	responses, closeCache := app.NewResponseCache(ctx, cfg, logs)
	defer closeCache()

	// Expired responses are only dropped lazily by the in-process cache
	if mem, ok := responses.(*cache.MemoryCache); ok {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := mem.Sweep(); n > 0 {
						logs.WithFields(logrus.Fields{
							"evicted": n,
							"entries": mem.Len(),
						}).Debug("swept response cache")
					}
				}
			}
		}()
	}

	var (
		publisher refresh.Publisher
		enqueuer  api.Enqueuer
	)
	if cfg.Kafka.Enabled() {
		if err := queue.EnsureTopics(cfg.Kafka.Brokers, cfg.Kafka.NumPartitions,
			cfg.Kafka.TopicBatches, cfg.Kafka.TopicEvents); err != nil {
			fmt.Printf("Note: Topic creation failed: %v\n", err)
		}

		events := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer events.Close()
		batches := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBatches)
		defer batches.Close()

		publisher = queue.NewEventPublisher(events)
		enqueuer = queue.NewRequestQueue(batches)
		fmt.Println("Kafka producers initialized")
	} else {
		fmt.Println("Kafka not configured: async batches disabled")
	}

	client := app.NewClimateClient(cfg, responses, logs)
	orchestrator := app.NewOrchestrator(cfg, db, client, publisher, logs)

	handler := api.NewHandler(db, orchestrator, enqueuer, api.Options{
		MapNLat: cfg.Maps.NLat,
		MapNLon: cfg.Maps.NLon,
	}, logs)
	server := api.NewApp(handler)

	go func() {
		if err := server.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	fmt.Println("\n✓ Climate Cache API Server is running")
	fmt.Printf("✓ HTTP listening on port %d\n", cfg.HTTP.Port)
	fmt.Printf("✓ Climate models: %s\n", strings.Join(client.Models(), ", "))
	fmt.Printf("✓ Batch ceiling: %d cells | Workers: %d\n", orchestrator.Config().MaxCells, orchestrator.Config().Workers)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	if err := server.ShutdownWithTimeout(30 * time.Second); err != nil {
		logs.WithError(err).Warn("HTTP shutdown incomplete")
	}
	fmt.Println("Climate Cache API Server stopped")
}
