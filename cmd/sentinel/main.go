package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/earlywatch/sentinel/internal/config"
	"github.com/earlywatch/sentinel/internal/orchestrator"
)

// main is the entry point for the Sentinel service.
//
// Sentinel is responsible for:
//   - Running configured detectors (threshold, z-score, surge, classifier,
//     scenario, passthrough) over variable readings
//   - Deduplicating detections across time, geography, and workers
//   - Generating alerts from pending detections via templates
//   - Publishing alerts to configured downstream alert APIs
//   - Providing an HTTP API for triggering runs and publishing alerts
//
// Lifecycle:
//  1. Load configuration from environment variables
//  2. Initialize orchestrator with store, Redis, NATS, and task runner
//  3. Start HTTP API server
//  4. Listen for shutdown signals (SIGINT, SIGTERM)
//  5. Gracefully close all connections on shutdown
func main() {
	log.Printf("Sentinel starting...")

	// Load configuration from environment variables and .env file
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Configuration loaded successfully")
	log.Printf("  HTTP Port: %s", cfg.HTTPPort)
	log.Printf("  NATS URL: %s", cfg.NatsURL)
	log.Printf("  Reading Source: %s", cfg.ReadingSourceType)
	log.Printf("  Redis: %s", cfg.RedisAddr)
	log.Printf("  Workers: %d", cfg.WorkerCount)
	log.Printf("  Alert APIs: %d configured", len(cfg.AlertAPIs))

	// Create orchestrator to manage service lifecycle
	orch := orchestrator.NewOrchestrator(cfg)

	// Setup graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize all service connections and the detection pipeline
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	// Listen for shutdown signals (Ctrl+C, Docker stop, k8s termination)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start HTTP server in background goroutine
	go func() {
		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Orchestrator error: %v", err)
		}
	}()

	// Block until shutdown signal received
	<-sigChan
	log.Printf("Shutdown signal received, initiating graceful shutdown...")

	cancel()

	if err := orch.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Printf("Sentinel stopped successfully")
}
