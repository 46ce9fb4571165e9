package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/earlywatch/sentinel/internal/alert"
	"github.com/earlywatch/sentinel/internal/api"
	"github.com/earlywatch/sentinel/internal/config"
	"github.com/earlywatch/sentinel/internal/dedup"
	"github.com/earlywatch/sentinel/internal/detector"
	"github.com/earlywatch/sentinel/internal/eventbus"
	"github.com/earlywatch/sentinel/internal/store"
	"github.com/earlywatch/sentinel/internal/store/mysqlsrc"
	"github.com/earlywatch/sentinel/internal/store/postgres"
	"github.com/earlywatch/sentinel/internal/tasks"
)

// Orchestrator manages the Sentinel service lifecycle and coordinates
// detector execution, deduplication, alert generation, and publishing.
//
// Lifecycle:
//  1. Start() - Connects storage, Redis, NATS, and builds the task runner
//  2. Run() - Starts the HTTP API and blocks until context cancellation
//  3. Stop() - Gracefully closes all connections and resources
//
// The orchestrator implements graceful degradation:
//   - Redis failure: deduplication runs without cross-worker locks (races possible)
//   - NATS failure: events not published, NATS-triggered runs unavailable
//   - Scorer service unconfigured: classifier detectors fail at run time
type Orchestrator struct {
	config *config.Config

	// Persistence
	store         store.Store
	pgStore       *postgres.Store
	mysqlReadings *mysqlsrc.Source

	// Downstream connections
	locks      *dedup.Locks
	publisher  *eventbus.Publisher
	subscriber *eventbus.Subscriber

	// Pipeline
	registry  *detector.Registry
	runner    *tasks.Runner
	apiServer *api.Server
}

// NewOrchestrator creates a new Orchestrator instance with the provided configuration.
// The orchestrator is not started until Start() is called.
func NewOrchestrator(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		config: cfg,
	}
}

// Start initializes all service connections and builds the detection pipeline.
// This method must be called before Run().
//
// Start connects to:
//   - PostgreSQL store (required unless DATABASE_URL is unset, then in-memory)
//   - Reading source (the store itself, or an external MySQL warehouse)
//   - Redis (optional - deduplication locks)
//   - NATS event bus (optional - event publishing and run triggers)
//
// Returns an error if any required component fails to initialize.
func (o *Orchestrator) Start(ctx context.Context) error {
	log.Printf("Starting Sentinel Orchestrator...")

	if err := o.connectStore(ctx); err != nil {
		return fmt.Errorf("failed to connect store: %w", err)
	}

	readings, err := o.newReadingSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize reading source: %w", err)
	}

	// Optional connections - warnings logged on failure
	o.connectRedis()

	o.registry = detector.DefaultRegistry()
	log.Printf("Detector registry initialized with variants: %v", o.registry.Variants())

	deps := detector.Deps{Readings: readings}
	if o.config.ScorerBaseURL != "" {
		deps.Scorers = detector.NewScorerCache(detector.NewHTTPScorerLoader(o.config.ScorerBaseURL, nil))
		log.Printf("Scorer service configured at: %s", o.config.ScorerBaseURL)
	} else {
		log.Printf("SCORER_BASE_URL not set - classifier detectors unavailable")
	}

	dedupEngine := dedup.NewEngine(o.store, o.store, o.locks)
	generator := alert.NewGenerator(alert.NewTemplateSet())
	publisher := o.buildAlertPublisher()

	o.runner = tasks.NewRunner(o.store, o.registry, deps, dedupEngine, generator, publisher).
		WithPool(tasks.NewPool(o.config.WorkerCount))
	log.Printf("Task runner initialized with %d workers", o.config.WorkerCount)

	o.connectNATS()

	o.apiServer = api.NewServer(o.runner, o.registry, o.healthChecks())

	log.Printf("Sentinel Orchestrator started successfully")
	return nil
}

// connectStore connects the primary PostgreSQL store, falling back to an
// in-memory store when DATABASE_URL is unset (local development only).
func (o *Orchestrator) connectStore(ctx context.Context) error {
	if o.config.DatabaseURL == "" {
		log.Printf("Warning: DATABASE_URL not set, using in-memory store (data is not persisted)")
		o.store = store.NewMemory()
		return nil
	}

	log.Printf("Connecting to PostgreSQL store...")
	pg := postgres.New(o.config.DatabaseURL)
	if err := pg.Connect(ctx); err != nil {
		return err
	}

	o.pgStore = pg
	o.store = pg
	log.Printf("Connected to PostgreSQL store")
	return nil
}

// newReadingSource selects where detectors read variable data from based
// on READING_SOURCE_TYPE.
func (o *Orchestrator) newReadingSource(ctx context.Context) (store.ReadingSource, error) {
	switch o.config.ReadingSourceType {
	case "postgres":
		log.Printf("Reading source: primary store")
		return o.store, nil

	case "mysql":
		log.Printf("Reading source: MySQL warehouse")
		src := mysqlsrc.New(o.config.ReadingSourceDSN)
		if err := src.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect MySQL reading source: %w", err)
		}
		o.mysqlReadings = src
		return src, nil

	default:
		return nil, fmt.Errorf("unsupported reading source type: %s", o.config.ReadingSourceType)
	}
}

// connectRedis establishes the Redis connection used for deduplication locks
// and fingerprints. This is an optional connection - failure logs a warning
// but does not prevent startup. Without Redis, concurrent workers may race
// on identical detections.
func (o *Orchestrator) connectRedis() {
	if o.config.RedisAddr == "" {
		log.Printf("Redis address not configured, skipping connection")
		return
	}

	log.Printf("Connecting to Redis at: %s", o.config.RedisAddr)

	locks, err := dedup.NewLocks(o.config.RedisAddr, o.config.RedisPassword, o.config.RedisDB)
	if err != nil {
		log.Printf("Warning: failed to connect to Redis: %v", err)
		log.Printf("Deduplication locks unavailable - concurrent runs may produce duplicates")
		return
	}

	o.locks = locks
}

// connectNATS establishes connection to NATS for publishing pipeline events
// and subscribing to detector run triggers. This is an optional connection -
// failure logs a warning but does not prevent startup.
func (o *Orchestrator) connectNATS() {
	if o.config.NatsURL == "" {
		log.Printf("NATS URL not configured, skipping connection")
		return
	}

	log.Printf("Connecting to NATS at: %s", o.config.NatsURL)

	publisher, err := eventbus.NewPublisher(o.config.NatsURL)
	if err != nil {
		log.Printf("Warning: failed to connect NATS publisher: %v", err)
		log.Printf("Pipeline events will not be published")
	} else {
		o.publisher = publisher
		o.runner = o.runner.WithEvents(publisher)
		log.Printf("Connected to NATS publisher")
	}

	subscriber, err := eventbus.NewSubscriber(o.config.NatsURL, o.runner)
	if err != nil {
		log.Printf("Warning: failed to create NATS subscriber: %v", err)
		log.Printf("NATS-triggered detector runs unavailable")
	} else {
		o.subscriber = subscriber
		if err := subscriber.Start(); err != nil {
			log.Printf("Warning: failed to start NATS subscriber: %v", err)
		} else {
			log.Printf("Connected to NATS subscriber")
		}
	}
}

// buildAlertPublisher creates API clients for every configured downstream
// alert API.
func (o *Orchestrator) buildAlertPublisher() *alert.Publisher {
	clients := make([]*alert.APIClient, 0, len(o.config.AlertAPIs))
	for _, apiCfg := range o.config.AlertAPIs {
		clients = append(clients, alert.NewAPIClient(apiCfg.Name, apiCfg.BaseURL, apiCfg.APIKey, o.config.AlertAPITimeout))
		log.Printf("  - Alert API registered: %s (%s)", apiCfg.Name, apiCfg.BaseURL)
	}
	if len(clients) == 0 {
		log.Printf("No alert APIs configured - publishing unavailable")
	}
	return alert.NewPublisher(clients...)
}

// healthChecks assembles the component checks exposed on /health.
func (o *Orchestrator) healthChecks() map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{}

	if o.pgStore != nil {
		checks["database"] = o.pgStore.HealthCheck
	}
	if o.locks != nil {
		checks["redis"] = o.locks.HealthCheck
	}
	if o.publisher != nil {
		checks["nats"] = func(context.Context) error {
			if !o.publisher.IsConnected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}
	}

	return checks
}

// Run starts the HTTP API server and blocks until the context is cancelled
// or the server fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	addr := ":" + o.config.HTTPPort
	log.Printf("Starting HTTP API on %s...", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := o.apiServer.Start(addr); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	log.Printf("Sentinel ready - accepting detector run and publish requests")

	select {
	case <-ctx.Done():
		log.Printf("Shutdown signal received")
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully closes all connections and releases resources.
// This method should be called during application shutdown.
func (o *Orchestrator) Stop() error {
	log.Printf("Stopping Orchestrator...")

	if o.apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP server: %v", err)
		}
	}

	// Let in-flight detector runs finish before closing their dependencies.
	if o.runner != nil {
		o.runner.Wait()
	}

	if o.subscriber != nil {
		o.subscriber.Close()
	}

	if o.publisher != nil {
		o.publisher.Close()
	}

	if o.locks != nil {
		if err := o.locks.Close(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		}
	}

	if o.mysqlReadings != nil {
		if err := o.mysqlReadings.Close(); err != nil {
			log.Printf("Error closing MySQL reading source: %v", err)
		}
	}

	if o.pgStore != nil {
		o.pgStore.Close()
	}

	log.Printf("Orchestrator stopped successfully")
	return nil
}
