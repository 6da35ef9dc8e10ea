package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/api"
	"github.com/Ashfaaq98/osint-console/internal/bus"
	"github.com/Ashfaaq98/osint-console/internal/dispatch"
	"github.com/Ashfaaq98/osint-console/internal/ingest"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveAnalyze  bool
	serveConsumer string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background services",
	Long: `Start the OSINT console server. This runs:
- the HTTP API (investigations, targets, analysis, summaries, /metrics)
- a consumer of queued analysis requests from Redis (when --redis is set)
- an optional folder watcher that imports and analyzes new targets
- periodic provider health checks and stream trimming

Examples:
  # Local API with bearer auth
  osint-console serve --bind 127.0.0.1:8080 --token s3cret

  # With Redis status bus and a watched import folder
  osint-console serve --redis redis://localhost:6379 --watch-dir ./incoming --analyze`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("bind", "127.0.0.1:8080", "Bind address for the HTTP API")
	serveCmd.Flags().String("token", "", "Bearer token required on /api/v1 (optional)")
	serveCmd.Flags().Int("rate-limit", 100, "Requests per minute per client IP (negative disables)")
	serveCmd.Flags().String("watch-dir", "", "Directory to watch for target lists")
	serveCmd.Flags().BoolVar(&serveAnalyze, "analyze", true, "Analyze targets imported by the folder watcher")
	serveCmd.Flags().StringVar(&serveConsumer, "consumer", "", "Consumer name for queued analysis requests (default hostname)")

	viper.BindPFlag("api.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("api.token", serveCmd.Flags().Lookup("token"))
	viper.BindPFlag("api.rate_limit", serveCmd.Flags().Lookup("rate-limit"))
	viper.BindPFlag("import.dir", serveCmd.Flags().Lookup("watch-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	logger := newLogger(config, "serve")

	logger.Println("Starting OSINT console server")

	a, err := newApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, s := range a.registry.Skipped() {
		logger.Printf("Provider %s not usable: %s", s.Name, s.Reason)
	}

	// Cancelled when the server stops so background services exit together.
	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel()

	var importer *ingest.FolderImporter
	if config.Import.Dir != "" {
		if err := os.MkdirAll(config.Import.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create import directory %s: %w", config.Import.Dir, err)
		}
		importer = ingest.NewFolderImporter(a.store, a.dispatcher, ingest.FolderOptions{
			Dir:           config.Import.Dir,
			Watch:         true,
			Patterns:      splitPatterns(config.Import.Patterns),
			Investigation: config.Import.Investigation,
			Analyze:       serveAnalyze,
			Logger:        newLogger(config, "import"),
			// Avoid re-importing existing JSONL lines on each startup
			TailFromEnd: true,
		})
	}

	srv := api.New(a.store, a.dispatcher, a.registry, api.Options{
		Bind:        config.API.Bind,
		Token:       config.API.Token,
		RateLimit:   config.API.RateLimit,
		CORSOrigins: config.API.CORSOrigins,
		Version:     versionString(),
		Importer:    importerOrNil(importer, a),
		Checks: map[string]api.HealthFunc{
			"bus": a.bus.HealthCheck,
		},
		Logger: newLogger(config, "api"),
	})
	if err := srv.Start(svcCtx); err != nil {
		return fmt.Errorf("failed to start API: %w", err)
	}

	consumer := serveConsumer
	if consumer == "" {
		consumer, _ = os.Hostname()
	}
	coordinator := &ServiceCoordinator{
		store:      a.store,
		bus:        a.bus,
		registry:   a.registry,
		dispatcher: a.dispatcher,
		importer:   importer,
		consumer:   consumer,
		maxLen:     config.Redis.MaxLen,
		logger:     logger,
		ctx:        svcCtx,
	}

	logger.Println("Starting background services...")
	if err := coordinator.Start(); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	<-ctx.Done()
	logger.Println("Received shutdown signal")

	svcCancel()
	coordinator.Stop()
	srv.Wait()

	logger.Println("OSINT console server stopped")
	return nil
}

// importerOrNil gives the API an importer even when no folder is watched.
func importerOrNil(fi *ingest.FolderImporter, a *app) api.Importer {
	if fi != nil {
		return fi
	}
	return ingest.NewFolderImporter(a.store, a.dispatcher, ingest.FolderOptions{
		Investigation: a.cfg.Import.Investigation,
		Logger:        newLogger(a.cfg, "import"),
	})
}

// ServiceCoordinator manages background services
type ServiceCoordinator struct {
	store      *store.Store
	bus        bus.Bus
	registry   *providers.Registry
	dispatcher *dispatch.Dispatcher
	importer   *ingest.FolderImporter
	consumer   string
	maxLen     int64
	logger     *log.Logger
	ctx        context.Context

	// Service state
	mu      sync.Mutex
	wg      sync.WaitGroup
	running bool
}

// Start starts all background services
func (sc *ServiceCoordinator) Start() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.running {
		return fmt.Errorf("services already running")
	}
	sc.running = true

	sc.wg.Add(1)
	go sc.runRequestProcessor()

	sc.wg.Add(1)
	go sc.runHealthMonitor()

	sc.wg.Add(1)
	go sc.runMetricsCollector()

	if sc.importer != nil {
		sc.wg.Add(1)
		go sc.runFolderImporter()
	}

	sc.logger.Println("Background services started")
	return nil
}

// Stop waits for the background services to exit. The coordinator's context
// must be cancelled first.
func (sc *ServiceCoordinator) Stop() {
	sc.mu.Lock()
	if !sc.running {
		sc.mu.Unlock()
		return
	}
	sc.running = false
	sc.mu.Unlock()

	sc.logger.Println("Stopping background services...")
	sc.wg.Wait()
	sc.logger.Println("Background services stopped")
}

// runRequestProcessor dispatches analysis requests queued on the bus
func (sc *ServiceCoordinator) runRequestProcessor() {
	defer sc.wg.Done()

	sc.logger.Println("Starting analysis request processor")

	for {
		select {
		case <-sc.ctx.Done():
			sc.logger.Println("Analysis request processor stopping")
			return
		default:
			err := sc.bus.ReadAnalysisRequests(sc.ctx, "osint-console", sc.consumer, sc.handleRequest)
			if err == nil || sc.ctx.Err() != nil {
				continue
			}
			sc.logger.Printf("Error reading analysis requests: %v", err)
			select {
			case <-sc.ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (sc *ServiceCoordinator) handleRequest(ctx context.Context, req bus.AnalysisRequest) error {
	target, err := sc.store.GetTarget(ctx, req.TargetID)
	if errors.Is(err, store.ErrNotFound) {
		sc.logger.Printf("Dropping analysis request for unknown target %s", req.TargetID)
		return nil
	}
	if err != nil {
		return err
	}
	if len(req.Tools) > 0 {
		target.Tools = req.Tools
	}

	out, err := sc.dispatcher.Dispatch(ctx, target)
	if errors.Is(err, dispatch.ErrDispatchInProgress) {
		sc.logger.Printf("Target %s already being analyzed, request from %s dropped", target.ID, req.RequestedBy)
		return nil
	}
	if err != nil {
		return err
	}
	sc.logger.Printf("Analyzed %s %s for %s: %d results, %d failed", target.Type, target.Value,
		req.RequestedBy, len(out.Results), out.Failed())
	return nil
}

// runFolderImporter watches the import directory until shutdown
func (sc *ServiceCoordinator) runFolderImporter() {
	defer sc.wg.Done()

	if err := sc.importer.Run(sc.ctx); err != nil && sc.ctx.Err() == nil {
		sc.logger.Printf("Folder import error: %v", err)
	}
}

// runHealthMonitor periodically checks the bus and provider reachability
func (sc *ServiceCoordinator) runHealthMonitor() {
	defer sc.wg.Done()

	sc.logger.Println("Starting health monitor")
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			sc.logger.Println("Health monitor stopping")
			return
		case <-ticker.C:
			sc.performHealthChecks()
		}
	}
}

// runMetricsCollector logs store and bus statistics and trims streams
func (sc *ServiceCoordinator) runMetricsCollector() {
	defer sc.wg.Done()

	sc.logger.Println("Starting metrics collector")
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			sc.logger.Println("Metrics collector stopping")
			return
		case <-ticker.C:
			sc.collectMetrics()
		}
	}
}

func (sc *ServiceCoordinator) performHealthChecks() {
	ctx, cancel := context.WithTimeout(sc.ctx, 30*time.Second)
	defer cancel()

	if err := sc.bus.HealthCheck(ctx); err != nil {
		sc.logger.Printf("Redis health check failed: %v", err)
	}

	results := sc.registry.HealthCheck(ctx)
	unhealthy := 0
	for name, err := range results {
		if err != nil {
			sc.logger.Printf("Provider %s is unhealthy: %v", name, err)
			unhealthy++
		}
	}

	if unhealthy == 0 {
		sc.logger.Printf("All providers healthy (%d checked)", len(results))
	} else {
		sc.logger.Printf("Health check: %d unhealthy providers out of %d", unhealthy, len(results))
	}
}

func (sc *ServiceCoordinator) collectMetrics() {
	ctx, cancel := context.WithTimeout(sc.ctx, 30*time.Second)
	defer cancel()

	if sc.maxLen > 0 {
		if err := sc.bus.Trim(ctx, sc.maxLen); err != nil {
			sc.logger.Printf("Failed to trim streams: %v", err)
		}
	}

	busStats, err := sc.bus.GetStats(ctx)
	if err != nil {
		sc.logger.Printf("Failed to get bus stats: %v", err)
	} else {
		sc.logger.Printf("Bus stats: %+v", busStats)
	}

	counts, err := sc.store.CountResults(ctx)
	if err != nil {
		sc.logger.Printf("Failed to count results: %v", err)
	} else {
		sc.logger.Printf("Result counts: %v", counts)
	}

	if sc.importer != nil {
		s := sc.importer.Stats()
		sc.logger.Printf("Import stats: imported=%d duplicates=%d invalid=%d dispatched=%d errors=%d",
			s.Imported, s.Duplicates, s.Invalid, s.Dispatched, s.Errors)
	}
}
