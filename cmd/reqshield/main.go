package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reqshield/internal/api"
	"reqshield/internal/config"
	"reqshield/internal/logger"
	"reqshield/internal/models"
	"reqshield/internal/observability"
	"reqshield/internal/ratelimit"
	"reqshield/internal/storage"
	"reqshield/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	writeExample = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
	printVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *printVersion {
		fmt.Println(ver.String())
		return
	}

	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *writeExample)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the defense engine
	engine, err := initializeEngine(cfg, otelProvider)
	if err != nil {
		slog.Error("Failed to initialize defense engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Initialize snapshot storage
	store, err := initializeStorage(cfg, otelProvider)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	snaps := newSnapshotter(engine, store, cfg.Storage.SnapshotInterval)
	if err := snaps.restore(context.Background()); err != nil {
		// Starting without history is better than not starting
		slog.Error("Failed to restore defense snapshot", "error", err)
	}

	snapCtx, stopSnapshots := context.WithCancel(context.Background())
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		snaps.run(snapCtx)
	}()

	upstream, err := api.NewUpstreamProxy(cfg.Server.UpstreamURL, ver)
	if err != nil {
		slog.Error("Failed to create upstream proxy", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP handlers with storage for health checks
	handlers := api.NewHandlers(engine,
		api.WithSnapshotStore(store),
		api.WithVersion(ver),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, cfg, upstream, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"upstream", cfg.Server.UpstreamURL,
			"defense_enabled", cfg.Defense.Enabled,
			"storage", cfg.Storage.Type)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Final snapshot once no request can change the state any more
	stopSnapshots()
	<-snapDone
	if err := snaps.save(ctx); err != nil {
		slog.Error("Failed to save defense snapshot", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// enginePolicy converts the defense section. A disabled section is not
// validated; the engine then runs on the default policy and only backs the
// admin API.
func enginePolicy(cfg models.DefenseConfig) (ratelimit.Policy, error) {
	if !cfg.Enabled {
		return ratelimit.DefaultPolicy(), nil
	}
	return ratelimit.PolicyFromConfig(cfg)
}

// initializeEngine builds the defense engine from configuration and attaches
// decision metrics when the provider exports metrics.
func initializeEngine(cfg *models.Config, provider *observability.Provider) (*ratelimit.Engine, error) {
	policy, err := enginePolicy(cfg.Defense)
	if err != nil {
		return nil, err
	}
	if !cfg.Defense.Enabled {
		slog.Warn("Defense is disabled, requests are proxied without checks")
	}

	var engine *ratelimit.Engine
	observer, err := provider.DecisionObserver(func() int {
		// The gauge may be collected before NewEngine returns
		if engine == nil {
			return 0
		}
		return engine.Registry().Len()
	})
	if err != nil {
		return nil, fmt.Errorf("create decision metrics: %w", err)
	}

	var opts []ratelimit.Option
	if observer != nil {
		opts = append(opts, ratelimit.WithObserver(observer))
	}
	engine, err = ratelimit.NewEngine(policy, opts...)
	return engine, err
}

// initializeStorage creates the snapshot store, instrumented when the
// provider exports metrics.
func initializeStorage(cfg *models.Config, provider *observability.Provider) (storage.SnapshotStore, error) {
	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		return nil, err
	}

	instrumented, err := provider.InstrumentStore(store, cfg.Storage.Type)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create instrumented storage: %w", err)
	}
	return instrumented, nil
}
