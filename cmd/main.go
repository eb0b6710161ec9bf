package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/proxycheap-monitor/internal/api"
	"github.com/proxycheap-monitor/internal/config"
	"github.com/proxycheap-monitor/internal/coordinator"
	"github.com/proxycheap-monitor/internal/metrics"
	"github.com/proxycheap-monitor/internal/probe"
	"github.com/proxycheap-monitor/internal/proxycheap"
	"github.com/proxycheap-monitor/internal/storage"
	log "github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
	log.Infof("Starting Proxy-Cheap Monitor v%s", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	}

	// Initialize metrics
	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace)

	// Initialize storage
	store, err := storage.NewStorage(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize vendor client
	clientOpts := []proxycheap.Option{
		proxycheap.WithTimeout(time.Duration(cfg.Vendor.TimeoutSeconds) * time.Second),
	}
	if cfg.Vendor.BaseURL != "" {
		clientOpts = append(clientOpts, proxycheap.WithBaseURL(cfg.Vendor.BaseURL))
	}
	client := proxycheap.NewClient(cfg.Vendor.APIKey, cfg.Vendor.APISecret, clientOpts...)

	// Fail fast on bad credentials before entering the poll loop
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 1*time.Minute)
	if !client.ValidateCredentials(startupCtx) {
		startupCancel()
		log.Fatal("Credential validation failed, check vendor api_key/api_secret")
	}
	startupCancel()

	// Initialize reachability prober (if enabled)
	var prober *probe.Prober
	if cfg.Probe.Enabled {
		prober = probe.NewProber(cfg.Probe, metricsCollector)
		log.Infof("Reachability probing enabled (mode=%s)", cfg.Probe.Mode)
	} else {
		log.Info("Reachability probing is disabled")
	}

	// Initialize coordinator
	coord := coordinator.New(client, cfg.Poller, prober, metricsCollector, store)
	if err := coord.LoadFromStorage(); err != nil {
		log.Warnf("Failed to load persisted snapshot: %v (starting fresh)", err)
	}
	defer coord.Close()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start poll loop
	go coord.Run(ctx)

	// Start API server
	apiServer := api.NewServer(cfg, coord, metricsCollector)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Infof("Service started successfully on %s", cfg.API.Addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}
