package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	loopmix "github.com/nwestra/loopmix"
	"github.com/nwestra/loopmix/internal/api"
	"github.com/nwestra/loopmix/internal/config"
	"github.com/nwestra/loopmix/internal/jobs"
	"github.com/nwestra/loopmix/internal/logger"
	"github.com/nwestra/loopmix/internal/playlist"
	"github.com/nwestra/loopmix/internal/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file (default: ./config/loopmix.yaml)")
	port := flag.Int("port", 8080, "Port to listen on")
	runsPath := flag.String("runs", "", "Override runs path from config")
	flag.Parse()

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/loopmix.yaml"
		}
	}

	// Load config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Initialize logger with default level for this warning
		logger.Init("info")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}

	// Initialize logger with configured level
	logger.Init(cfg.LogLevel)

	// Override with environment variables and flags
	if envRuns := os.Getenv("RUNS_PATH"); envRuns != "" {
		cfg.RunsPath = envRuns
	}
	if *runsPath != "" {
		cfg.RunsPath = *runsPath
	}
	if envData := os.Getenv("DATA_PATH"); envData != "" {
		cfg.DataPath = envData
	}

	if err := os.MkdirAll(cfg.RunsPath, 0755); err != nil {
		logger.Error("Could not create runs directory", "path", cfg.RunsPath, "error", err)
		os.Exit(1)
	}

	// Initialize SQLite store
	jobStore, err := store.NewSQLiteStore(filepath.Join(cfg.DataPath, "loopmix.db"))
	if err != nil {
		logger.Error("Failed to initialize job store", "error", err)
		os.Exit(1)
	}
	defer jobStore.Close()

	// No in-flight job survives a restart; anything non-terminal is
	// failed now so it never resumes silently.
	if n, err := jobStore.FailInterrupted("interrupted by restart"); err != nil {
		logger.Error("Failed to fail interrupted jobs", "error", err)
		jobStore.Close()
		os.Exit(1)
	} else if n > 0 {
		logger.Warn("Failed interrupted jobs from previous run", "count", n)
	}

	manager, err := jobs.NewManager(jobStore, cfg.RunsPath)
	if err != nil {
		logger.Error("Failed to initialize job manager", "error", err)
		jobStore.Close()
		os.Exit(1)
	}

	workerPool := jobs.NewWorkerPool(manager, cfg)
	manager.SetCanceller(workerPool)

	// Create API handler
	handler := api.NewHandler(manager, playlist.NewImporter(), cfg)
	router := api.NewRouter(handler)

	// Start worker pool
	workerPool.Start()

	fmt.Printf("loopmix v%s\n", loopmix.Version)
	fmt.Printf("  Runs path:  %s\n", cfg.RunsPath)
	fmt.Printf("  Config:     %s\n", cfgPath)
	fmt.Printf("  Database:   %s\n", jobStore.Path())
	fmt.Printf("  Workers:    %d\n", workerPool.WorkerCount())
	fmt.Printf("  FFmpeg:     %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:    %s\n", cfg.FFprobePath)
	fmt.Printf("  Listening:  :%d\n", *port)
	fmt.Println()

	logger.Info("loopmix started", "version", loopmix.Version,
		"workers", workerPool.WorkerCount(), "port", *port)

	// Set up graceful shutdown
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		workerPool.Stop()
		server.Close()
	}()

	// Start server
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		workerPool.Stop()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
