// Command weaved is the weave document server daemon.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"weave/internal/api"
	"weave/internal/config"
	"weave/internal/kernel"
	"weave/internal/store"
)

func main() {
	// Parse flags
	listen := flag.String("listen", "", "Address to listen on (default: :9432)")
	dataDir := flag.String("data", "", "Data directory (default: ./data)")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	// Load config (flags override file and env)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	log.Printf("weaved starting...")
	log.Printf("  listen:       %s", cfg.Listen)
	log.Printf("  data:         %s", cfg.DataDir)
	log.Printf("  concurrency:  %d", cfg.MaxConcurrency)
	log.Printf("  kernels:      %d registered", len(cfg.Kernels))
	log.Printf("  version:      %s", api.Version)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "weave.db"))
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	manager := kernel.NewManager(cfg.Kernels)
	defer manager.ShutdownAll()

	mux := api.NewRouter(cfg, manager, db)
	handler := api.WithDefaults(mux)

	srv := &http.Server{
		Addr:        cfg.Listen,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Handle graceful shutdown
	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}

		close(done)
	}()

	log.Printf("weaved listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	<-done
	log.Println("weaved stopped")
}
