// Package main provides the lightweight MCP entry point for the disease intake tools.
// This version requires no external databases - uses in-memory caching and SQLite.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/disease-intake-server/internal/config"
	"github.com/disease-intake-server/internal/mcp"
)

func main() {
	cfg := config.LoadLiteConfig()

	log.Printf("Starting disease intake MCP server (lite), predictor: %s", cfg.PredictorURL)
	log.Printf("Data directory: %s", cfg.DataDir)

	server, err := mcp.NewLiteServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		log.Printf("MCP server failed: %v", err)
		return
	}

	log.Println("Disease intake MCP server (lite) stopped")
}
