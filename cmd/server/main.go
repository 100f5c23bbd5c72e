package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oneira.app/dream-interpreter/internal/api"
	"oneira.app/dream-interpreter/internal/config"
	"oneira.app/dream-interpreter/internal/core"
	"oneira.app/dream-interpreter/internal/gateway"
	"oneira.app/dream-interpreter/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize the model gateway (constructed once, injected everywhere)
	gw, err := gateway.NewGeminiGateway(config.AppConfig.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Failed to initialize Gemini gateway: %v", err)
	}
	defer gw.Close()

	// Initialize core services
	ledger := core.NewQuotaLedger(dbStore)
	interpreter := core.NewInterpreterService(dbStore, gw, ledger, config.AppConfig.ResponseMode)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(interpreter, ledger, dbStore, config.AppConfig.DevMode)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
