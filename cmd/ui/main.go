package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"upbit-trade-bot-go/internal/config"
	"upbit-trade-bot-go/internal/database"
	"upbit-trade-bot-go/internal/logger"

	"go.uber.org/zap"
)

func main() {
	flags := config.NewFlagSet("ui")
	port := flags.Int("port", 8081, "port for the statistics API")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		os.Exit(2)
	}
	configPath, _ := flags.GetString("config")

	// Load configuration
	cfg, err := config.LoadConfig(configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           newMux(NewAPIHandler(log, db)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("Starting web server", zap.String("address", server.Addr))

	if err := server.ListenAndServe(); err != nil {
		log.Fatal("Web server failed", zap.Error(err))
	}
}

func newMux(h *APIHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/positions", h.PositionsHandler)
	mux.HandleFunc("/api/statistics", h.StatisticsHandler)
	return mux
}
