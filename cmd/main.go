package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/tombdbad/sw5e-campaign-server/internal/api"
	"github.com/tombdbad/sw5e-campaign-server/internal/db"
	"github.com/tombdbad/sw5e-campaign-server/internal/gm"
)

func main() {
	// Get configuration from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	driver := os.Getenv("DB_DRIVER")
	if driver == "" {
		driver = db.DriverSQLite
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		if driver == db.DriverSQLite {
			dsn = "campaign.db"
		} else {
			log.Fatal("DB_DSN required for non-sqlite drivers")
		}
	}

	if os.Getenv("JWT_SECRET") == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// Initialize database
	database, err := db.NewDB(driver, dsn)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// GM client is optional; without OPENROUTER_API_KEY responses are
	// pasted by hand
	gmClient := gm.NewClient()
	if gmClient.Configured() {
		log.Print("GM client configured")
	}

	// Create API server
	server := api.NewServer(database, gmClient)

	// Start HTTP server
	addr := fmt.Sprintf(":%s", port)
	log.Printf("Starting server on %s", addr)

	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
