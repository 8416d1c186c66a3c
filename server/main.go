package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/brettgrigsby/blast-off/sim"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	clientDir := flag.String("client", "", "Path to client directory (default: ../client)")
	dbPath := flag.String("db", "blastoff.db", "Path to SQLite database")
	cfgPath := flag.String("config", "", "Path to simulation config YAML (default: built-in tuning)")
	flag.Parse()

	if *clientDir == "" {
		exe, _ := os.Executable()
		*clientDir = filepath.Join(filepath.Dir(exe), "..", "client")
		// Fallback for development
		if _, err := os.Stat(*clientDir); os.IsNotExist(err) {
			*clientDir = "../client"
		}
	}

	cfg := sim.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := sim.LoadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}

	db, err := OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	analytics := NewAnalytics(db)
	defer analytics.Stop()

	hub := NewHub(cfg, db, analytics)
	go hub.Run()

	mux := SetupRoutes(hub, *clientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		log.Printf("Serving client files from %s", *clientDir)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
}
