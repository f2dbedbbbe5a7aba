package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"androidbox/adb"
	"androidbox/api"
	"androidbox/bridge"
	"androidbox/config"
	"androidbox/provider"
	"androidbox/service"
	"androidbox/shell"
)

// setupLogging creates a log file in the log directory with timestamp
// Returns the log file handle (caller should defer Close())
func setupLogging() (*os.File, error) {
	// Create log directory if not exists
	logDir := "log"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Create log file with timestamp: log/2025-12-08_21-52-35.log
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Write to both console and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("📝 Logging to: %s", logPath)
	return logFile, nil
}

func main() {
	// The same binary serves two roles: the host daemon, and the bridge
	// it deploys into containers. The provisioner launches the deployed
	// copy with the bridge subcommand.
	if len(os.Args) > 1 && os.Args[1] == "bridge" {
		runBridge(os.Args[2:])
		return
	}
	runDaemon()
}

// runBridge serves the websocket control protocol inside the container,
// talking to the local adb server.
func runBridge(args []string) {
	fs := flag.NewFlagSet("bridge", flag.ExitOnError)
	serial := fs.String("serial", "emulator-5554", "adb serial to control")
	port := fs.Int("port", 8000, "port to serve the control protocol on")
	fs.Parse(args)

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Bridge starting for %s on port %d", *serial, *port)

	gin.SetMode(gin.ReleaseMode)
	server := bridge.NewServer(adb.DirectClient(shell.ExecRunner{}, *serial))
	if err := server.Router().Run(fmt.Sprintf(":%d", *port)); err != nil {
		log.Fatal("Failed to start bridge:", err)
	}
}

// runDaemon is the host side: management API, device registry, container
// lifecycle.
func runDaemon() {
	// Setup file logging
	logFile, err := setupLogging()
	if err != nil {
		log.Printf("Warning: Failed to setup file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting androidbox daemon...")

	cfg := config.Load()

	db, err := config.OpenDatabase(cfg.DataDir)
	if err != nil {
		log.Fatal("Failed to open device registry:", err)
	}
	defer db.Close()

	manager := service.NewManager(
		provider.New(shell.ExecRunner{}),
		config.NewStore(db),
		cfg,
	)

	// Setup HTTP server
	router := gin.Default()
	api.SetupRoutes(router, manager)

	log.Printf("Server starting on http://localhost%s", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
