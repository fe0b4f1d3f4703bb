/*
arqcopier copies a single file between two hosts over UDP using a
stop-and-wait protocol with a one-bit alternating sequence number, CRC-32
checksums and timeout driven retransmission.

The program operates in two modes:

1. Server Mode (-server): serves files from a root directory, one request
at a time, answering each request with "200" or "404"

2. Client Mode: requests one file by name and writes it to the output
directory, optionally simulating packet loss on the receiving side
*/
package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arqcopier/internal/client"
	"arqcopier/internal/config"
	"arqcopier/internal/logging"
	"arqcopier/internal/server"
)

func main() {
	os.Exit(run(os.Args[0], os.Args[1:]))
}

// run executes one invocation and returns the process exit code
func run(name string, args []string) int {
	// Parse command line arguments
	cfg, err := config.Parse(name, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		slog.Error("Configuration error", "error", err)
		return 2
	}

	// Setup structured logging
	if err := logging.SetupLogger(cfg.LogDir, cfg.Verbose); err != nil {
		slog.Error("Failed to setup logging", "error", err)
		return 1
	}

	// Log configuration
	logging.LogConfig(cfg)

	// Set up signal handling for graceful shutdown
	setupSignalHandling()

	// Run in appropriate mode
	if cfg.IsServer {
		if err := server.Run(cfg); err != nil {
			logging.LogError(err, "server")
			return 1
		}
		return 0
	}

	if err := client.Run(cfg); err != nil {
		logging.LogError(err, "client")
		return 1
	}
	return 0
}

// setupSignalHandling sets up handlers for OS signals to ensure clean shutdown
func setupSignalHandling() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		slog.Info("Received shutdown signal", "signal", sig)

		// Allow some time for cleanup
		time.Sleep(500 * time.Millisecond)

		slog.Info("Application shutting down gracefully")
		os.Exit(0)
	}()
}
