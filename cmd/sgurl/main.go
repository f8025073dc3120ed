package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/haukened/sgurl/internal/sgurl/config"
)

const appName = "sgurl"

// These variables are populated by the build via -ldflags.
var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// A missing .env is fine; the environment alone is a complete configuration.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{load: config.Load}
	err := c.execute(ctx, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
