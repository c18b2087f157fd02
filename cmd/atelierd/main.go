package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"atelier/internal/config"
	"atelier/internal/daemonrun"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := daemonrun.LoadEnv(".env"); err != nil {
		log.Fatalf("load env: %v", err)
	}

	cfg, _, _, err := config.Load(os.Getenv("ATELIER_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: os.Getenv("ATELIER_LOG_LEVEL")}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("daemon: %v", err)
	}
}
