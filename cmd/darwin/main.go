package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hetulpatel/darwin/internal/config"
	"github.com/hetulpatel/darwin/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("DARWIN_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("[darwin] %v", err)
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		logging.Fatalf("[darwin] startup: %v", err)
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		logging.Fatalf("[darwin] %v", err)
	}
}
