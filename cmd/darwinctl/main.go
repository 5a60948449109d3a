// darwinctl is the operator tool for the signal store and ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hetulpatel/darwin/internal/config"
	"github.com/hetulpatel/darwin/internal/logging"
)

const usage = `usage: darwinctl [-config file] <command> [args]

commands:
  migrate          drop legacy tables and create the current schema
  drop             drop every table
  signals          list recent signals (-limit, -market, -tradeable)
  reveal <id>      publish the reveal memo for a committed signal
  verify <id>      check a signal's commit and reveal memos on the ledger
  prune            delete expired signals and old seen-article keys (-article-age)
  tail             print signals from the kafka stream (-workers, -group)
`

type command func(ctx context.Context, cfg config.Config, args []string) error

var commands = map[string]command{
	"migrate": runMigrate,
	"drop":    runDrop,
	"signals": runSignals,
	"reveal":  runReveal,
	"verify":  runVerify,
	"prune":   runPrune,
	"tail":    runTail,
}

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := flag.String("config", os.Getenv("DARWIN_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[darwinctl] %v", err)
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, cfg, flag.Args()[1:]); err != nil {
		log.Fatalf("[darwinctl] %s: %v", flag.Arg(0), err)
	}
}
