package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/hetulpatel/darwin/internal/commitment"
	"github.com/hetulpatel/darwin/internal/config"
	"github.com/hetulpatel/darwin/internal/ledger"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/ports"
	"github.com/hetulpatel/darwin/internal/storage/sqlite"
	"github.com/hetulpatel/darwin/internal/workers"
)

func openSQLite(cfg config.Config) (*sqlite.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return nil, errors.New("storage driver is memory; nothing to operate on")
	}
	return sqlite.Open(cfg.Storage.Path)
}

func runMigrate(ctx context.Context, cfg config.Config, _ []string) error {
	store, err := openSQLite(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Printf("schema migrated at %s\n", store.Path())
	return nil
}

func runDrop(ctx context.Context, cfg config.Config, _ []string) error {
	store, err := openSQLite(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.DropTables(ctx); err != nil {
		return err
	}
	fmt.Printf("dropped tables at %s\n", store.Path())
	return nil
}

func runSignals(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("signals", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum signals to list")
	marketID := fs.String("market", "", "only signals for this market")
	tradeable := fs.Bool("tradeable", false, "only tradeable signals")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openSQLite(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var sigs []models.Signal
	if *marketID != "" {
		sigs, err = store.GetSignalsByMarket(ctx, *marketID)
	} else {
		sigs, err = store.ListSignals(ctx, *limit)
	}
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Market", "Question", "Dir", "Est", "Mkt", "EV net", "EV LB", "Conf", "Committed", "Created")
	shown := 0
	for _, s := range sigs {
		if *tradeable && !s.Tradeable {
			continue
		}
		if shown >= *limit {
			break
		}
		shown++
		committed := "-"
		if s.Commitment.RevealTxID != "" {
			committed = "revealed"
		} else if s.Commitment.CommitTxID != "" {
			committed = "committed"
		}
		table.Append(
			shortID(s.ID),
			s.MarketID,
			clip(s.Question, 48),
			string(s.Direction),
			fmt.Sprintf("%.3f", s.DarwinEstimate),
			fmt.Sprintf("%.3f", s.MarketPrice),
			fmt.Sprintf("%+.4f", s.EVNet),
			fmt.Sprintf("%+.4f", s.EVNetLowerBound),
			string(s.Confidence),
			committed,
			s.CreatedAt.Local().Format("01-02 15:04"),
		)
	}
	return table.Render()
}

func runReveal(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("reveal needs exactly one signal id")
	}
	svc, closeFn, err := commitmentService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	c, err := svc.Reveal(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("revealed %s in tx %s\n", args[0], c.RevealTxID)
	return nil
}

func runVerify(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("verify needs exactly one signal id")
	}
	svc, closeFn, err := commitmentService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	v, err := svc.VerifyOnLedger(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPrune(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	articleAge := fs.Duration("article-age", 7*24*time.Hour, "forget seen-article keys older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := openSQLite(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	signals, err := store.PruneExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("prune signals: %w", err)
	}
	articles, err := store.PruneArticles(ctx, now.Add(-*articleAge).UnixMilli())
	if err != nil {
		return fmt.Errorf("prune articles: %w", err)
	}
	fmt.Printf("pruned %d expired signals and %d article keys\n", signals, articles)
	return nil
}

func runTail(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	n := fs.Int("workers", 1, "reader count")
	group := fs.String("group", "darwinctl-tail", "consumer group")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	workers.Run(ctx, cfg.Kafka.Brokers, cfg.Kafka.SignalTopic, *group, *n, func(_ context.Context, s *models.Signal) error {
		fmt.Printf("%s %s %-3s est=%.3f mkt=%.3f ev=%+.4f lb=%+.4f tradeable=%t %s\n",
			s.CreatedAt.Local().Format(time.RFC3339), shortID(s.ID), s.Direction,
			s.DarwinEstimate, s.MarketPrice, s.EVNet, s.EVNetLowerBound, s.Tradeable, clip(s.Question, 60))
		return nil
	})
	return nil
}

// commitmentService builds a service over the configured ledger. The memory
// ledger starts empty, so reveal and verify are only meaningful with evm.
func commitmentService(ctx context.Context, cfg config.Config) (*commitment.Service, func(), error) {
	store, err := openSQLite(cfg)
	if err != nil {
		return nil, nil, err
	}
	var led ports.Ledger
	closeFn := func() { store.Close() }
	switch cfg.Ledger.Driver {
	case "evm":
		evm, err := ledger.DialEVM(ctx, ledger.EVMConfig{
			RPCURL:      cfg.Ledger.RPCURL,
			PrivateKey:  cfg.Ledger.PrivateKey,
			WaitTimeout: cfg.Ledger.WaitTimeout,
		})
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("dial ledger: %w", err)
		}
		led = evm
		closeFn = func() { evm.Close(); store.Close() }
	default:
		led = ledger.NewMemory()
	}
	cc := cfg.Ledger.Config
	cc.Enabled = true
	return commitment.New(cc, led, store, nil), closeFn, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
