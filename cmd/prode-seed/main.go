package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/prode/internal/adapters/repository"
	service "github.com/okian/prode/internal/app"
	"github.com/okian/prode/internal/config"
	"github.com/okian/prode/internal/domain/validation"
	"github.com/okian/prode/internal/seed"
	"github.com/okian/prode/pkg/logger"
)

// Default seeding parameters.
const (
	defaultPlayers = 50
	defaultSpread  = 4.0
)

type options struct {
	players int
	publish bool
	purge   bool
	dryRun  bool
	spread  float64
	seed    uint64
	storage string
	sqlite  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func parseFlags(args []string, cfg *config.Config) (options, error) {
	opts := options{storage: cfg.Storage, sqlite: cfg.SQLitePath}
	fs := flag.NewFlagSet("prode-seed", flag.ContinueOnError)
	fs.IntVar(&opts.players, "players", defaultPlayers, "Number of synthetic predictions to submit")
	fs.BoolVar(&opts.publish, "publish", false, "Publish the generated official result")
	fs.BoolVar(&opts.purge, "purge", false, "Delete seeded predictions instead of creating them")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "With -purge, only count what would be deleted")
	fs.Float64Var(&opts.spread, "spread", defaultSpread, "Standard deviation of prediction noise, in points")
	fs.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "Random seed")
	fs.StringVar(&opts.storage, "storage", opts.storage, "Storage backend: memory or sqlite")
	fs.StringVar(&opts.sqlite, "sqlite", opts.sqlite, "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.players < 0 {
		return options{}, fmt.Errorf("players must not be negative: %d", opts.players)
	}
	if opts.dryRun && !opts.purge {
		return options{}, errors.New("-dry-run requires -purge")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts, err := parseFlags(args, cfg)
	if err != nil {
		return err
	}
	cfg.Storage, cfg.SQLitePath = opts.storage, opts.sqlite
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(os.Stderr)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	_ = logger.SetLevelString(cfg.LogLevel)
	log := logger.Get().Named("seed")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.Storage == config.StorageMemory {
		log.Warn(ctx, "memory storage selected; seeded data is discarded on exit")
	}

	if opts.purge {
		defer store.Close()
		n, err := seed.Purge(ctx, store, opts.dryRun)
		if err != nil {
			return err
		}
		log.Info(ctx, "purge finished", logger.Int("matched", n), logger.Bool("dryRun", opts.dryRun))
		return json.NewEncoder(out).Encode(map[string]any{"matched": n, "dry_run": opts.dryRun})
	}

	catalog := validation.Catalog{
		Forces:           cfg.Forces,
		Provinces:        cfg.Provinces,
		ForcesByProvince: cfg.ForcesByProvince,
	}
	// No deadline and no sync sink: the server delivers pending rows on start.
	svc := service.New(store,
		service.WithLogger(log),
		service.WithCatalog(catalog),
		service.WithScoringWeights(cfg.Scoring),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() { _ = svc.Stop(context.WithoutCancel(ctx)) }()

	rep, err := seed.Run(ctx, svc, seed.Config{
		Players: opts.players,
		Publish: opts.publish,
		Spread:  opts.spread,
		Seed:    opts.seed,
		Catalog: catalog,
	}, log)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(rep)
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.Storage == config.StorageMemory {
		return repository.NewMemoryStore(), nil
	}
	s, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}
