package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/cortexshell/cortex/pkg/cache/filestore"
	"github.com/cortexshell/cortex/pkg/config"
	"github.com/cortexshell/cortex/pkg/ledger"
	"github.com/cortexshell/cortex/pkg/provider"
	"github.com/cortexshell/cortex/pkg/stream"
)

// app bundles the collaborators shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *filestore.Store
	ledger *ledger.Ledger
}

func loadApp(opts *rootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl}))

	store, err := filestore.New(cfg.Cache.Path, cfg.Cache.Size, filestore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store}
	if cfg.Ledger.Enabled {
		a.ledger, err = ledger.New(cfg.Ledger.DBPath)
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
	}
	return a, nil
}

// client builds the cached completion client for the configured provider.
func (a *app) client() (*stream.Client, error) {
	producer, err := provider.New(a.cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("init provider: %w", err)
	}
	opts := []stream.Option{stream.WithLogger(a.logger)}
	if a.ledger != nil {
		opts = append(opts, stream.WithRecorder(a.ledger))
	}
	return stream.New(a.store, opts...).Client(producer), nil
}

func (a *app) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}
