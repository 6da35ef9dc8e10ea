package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/Ashfaaq98/osint-console/internal/bus"
	"github.com/Ashfaaq98/osint-console/internal/dispatch"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/Ashfaaq98/osint-console/internal/store"
)

// newLogger returns a stderr logger for a component. "error" and "quiet"
// silence informational output; "debug" adds file:line.
func newLogger(cfg Config, component string) *log.Logger {
	flags := log.LstdFlags
	switch strings.ToLower(cfg.Log.Level) {
	case "error", "quiet", "silent":
		return log.New(io.Discard, "", 0)
	case "debug":
		flags |= log.Lshortfile
	}
	return log.New(os.Stderr, "["+component+"] ", flags)
}

// openStore opens the database and applies the providers seed file, if any.
func openStore(ctx context.Context, cfg Config) (*store.Store, error) {
	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if cfg.Providers.File != "" {
		configs, err := store.LoadProviderSeed(cfg.Providers.File)
		if err != nil {
			st.Close()
			return nil, err
		}
		if _, err := st.ImportProviderConfigs(ctx, configs); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to import provider configs: %w", err)
		}
	}
	return st, nil
}

// app bundles what the analysis commands share.
type app struct {
	cfg        Config
	store      *store.Store
	registry   *providers.Registry
	bus        bus.Bus
	dispatcher *dispatch.Dispatcher
	logger     *log.Logger
}

// newApp opens the store, builds the provider registry from the stored
// configs and wires a dispatcher that publishes to the bus and audits to the store.
func newApp(ctx context.Context, cfg Config) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry, err := providers.Load(ctx, st, newLogger(cfg, "providers"))
	if err != nil {
		st.Close()
		return nil, err
	}

	b := bus.NewBus(cfg.Redis.URL, newLogger(cfg, "bus"))

	d := dispatch.New(st, registry, dispatch.Options{
		MaxConcurrency: cfg.Dispatch.Concurrency,
		CallTimeout:    cfg.Dispatch.Timeout,
		Actor:          cfg.Dispatch.Actor,
		Publisher:      b,
		Auditor:        st,
		Logger:         newLogger(cfg, "dispatch"),
	})

	return &app{
		cfg:        cfg,
		store:      st,
		registry:   registry,
		bus:        b,
		dispatcher: d,
		logger:     newLogger(cfg, "osint"),
	}, nil
}

func (a *app) Close() {
	if err := a.bus.Close(); err != nil {
		a.logger.Printf("Error closing bus: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Printf("Error closing store: %v", err)
	}
}
