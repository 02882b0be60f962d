package main

// ---------------------------------------------------------------------------
// cmd_run.go — start the detection engine and API server
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"github.com/sentryd-project/sentryd/internal/api"
	"github.com/sentryd-project/sentryd/internal/core"
	"github.com/sentryd-project/sentryd/internal/store"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	driver := fs.String("storage", "", "Storage driver override: memory, postgres")
	noAPI := fs.Bool("no-api", false, "Run without the REST API server")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("%v", err)
	}
	if *driver != "" {
		cfg.Storage.Driver = *driver
		if err := cfg.Validate(); err != nil {
			errorf("%v", err)
		}
	}

	eventStore, err := openStore(cfg)
	if err != nil {
		errorf("opening event store: %v", err)
	}

	engine, err := core.NewEngine(cfg, eventStore)
	if err != nil {
		errorf("initializing engine: %v", err)
	}

	if !*noAPI {
		server := api.NewServer(engine)
		if err := server.Start(); err != nil {
			errorf("starting API server: %v", err)
		}
		defer server.Stop()
	}

	fmt.Fprintf(os.Stderr, "%s sentryd %s starting (storage=%s)\n", green("●"), version, cfg.Storage.Driver)

	if err := engine.Run(); err != nil {
		errorf("%v", err)
	}
}

// openStore builds the configured EventStore implementation.
func openStore(cfg *core.Config) (core.EventStore, error) {
	logger := core.NewLogger(cfg)
	switch cfg.Storage.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.Storage.Postgres, logger)
	case "memory":
		return store.NewMemoryStore(0, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
