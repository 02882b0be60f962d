package main

// ---------------------------------------------------------------------------
// cmd_config.go — generate and inspect configuration
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sentryd-project/sentryd/internal/core"
)

func cmdConfig(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: sentryd config <init|show> [flags]")
		os.Exit(1)
	}

	switch args[0] {
	case "init":
		configInit(args[1:])
	case "show":
		configShow(args[1:])
	default:
		errorf("unknown config subcommand %q — use init or show", args[0])
	}
}

func configInit(args []string) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	path := fs.String("path", defaultConfigPath, "Where to write the config file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		errorf("%s already exists — use --force to overwrite", *path)
	}

	if dir := filepath.Dir(*path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			errorf("creating %s: %v", dir, err)
		}
	}

	if err := core.SaveConfig(core.DefaultConfig(), *path); err != nil {
		errorf("writing config: %v", err)
	}
	fmt.Printf("%s Wrote default configuration to %s\n", green("✓"), *path)
}

func configShow(args []string) {
	fs := flag.NewFlagSet("config show", flag.ExitOnError)
	path := fs.String("config", defaultConfigPath, "Config file path")
	fs.Parse(args)

	*path = envConfig(*path)

	cfg, err := core.LoadConfig(*path)
	if err != nil {
		errorf("%v", err)
	}

	// Redact secrets before printing.
	cfg.Server.APIKeys = nil
	cfg.Alerts.Email.Password = ""
	cfg.Storage.Postgres.Password = ""

	data, err := yaml.Marshal(cfg)
	if err != nil {
		errorf("marshaling config: %v", err)
	}
	os.Stdout.Write(data)
}
