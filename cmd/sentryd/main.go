package main

// ---------------------------------------------------------------------------
// main.go — command dispatcher for the sentryd CLI
//
// This file is intentionally slim. All command implementations live in
// their own files (cmd_*.go). Shared helpers are in helpers.go, http.go,
// and output.go.
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
)

var (
	version   = "1.0.0"
	commit    = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--version", "-V":
			printVersion(os.Stdout)
			os.Exit(0)
		case "--help", "-h", "help":
			printUsage(os.Stdout)
			os.Exit(0)
		}
	}

	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	subcmd := os.Args[1]
	args := os.Args[2:]

	switch subcmd {
	case "run":
		cmdRun(args)
	case "check":
		cmdCheck(args)
	case "status":
		cmdStatus(args)
	case "events":
		cmdEvents(args)
	case "sources":
		cmdSources(args)
	case "submit":
		cmdSubmit(args)
	case "config":
		cmdConfig(args)
	case "version":
		printVersion(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, red("error: ")+"unknown command %q\n\n", subcmd)
		if s := suggest(subcmd); s != "" {
			fmt.Fprintf(os.Stderr, "       Did you mean %s?\n\n", bold(s))
		}
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printVersion(w *os.File) {
	fmt.Fprintf(w, "sentryd %s (commit %s, built %s)\n", version, commit, buildDate)
}

func printUsage(w *os.File) {
	fmt.Fprintf(w, `%s — intrusion detection and response pipeline

Usage:
  sentryd <command> [flags]

Commands:
  run       Start the detection engine and API server
  check     Run pre-flight diagnostics against the config
  status    Show status of a running instance
  events    List recently recorded attack events
  sources   Show the most active attack sources
  submit    Submit a classified traffic record for detection
  config    Generate or inspect configuration
  version   Print version information

Environment:
  SENTRYD_CONFIG    default config file path
  SENTRYD_HOST      API host override
  SENTRYD_PORT      API port override
  SENTRYD_API_KEY   API key for authentication

Run 'sentryd <command> -h' for command flags.
`, bold("sentryd"))
}
