package main

// ---------------------------------------------------------------------------
// cmd_check.go — pre-flight diagnostics
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/sentryd-project/sentryd/internal/core"
)

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Detail string `json:"detail,omitempty"`
	}

	results := make([]checkResult, 0)
	pass := func(name, detail string) { results = append(results, checkResult{name, "pass", detail}) }
	fail := func(name, detail string) { results = append(results, checkResult{name, "fail", detail}) }
	warn := func(name, detail string) { results = append(results, checkResult{name, "warn", detail}) }

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fail("config", fmt.Sprintf("failed to load %s: %v", *configPath, err))
	} else {
		pass("config", fmt.Sprintf("loaded %s", *configPath))
	}

	if cfg != nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			fail("api_port", fmt.Sprintf("port %d is already in use", cfg.Server.Port))
		} else {
			ln.Close()
			pass("api_port", fmt.Sprintf("port %d is available", cfg.Server.Port))
		}

		if cfg.Bus.Embedded {
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Bus.Port))
			if err != nil {
				fail("nats_port", fmt.Sprintf("port %d is already in use", cfg.Bus.Port))
			} else {
				ln.Close()
				pass("nats_port", fmt.Sprintf("port %d is available", cfg.Bus.Port))
			}
		} else {
			pass("nats_port", "external NATS — skipped port check")
		}

		if cfg.Server.Port == cfg.Bus.Port {
			fail("port_conflict", fmt.Sprintf("API port (%d) and NATS port (%d) are the same", cfg.Server.Port, cfg.Bus.Port))
		} else {
			pass("port_conflict", "API and NATS ports are distinct")
		}

		dataDir := cfg.Bus.DataDir
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			fail("data_dir", fmt.Sprintf("cannot create %s: %v", dataDir, err))
		} else {
			testFile := dataDir + "/.sentryd-check"
			if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
				fail("data_dir", fmt.Sprintf("cannot write to %s: %v", dataDir, err))
			} else {
				os.Remove(testFile)
				pass("data_dir", fmt.Sprintf("%s is writable", dataDir))
			}
		}

		if cfg.Storage.Driver == "postgres" {
			pg := cfg.Storage.Postgres
			if pg.Host == "" || pg.Database == "" || pg.User == "" {
				fail("postgres", "storage.postgres requires host, database, and user")
			} else if pg.Password == "" && os.Getenv("SENTRYD_PG_PASSWORD") == "" {
				warn("postgres", "no password configured — set storage.postgres.password or SENTRYD_PG_PASSWORD")
			} else {
				pass("postgres", fmt.Sprintf("configured for %s/%s", pg.Host, pg.Database))
			}
		} else {
			pass("postgres", "memory storage — skipped")
		}

		if cfg.Alerts.Enabled {
			email := cfg.Alerts.Email
			webhook := cfg.Alerts.Webhook
			switch {
			case email.Enabled && (email.SMTPHost == "" || email.From == "" || email.To == ""):
				fail("alert_channels", "email enabled but smtp_host, from, or to is missing")
			case email.Enabled && email.Password == "" && os.Getenv("SENTRYD_SMTP_PASSWORD") == "":
				warn("alert_channels", "email enabled without a password — set alerts.email.password or SENTRYD_SMTP_PASSWORD")
			case !email.Enabled && (!webhook.Enabled || webhook.URL == ""):
				warn("alert_channels", "alerting enabled but no delivery channel configured — alerts will be recorded as FAILED")
			default:
				pass("alert_channels", "at least one delivery channel configured")
			}
		} else {
			pass("alert_channels", "alerting disabled — channel check skipped")
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]interface{}{
			"checks": results,
			"total":  len(results),
		}, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("%s Pre-flight Diagnostics\n\n", bold("●"))

	tbl := NewTable(os.Stdout, "CHECK", "STATUS", "DETAIL")
	failures := 0
	warnings := 0
	for _, r := range results {
		var statusStr string
		switch r.Status {
		case "pass":
			statusStr = green("PASS")
		case "fail":
			statusStr = red("FAIL")
			failures++
		case "warn":
			statusStr = yellow("WARN")
			warnings++
		}
		tbl.AddRow(r.Name, statusStr, r.Detail)
	}
	tbl.Render()
	fmt.Println()

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%s %d check(s) failed. Fix issues before running 'sentryd run'.\n", red("✗"), failures)
		os.Exit(1)
	}
	if warnings > 0 {
		fmt.Printf("%s All checks passed with %d warning(s).\n", yellow("!"), warnings)
	} else {
		fmt.Printf("%s All checks passed. Ready to run 'sentryd run'.\n", green("✓"))
	}
}
