package main

// ---------------------------------------------------------------------------
// cmd_sources.go — top attack sources and label distribution
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"
)

func cmdSources(args []string) {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	limit := fs.Int("limit", 10, "Maximum sources to show")
	window := fs.String("window", "24h", "Lookback window (Go duration)")
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	timeoutStr := fs.String("timeout", "10s", "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	hostVal := envHost(*host)
	portVal := envPort(*port)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	base := apiBase(*configPath, hostVal, portVal)
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)

	srcURL := fmt.Sprintf("%s/api/v1/stats/top-sources?limit=%d&window=%s", base, *limit, *window)
	srcBody, err := apiGet(srcURL, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	distURL := fmt.Sprintf("%s/api/v1/stats/distribution?window=%s", base, *window)
	distBody, err := apiGet(distURL, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	if *jsonOut {
		fmt.Println(string(srcBody))
		fmt.Println(string(distBody))
		return
	}

	var srcResp struct {
		Sources []map[string]interface{} `json:"sources"`
	}
	if err := json.Unmarshal(srcBody, &srcResp); err != nil {
		errorf("parsing response: %v", err)
	}
	var distResp struct {
		Distribution map[string]int64 `json:"distribution"`
	}
	if err := json.Unmarshal(distBody, &distResp); err != nil {
		errorf("parsing response: %v", err)
	}

	fmt.Printf("%s Top Attack Sources (window %s)\n\n", bold("●"), *window)
	tbl := NewTable(os.Stdout, "SOURCE", "EVENTS", "MAX SCORE", "BYTES SENT", "COUNTRY")
	for _, s := range srcResp.Sources {
		country := fmt.Sprintf("%v", s["country"])
		if country == "" || country == "<nil>" {
			country = dim("unknown")
		}
		tbl.AddRow(
			fmt.Sprintf("%v", s["source_ip"]),
			fmt.Sprintf("%.0f", toFloat(s["events"])),
			fmt.Sprintf("%.0f", toFloat(s["max_score"])),
			fmt.Sprintf("%.0f", toFloat(s["bytes_sent"])),
			country,
		)
	}
	tbl.Render()

	if len(distResp.Distribution) > 0 {
		labels := make([]string, 0, len(distResp.Distribution))
		for label := range distResp.Distribution {
			labels = append(labels, label)
		}
		sort.Slice(labels, func(i, j int) bool {
			return distResp.Distribution[labels[i]] > distResp.Distribution[labels[j]]
		})
		fmt.Printf("\n  %s\n", bold("Attack Distribution:"))
		for _, label := range labels {
			fmt.Printf("    %-10s %d\n", label, distResp.Distribution[label])
		}
	}
	fmt.Println()
}
