package main

// ---------------------------------------------------------------------------
// cmd_events.go — list recently recorded attack events
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

func cmdEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	limit := fs.Int("limit", 20, "Maximum events to show")
	window := fs.String("window", "24h", "Lookback window (Go duration)")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	timeoutStr := fs.String("timeout", "10s", "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	hostVal := envHost(*host)
	portVal := envPort(*port)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	base := apiBase(*configPath, hostVal, portVal)
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	url := fmt.Sprintf("%s/api/v1/events/recent?limit=%d&window=%s", base, *limit, *window)
	body, err := apiGet(url, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if outFmt == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var resp struct {
		Events []map[string]interface{} `json:"events"`
		Total  int                      `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	rows := make([][]string, 0, len(resp.Events))
	for _, ev := range resp.Events {
		ts := fmt.Sprintf("%v", ev["timestamp"])
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ts = t.Local().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{
			ts,
			fmt.Sprintf("%v", ev["label"]),
			fmt.Sprintf("%v", ev["source_ip"]),
			fmt.Sprintf("%.0f", toFloat(ev["threat_score"])),
			fmt.Sprintf("%.0f%%", toFloat(ev["confidence"])*100),
			fmt.Sprintf("%v", ev["alert_status"]),
		})
	}

	if outFmt == FormatCSV {
		writeCSV(w, []string{"time", "label", "source_ip", "score", "confidence", "alert"}, rows)
		return
	}

	fmt.Fprintf(w, "%s Recent Attack Events (%d)\n\n", bold("●"), resp.Total)
	tbl := NewTable(w, "TIME", "TYPE", "SOURCE", "SCORE", "CONFIDENCE", "ALERT")
	for _, r := range rows {
		tbl.AddRow(r...)
	}
	tbl.Render()
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
