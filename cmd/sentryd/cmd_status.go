package main

// ---------------------------------------------------------------------------
// cmd_status.go — fetch status from a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	timeoutStr := fs.String("timeout", "5s", "Request timeout")
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
	body, err := apiGet(base+"/api/v1/status", apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		errorf("parsing response: %v", err)
	}

	fmt.Printf("%s sentryd Status\n\n", bold("●"))
	fmt.Printf("  %-20s %s\n", "Version:", green(fmt.Sprintf("%v", status["version"])))
	fmt.Printf("  %-20s %s\n", "Status:", green(fmt.Sprintf("%v", status["status"])))
	fmt.Printf("  %-20s %v\n", "Storage:", status["storage"])
	fmt.Printf("  %-20s %v\n", "Alerting:", status["alerting"])
	fmt.Printf("  %-20s %v\n", "Bus Connected:", status["bus_connected"])
	fmt.Printf("  %-20s %v\n", "Pending Records:", status["pending_records"])
	fmt.Printf("  %-20s %v\n", "Recorder Queue:", status["recorder_queue"])
	fmt.Printf("  %-20s %v\n", "Dispatcher Queue:", status["dispatcher_queue"])

	if cache, ok := status["intel_cache"].(map[string]interface{}); ok {
		fmt.Printf("\n  %s\n", bold("Intelligence Cache:"))
		fmt.Printf("    %-18s %v\n", "Entries:", cache["entries"])
		fmt.Printf("    %-18s %v\n", "Hits:", cache["hits"])
		fmt.Printf("    %-18s %v\n", "Misses:", cache["misses"])
		fmt.Printf("    %-18s %v\n", "Negatives:", cache["negatives"])
	}

	if rl, ok := status["rate_limiter"].(map[string]interface{}); ok {
		fmt.Printf("\n  %s\n", bold("Rate Limiter:"))
		fmt.Printf("    %-18s %v\n", "Active Sources:", rl["active_sources"])
		fmt.Printf("    %-18s %v\n", "Active Types:", rl["active_types"])
	}

	fmt.Printf("\n  %-20s %v\n", "Timestamp:", status["timestamp"])
}
