package main

// ---------------------------------------------------------------------------
// cmd_submit.go — submit a classified record to a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

func cmdSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	inputFile := fs.String("input", "-", "Read record JSON from file (- for stdin)")
	jsonOut := fs.Bool("json", false, "Output raw JSON response")
	timeoutStr := fs.String("timeout", "10s", "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	hostVal := envHost(*host)
	portVal := envPort(*port)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	var reader io.Reader
	if *inputFile == "-" || *inputFile == "" {
		fi, err := os.Stdin.Stat()
		if err != nil {
			errorf("checking stdin: %v", err)
		}
		if (fi.Mode() & os.ModeCharDevice) != 0 {
			errorf("no input provided — pipe record JSON via stdin or use --input <file>")
		}
		reader = os.Stdin
	} else {
		f, err := os.Open(*inputFile)
		if err != nil {
			errorf("opening input file %q: %v", *inputFile, err)
		}
		defer f.Close()
		reader = f
	}

	payload, err := io.ReadAll(reader)
	if err != nil {
		errorf("reading input: %v", err)
	}
	if len(payload) == 0 {
		errorf("empty input — provide record JSON")
	}

	var record map[string]interface{}
	if err := json.Unmarshal(payload, &record); err != nil {
		errorf("invalid JSON: %v", err)
	}

	if _, ok := record["timestamp"]; !ok {
		record["timestamp"] = time.Now().UTC()
		warnf("record has no timestamp — using current time")
	}

	recordJSON, _ := json.Marshal(record)

	base := apiBase(*configPath, hostVal, portVal)
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiPost(base+"/api/v1/records", recordJSON, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Println(string(body))
		return
	}

	fmt.Fprintf(os.Stdout, "%s Record submitted — label=%s status=%s\n",
		green("✓"), resp["label"], resp["status"])
}
