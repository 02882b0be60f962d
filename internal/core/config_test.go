package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Detection.Thresholds["DOS"] = 1.5 }},
		{"unknown threshold label", func(c *Config) { c.Detection.Thresholds["DDOS"] = 0.5 }},
		{"negative default threshold", func(c *Config) { c.Detection.DefaultThreshold = -0.1 }},
		{"zero workers", func(c *Config) { c.Detection.Workers = 0 }},
		{"severity weight above one", func(c *Config) { c.Scoring.SeverityWeights["U2R"] = 2.0 }},
		{"negative confidence weight", func(c *Config) { c.Scoring.ConfidenceWeight = -1 }},
		{"alert threshold above 100", func(c *Config) { c.Alerts.ScoreThreshold = 150 }},
		{"zero alert window", func(c *Config) { c.Alerts.Window = 0 }},
		{"zero per-source cap", func(c *Config) { c.Alerts.MaxPerSource = 0 }},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "sqlite" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Errorf("Port = %d, want default %d", cfg.Server.Port, DefaultConfig().Server.Port)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  port: 9999\ndetection:\n  thresholds:\n    DOS: 0.9\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if got := cfg.Detection.ThresholdFor(LabelDOS); got != 0.9 {
		t.Errorf("ThresholdFor(DOS) = %v, want 0.9", got)
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("alerts:\n  window: -5m\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid config, got nil")
	}
}

func TestLoadConfigEnvAPIKey(t *testing.T) {
	t.Setenv("SENTRYD_API_KEY", "secret-key")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Fatal("API key from env should enable auth")
	}
	if !cfg.ValidateAPIKey("secret-key") {
		t.Error("env-provided key should validate")
	}
	if cfg.ValidateAPIKey("wrong") {
		t.Error("wrong key should not validate")
	}
}

func TestThresholdForFallsBack(t *testing.T) {
	cfg := DetectionConfig{
		Thresholds:       map[string]float64{"DOS": 0.7},
		DefaultThreshold: 0.65,
	}
	if got := cfg.ThresholdFor(LabelDOS); got != 0.7 {
		t.Errorf("ThresholdFor(DOS) = %v, want 0.7", got)
	}
	if got := cfg.ThresholdFor(LabelU2R); got != 0.65 {
		t.Errorf("ThresholdFor(U2R) = %v, want default 0.65", got)
	}
}

func TestSeverityWeightForFallsBack(t *testing.T) {
	cfg := ScoringConfig{SeverityWeights: map[string]float64{"DOS": 0.8}}
	if got := cfg.SeverityWeightFor(LabelDOS); got != 0.8 {
		t.Errorf("SeverityWeightFor(DOS) = %v, want 0.8", got)
	}
	if got := cfg.SeverityWeightFor(LabelProbe); got != 0.5 {
		t.Errorf("SeverityWeightFor(PROBE) = %v, want fallback 0.5", got)
	}
}

func TestIsAllowedSource(t *testing.T) {
	cfg := DetectionConfig{AllowSourceIPs: []string{"10.0.0.5", "10.0.0.6"}}
	if !cfg.IsAllowedSource("10.0.0.5") {
		t.Error("10.0.0.5 should be allowed")
	}
	if cfg.IsAllowedSource("10.0.0.7") {
		t.Error("10.0.0.7 should not be allowed")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := DefaultConfig()
	cfg.Server.Port = 4321

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	back, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if back.Server.Port != 4321 {
		t.Errorf("Port = %d, want 4321", back.Server.Port)
	}
}
