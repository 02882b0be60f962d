package core

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sentryd-project/sentryd/internal/intel"
)

// Config holds the entire sentryd configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bus       BusConfig       `yaml:"bus"`
	Detection DetectionConfig `yaml:"detection"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Intel     IntelConfig     `yaml:"intel"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	APIKeys []string `yaml:"api_keys"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// DetectionConfig controls the orchestrator.
type DetectionConfig struct {
	// Thresholds holds the per-class minimum confidence, keyed by label
	// name. Rarer, costlier-to-misclassify classes get higher thresholds.
	Thresholds       map[string]float64 `yaml:"thresholds"`
	DefaultThreshold float64            `yaml:"default_threshold"`
	Workers          int                `yaml:"workers"`
	// AllowSourceIPs are sources that are recorded but never alerted on.
	AllowSourceIPs []string `yaml:"allow_source_ips"`
}

// ScoringConfig holds the threat score weight tables.
type ScoringConfig struct {
	ConfidenceWeight float64            `yaml:"confidence_weight"`
	SeverityWeight   float64            `yaml:"severity_weight"`
	VPNWeight        float64            `yaml:"vpn_weight"`
	GeoWeight        float64            `yaml:"geo_weight"`
	SeverityWeights  map[string]float64 `yaml:"severity_weights"`
	// AllowedCountries lists country codes that earn no geo-anomaly bonus.
	// Empty disables the geo bonus entirely.
	AllowedCountries []string `yaml:"allowed_countries"`
}

// IntelConfig holds intelligence client and cache settings.
type IntelConfig struct {
	Client intel.ClientConfig `yaml:"client"`
	Cache  intel.CacheConfig  `yaml:"cache"`
}

// AlertConfig holds alert dispatch settings.
type AlertConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ScoreThreshold float64       `yaml:"score_threshold"`
	Window         time.Duration `yaml:"window"`
	MaxPerSource   int           `yaml:"max_per_source"`
	MaxPerType     int           `yaml:"max_per_type"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	Email          EmailConfig   `yaml:"email"`
	Webhook        WebhookConfig `yaml:"webhook"`
}

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	From     string `yaml:"from"`
	Password string `yaml:"password"`
	To       string `yaml:"to"`
}

// WebhookConfig holds webhook delivery settings.
type WebhookConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RecorderConfig controls durable-write retries and the overflow queue.
type RecorderConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	QueueSize     int           `yaml:"queue_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// StorageConfig selects and configures the event store backend.
type StorageConfig struct {
	Driver   string         `yaml:"driver"` // "memory" or "postgres"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults — zero-config works out
// of the box with the in-memory store and an embedded bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 1830,
		},
		Bus: BusConfig{
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Detection: DetectionConfig{
			Thresholds: map[string]float64{
				"DOS":   0.70,
				"PROBE": 0.75,
				"R2L":   0.80,
				"U2R":   0.85,
			},
			DefaultThreshold: 0.70,
			Workers:          8,
			AllowSourceIPs:   []string{},
		},
		Scoring: ScoringConfig{
			ConfidenceWeight: 0.40,
			SeverityWeight:   0.40,
			VPNWeight:        0.15,
			GeoWeight:        0.05,
			SeverityWeights: map[string]float64{
				"NORMAL": 0.0,
				"PROBE":  0.3,
				"DOS":    0.8,
				"R2L":    0.7,
				"U2R":    1.0,
			},
			AllowedCountries: []string{},
		},
		Intel: IntelConfig{
			Client: intel.DefaultClientConfig(),
			Cache:  intel.DefaultCacheConfig(),
		},
		Alerts: AlertConfig{
			Enabled:        true,
			ScoreThreshold: 70,
			Window:         10 * time.Minute,
			MaxPerSource:   5,
			MaxPerType:     20,
			Workers:        2,
			QueueSize:      256,
			SendTimeout:    15 * time.Second,
			RetryInterval:  5 * time.Minute,
			Email: EmailConfig{
				SMTPHost: "smtp.gmail.com",
				SMTPPort: 587,
			},
			Webhook: WebhookConfig{
				Timeout: 10 * time.Second,
			},
		},
		Recorder: RecorderConfig{
			MaxRetries:    3,
			RetryBackoff:  250 * time.Millisecond,
			QueueSize:     1000,
			FlushInterval: 5 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Postgres: PostgresConfig{
				Host:    "127.0.0.1",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
// The result is validated: a malformed threshold or weight table fails here,
// before any record is processed.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if pw := os.Getenv("SENTRYD_SMTP_PASSWORD"); pw != "" {
		cfg.Alerts.Email.Password = pw
	}
	if pw := os.Getenv("SENTRYD_PG_PASSWORD"); pw != "" {
		cfg.Storage.Postgres.Password = pw
	}
	if key := os.Getenv("SENTRYD_API_KEY"); key != "" && len(cfg.Server.APIKeys) == 0 {
		cfg.Server.APIKeys = []string{key}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks threshold and weight tables. Startup must refuse a broken
// configuration rather than discover it mid-stream.
func (c *Config) Validate() error {
	var problems []string

	for name, v := range c.Detection.Thresholds {
		if _, ok := ParseAttackLabel(name); !ok {
			problems = append(problems, fmt.Sprintf("detection.thresholds: unknown label %q", name))
		}
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("detection.thresholds[%s]: %v outside [0,1]", name, v))
		}
	}
	if c.Detection.DefaultThreshold < 0 || c.Detection.DefaultThreshold > 1 {
		problems = append(problems, fmt.Sprintf("detection.default_threshold: %v outside [0,1]", c.Detection.DefaultThreshold))
	}
	if c.Detection.Workers <= 0 {
		problems = append(problems, "detection.workers must be positive")
	}

	for name, v := range c.Scoring.SeverityWeights {
		if _, ok := ParseAttackLabel(name); !ok {
			problems = append(problems, fmt.Sprintf("scoring.severity_weights: unknown label %q", name))
		}
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("scoring.severity_weights[%s]: %v outside [0,1]", name, v))
		}
	}
	for _, w := range []struct {
		name string
		val  float64
	}{
		{"scoring.confidence_weight", c.Scoring.ConfidenceWeight},
		{"scoring.severity_weight", c.Scoring.SeverityWeight},
		{"scoring.vpn_weight", c.Scoring.VPNWeight},
		{"scoring.geo_weight", c.Scoring.GeoWeight},
	} {
		if w.val < 0 {
			problems = append(problems, w.name+" must not be negative")
		}
	}

	if c.Alerts.ScoreThreshold < 0 || c.Alerts.ScoreThreshold > 100 {
		problems = append(problems, fmt.Sprintf("alerts.score_threshold: %v outside [0,100]", c.Alerts.ScoreThreshold))
	}
	if c.Alerts.Window <= 0 {
		problems = append(problems, "alerts.window must be positive")
	}
	if c.Alerts.MaxPerSource <= 0 || c.Alerts.MaxPerType <= 0 {
		problems = append(problems, "alerts.max_per_source and alerts.max_per_type must be positive")
	}
	if c.Alerts.QueueSize <= 0 {
		problems = append(problems, "alerts.queue_size must be positive")
	}

	if c.Recorder.MaxRetries < 0 {
		problems = append(problems, "recorder.max_retries must not be negative")
	}
	if c.Recorder.QueueSize <= 0 {
		problems = append(problems, "recorder.queue_size must be positive")
	}

	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if c.Intel.Client.Timeout < 0 {
		problems = append(problems, "intel.client.timeout must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ThresholdFor returns the minimum confidence for a label.
func (c *DetectionConfig) ThresholdFor(label AttackLabel) float64 {
	if v, ok := c.Thresholds[label.String()]; ok {
		return v
	}
	return c.DefaultThreshold
}

// SeverityWeightFor returns the scoring severity weight for a label.
func (c *ScoringConfig) SeverityWeightFor(label AttackLabel) float64 {
	if v, ok := c.SeverityWeights[label.String()]; ok {
		return v
	}
	return 0.5
}

// IsAllowedSource reports whether alerts for this source are muted.
func (c *DetectionConfig) IsAllowedSource(ip string) bool {
	for _, allowed := range c.AllowSourceIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// ValidateAPIKey checks the provided key against the configured keys using
// constant-time comparison.
func (c *Config) ValidateAPIKey(key string) bool {
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
