package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DiscoveryConfig holds the settings for the discovery coordinator.
type DiscoveryConfig struct {
	ServiceTypes  []string `yaml:"service_types"`
	Subnet        string   `yaml:"subnet"`
	MaxDevices    int      `yaml:"max_devices"`
	RatePerMinute int      `yaml:"rate_per_minute"`
	Cooldown      string   `yaml:"cooldown"`
	BrowseTimeout string   `yaml:"browse_timeout"`
}

// ScannerConfig holds the settings for the concurrent port scanner.
type ScannerConfig struct {
	// Preset selects a named port list (quick, standard, deep).
	// Ports, when non-empty, overrides the preset.
	Preset          string `yaml:"preset"`
	Ports           []int  `yaml:"ports"`
	HostConcurrency int    `yaml:"host_concurrency"`
	PortConcurrency int    `yaml:"port_concurrency"`
	ProbeTimeout    string `yaml:"probe_timeout"`
}

// AnomalyConfig holds the settings for baseline training and detection.
type AnomalyConfig struct {
	MinTrainingScans  int     `yaml:"min_training_scans"`
	TrainingWindow    string  `yaml:"training_window"`
	RarePortThreshold float64 `yaml:"rare_port_threshold"`
	RebuildInterval   string  `yaml:"rebuild_interval"`
}

// GobConfig holds settings for the gob file writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig holds connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines a single history writer from the config file.
type WriterDef struct {
	Enabled          bool             `yaml:"enabled"`
	Type             string           `yaml:"type"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	Gob              GobConfig        `yaml:"gob"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// HistoryConfig holds the retention settings of the state tracker and its
// writers.
type HistoryConfig struct {
	MaxSnapshotsPerDevice int         `yaml:"max_snapshots_per_device"`
	MaxChangeEvents       int         `yaml:"max_change_events"`
	GracePeriod           string      `yaml:"grace_period"`
	Writers               []WriterDef `yaml:"writers"`
}

// NATSConfig holds the connection settings for the result bus between
// ns-scanner agents and ns-monitor.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// AlerterRule defines a notification threshold for one threat category.
// An empty category matches all findings.
type AlerterRule struct {
	Category    string  `yaml:"category"`
	MinSeverity float64 `yaml:"min_severity"`
}

// AIConfig holds the settings for the optional AI findings analysis.
type AIConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AlerterConfig holds the settings for the alerter.
type AlerterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval string        `yaml:"check_interval"`
	Rules         []AlerterRule `yaml:"rules"`
	AIAnalysis    AIConfig      `yaml:"ai_analysis"`
}

// SMTPConfig holds the settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// APIConfig holds the settings for the HTTP API server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MonitorConfig holds the settings of the ns-monitor engine loop.
type MonitorConfig struct {
	// Source is "local" to run discovery and scanning in-process, or "nats"
	// to consume results published by ns-scanner agents.
	Source              string `yaml:"source"`
	ScanInterval        string `yaml:"scan_interval"`
	NumWorkers          int    `yaml:"num_workers"`
	SizeOfResultChannel int    `yaml:"size_of_result_channel"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	History   HistoryConfig   `yaml:"history"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	NATS      NATSConfig      `yaml:"nats"`
	Alerter   AlerterConfig   `yaml:"alerter"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	API       APIConfig       `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return &cfg, nil
}
