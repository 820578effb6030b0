// Package config loads and validates the pipeline's YAML run
// configuration: feed paths, static lookups, state and report
// locations, detection thresholds, and expected headcounts.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full run configuration.
type Config struct {
	Feeds      FeedsConfig      `yaml:"feeds"`
	Lookups    LookupsConfig    `yaml:"lookups"`
	State      StateConfig      `yaml:"state"`
	Reports    ReportsConfig    `yaml:"reports"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Roster     RosterConfig     `yaml:"roster"`
}

// FeedsConfig locates the three raw delimited feeds.
type FeedsConfig struct {
	Employees string `yaml:"employees"`
	Plans     string `yaml:"plans"`
	Claims    string `yaml:"claims"`
}

// LookupsConfig locates the static lookup files.
type LookupsConfig struct {
	// CompanyDomains maps email domains to employer EINs.
	CompanyDomains string `yaml:"company_domains"`
	// EnrichmentPayload is the canned upstream response.
	EnrichmentPayload string `yaml:"enrichment_payload"`
}

// StateConfig locates durable run state.
type StateConfig struct {
	Dir      string `yaml:"dir"`      // high-water marks + snapshot
	Database string `yaml:"database"` // SQLite substrate path
}

// ReportsConfig locates run outputs.
type ReportsConfig struct {
	Dir     string `yaml:"dir"`
	LogFile string `yaml:"log_file"`
}

// ThresholdsConfig carries detection and retry tuning.
type ThresholdsConfig struct {
	MinGapDays          int     `yaml:"min_gap_days"`
	SpikeWindowDays     int     `yaml:"spike_window_days"`
	SpikePctChange      float64 `yaml:"spike_pct_change"`
	EnrichmentAttempts  int     `yaml:"enrichment_attempts"`
	UpstreamFailureRate float64 `yaml:"upstream_failure_rate"`
}

// RosterConfig carries expected headcount per employer EIN.
type RosterConfig struct {
	Expected map[string]int `yaml:"expected"`
}

// Load reads and validates a config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with the standard thresholds and
// conventional paths.
func Default() *Config {
	return &Config{
		Feeds: FeedsConfig{
			Employees: "data/employees_raw.csv",
			Plans:     "data/plans_raw.csv",
			Claims:    "data/claims_raw.csv",
		},
		Lookups: LookupsConfig{
			CompanyDomains:    "data/company_lookup.json",
			EnrichmentPayload: "data/api_mock.json",
		},
		State: StateConfig{
			Dir:      "state",
			Database: "state/benefits.db",
		},
		Reports: ReportsConfig{
			Dir:     "outputs",
			LogFile: "logs/pipeline.log",
		},
		Thresholds: ThresholdsConfig{
			MinGapDays:          7,
			SpikeWindowDays:     90,
			SpikePctChange:      2.0,
			EnrichmentAttempts:  3,
			UpstreamFailureRate: 0.2,
		},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Feeds.Employees == "" || c.Feeds.Plans == "" || c.Feeds.Claims == "" {
		return fmt.Errorf("all three feed paths must be set")
	}
	if c.Thresholds.MinGapDays < 0 {
		return fmt.Errorf("min_gap_days must not be negative")
	}
	if c.Thresholds.SpikeWindowDays < 1 {
		return fmt.Errorf("spike_window_days must be at least 1")
	}
	if c.Thresholds.SpikePctChange <= 0 {
		return fmt.Errorf("spike_pct_change must be positive")
	}
	if c.Thresholds.EnrichmentAttempts < 1 {
		return fmt.Errorf("enrichment_attempts must be at least 1")
	}
	if c.Thresholds.UpstreamFailureRate < 0 || c.Thresholds.UpstreamFailureRate > 1 {
		return fmt.Errorf("upstream_failure_rate must be within [0, 1]")
	}
	for ein, n := range c.Roster.Expected {
		if n <= 0 {
			return fmt.Errorf("expected headcount for %s must be positive", ein)
		}
	}
	return nil
}

// MarksPath is the high-water-mark file location.
func (c *Config) MarksPath() string { return filepath.Join(c.State.Dir, "high_water_mark.json") }

// SnapshotPath is the Parquet snapshot location.
func (c *Config) SnapshotPath() string { return filepath.Join(c.State.Dir, "clean_data.parquet") }
