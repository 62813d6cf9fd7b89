// Package models defines data structures for configuration and harvested data.
package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultStartURL = "https://home.treasury.gov/resource-center/data-chart-center/interest-rates/TextView?type=daily_treasury_long_term_rate&field_tdr_date_value=2024"

	DefaultRawDir     = "unprocessed_data"
	DefaultCleanDir   = "processed_data"
	DefaultJSONLDir   = "jsonl_data"
	DefaultParquetDir = "parquet_data"
	DefaultResultsDir = "harvest-results"

	DefaultSentinel  = "N/A"
	DefaultBlockSize = 512 << 20
)

// Selectors locate the form controls on the source page.
type Selectors struct {
	Category   string `yaml:"category"`
	Submit     string `yaml:"submit"`
	Table      string `yaml:"table"`
	Next       string `yaml:"next"`
	Period     string `yaml:"period"`
	PeriodText string `yaml:"period_text"`
}

// HarvestConfig controls the extraction loop.
type HarvestConfig struct {
	StartURL     string        `yaml:"start_url"`
	RawDir       string        `yaml:"raw_dir"`
	Selectors    Selectors     `yaml:"selectors"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPages     int           `yaml:"max_pages"`
	UserAgent    string        `yaml:"user_agent"`
}

// PipelineConfig controls cleaning and conversion.
type PipelineConfig struct {
	RawDir       string `yaml:"raw_dir"`
	CleanDir     string `yaml:"clean_dir"`
	JSONLDir     string `yaml:"jsonl_dir"`
	ParquetDir   string `yaml:"parquet_dir"`
	Variant      string `yaml:"variant"` // "csv" or "jsonl"
	Sentinel     string `yaml:"sentinel"`
	BlockSize    int64  `yaml:"block_size"`
	PreviewLines int    `yaml:"preview_lines"`
}

// Config is the full file-backed configuration. CLI flags override it.
type Config struct {
	Harvest    HarvestConfig  `yaml:"harvest"`
	Pipeline   PipelineConfig `yaml:"pipeline"`
	ResultsDir string         `yaml:"results_dir"`
	Metrics    MetricsConfig  `yaml:"metrics"`
}

// MetricsConfig selects a metrics backend.
type MetricsConfig struct {
	Backend string `yaml:"backend"` // none, pushgateway, datadog
	Address string `yaml:"address"`
	Job     string `yaml:"job"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Harvest: HarvestConfig{
			StartURL: DefaultStartURL,
			RawDir:   DefaultRawDir,
			Selectors: Selectors{
				Category:   "select",
				Submit:     "#edit-submit-dfu-tool-page",
				Table:      "table",
				Next:       ".pager__item.pager__item--next a",
				Period:     "#edit-field-tdr-date-value",
				PeriodText: "- All -",
			},
			WaitTimeout:  10 * time.Second,
			PollInterval: 250 * time.Millisecond,
			MaxPages:     500,
			UserAgent:    "treasury-harvester/1.0",
		},
		Pipeline: PipelineConfig{
			RawDir:       DefaultRawDir,
			CleanDir:     DefaultCleanDir,
			JSONLDir:     DefaultJSONLDir,
			ParquetDir:   DefaultParquetDir,
			Variant:      "jsonl",
			Sentinel:     DefaultSentinel,
			BlockSize:    DefaultBlockSize,
			PreviewLines: 5,
		},
		ResultsDir: DefaultResultsDir,
		Metrics:    MetricsConfig{Backend: "none", Job: "treasury_harvester"},
	}
}

// LoadConfig reads a YAML file on top of the defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	switch c.Pipeline.Variant {
	case "csv", "jsonl":
	default:
		return fmt.Errorf("invalid pipeline variant %q (want csv or jsonl)", c.Pipeline.Variant)
	}
	if c.Pipeline.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.Pipeline.BlockSize)
	}
	if c.Harvest.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive, got %d", c.Harvest.MaxPages)
	}
	if c.Harvest.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	return nil
}
