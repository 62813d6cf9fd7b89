package runner

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/treasury-harvester/internal/common"
	"github.com/dtnitsch/treasury-harvester/models"
)

// LoadConfig reads --config (if any) over the defaults, then applies every
// flag that was set on the command line or through its environment variable.
func LoadConfig(c *cli.Context) (models.Config, error) {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return cfg, err
	}

	setString(c, "results-dir", &cfg.ResultsDir)
	setString(c, "metrics", &cfg.Metrics.Backend)
	setString(c, "metrics-address", &cfg.Metrics.Address)
	setString(c, "metrics-job", &cfg.Metrics.Job)

	h := &cfg.Harvest
	setString(c, "start-url", &h.StartURL)
	setString(c, "user-agent", &h.UserAgent)
	setString(c, "period", &h.Selectors.PeriodText)
	setDuration(c, "wait-timeout", &h.WaitTimeout)
	setDuration(c, "poll-interval", &h.PollInterval)
	if c.IsSet("max-pages") {
		h.MaxPages = c.Int("max-pages")
	}

	p := &cfg.Pipeline
	if c.IsSet("raw-dir") {
		// one raw directory feeds both halves
		p.RawDir = c.String("raw-dir")
		h.RawDir = p.RawDir
	}
	setString(c, "clean-dir", &p.CleanDir)
	setString(c, "jsonl-dir", &p.JSONLDir)
	setString(c, "parquet-dir", &p.ParquetDir)
	setString(c, "variant", &p.Variant)
	setString(c, "sentinel", &p.Sentinel)
	if c.IsSet("block-size") {
		p.BlockSize = c.Int64("block-size")
	}
	if c.IsSet("preview-lines") {
		p.PreviewLines = c.Int("preview-lines")
	}

	if h.StartURL != "" {
		u, err := common.ValidateStartURL(h.StartURL)
		if err != nil {
			return cfg, err
		}
		h.StartURL = u
	}
	return cfg, cfg.Validate()
}

func setString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

func setDuration(c *cli.Context, name string, dst *time.Duration) {
	if c.IsSet(name) {
		*dst = c.Duration(name)
	}
}
