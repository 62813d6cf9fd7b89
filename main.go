package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	dbcmd "github.com/dtnitsch/treasury-harvester/internal/db"
	"github.com/dtnitsch/treasury-harvester/internal/harvest"
	pipelinecmd "github.com/dtnitsch/treasury-harvester/internal/pipeline"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/pipeline"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(pipeline.ExitUsage)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "treasury-harvester",
		Usage: "harvest Treasury interest-rate tables and convert them to Parquet",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			{
				Name:   "harvest",
				Usage:  "scrape every rate category into raw CSV files",
				Flags:  harvestFlags(),
				Action: harvest.HarvestAction,
			},
			{
				Name:   "clean",
				Usage:  "drop empty columns and fill missing cells",
				Flags:  []cli.Flag{rawDirFlag(), cleanDirFlag(), sentinelFlag()},
				Action: pipelinecmd.CleanAction,
			},
			{
				Name:  "convert",
				Usage: "convert cleaned CSV or JSONL files to Parquet partitions",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "in-dir",
						Usage: "directory of *.csv / *.jsonl sources (default: clean or jsonl dir per --variant)",
					},
				}, pipelineFlags()...),
				Action: pipelinecmd.ConvertAction,
			},
			{
				Name:   "pipeline",
				Usage:  "clean, optionally encode to JSONL, then convert to Parquet",
				Flags:  pipelineFlags(),
				Action: pipelinecmd.PipelineAction,
			},
			{
				Name:   "run",
				Usage:  "harvest, then run the pipeline",
				Flags:  append(harvestFlags(), pipelineFlags()[1:]...),
				Action: pipelinecmd.RunAction,
			},
			{
				Name:  "runs",
				Usage: "list recorded runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum runs to list (0 = all)"},
					&cli.BoolFlag{Name: "failed-only", Usage: "only runs with failed or partial units"},
				},
				Action: dbcmd.RunsAction,
			},
			{
				Name:      "show",
				Usage:     "show unit results and artifacts of a run (default: latest)",
				ArgsUsage: "[run-id]",
				Action:    dbcmd.ShowAction,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file; flags override it", EnvVars: []string{"TREASURY_CONFIG"}},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors"},
		&cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
		&cli.StringFlag{Name: "results-dir", Value: models.DefaultResultsDir, Usage: "where run summaries and the ledger live", EnvVars: []string{"TREASURY_RESULTS_DIR"}},
		&cli.StringFlag{Name: "db", Usage: "ledger database path (default: <results-dir>/treasury-harvester.db)", EnvVars: []string{"TREASURY_DB"}},
		&cli.BoolFlag{Name: "no-ledger", Usage: "do not record the run in the ledger database"},
		&cli.BoolFlag{Name: "allow-partial", Usage: "exit 0 even when some units failed", EnvVars: []string{"TREASURY_ALLOW_PARTIAL"}},
		&cli.StringFlag{Name: "metrics", Value: "none", Usage: "metrics backend: none, pushgateway or datadog", EnvVars: []string{"TREASURY_METRICS"}},
		&cli.StringFlag{Name: "metrics-address", Usage: "Pushgateway URL or DogStatsD address", EnvVars: []string{"TREASURY_METRICS_ADDRESS"}},
		&cli.StringFlag{Name: "metrics-job", Value: "treasury_harvester", Usage: "job name for pushed metrics", EnvVars: []string{"TREASURY_METRICS_JOB"}},
	}
}

func rawDirFlag() cli.Flag {
	return &cli.StringFlag{Name: "raw-dir", Value: models.DefaultRawDir, Usage: "raw harvested CSV directory", EnvVars: []string{"TREASURY_RAW_DIR"}}
}

func cleanDirFlag() cli.Flag {
	return &cli.StringFlag{Name: "clean-dir", Value: models.DefaultCleanDir, Usage: "cleaned CSV directory", EnvVars: []string{"TREASURY_CLEAN_DIR"}}
}

func sentinelFlag() cli.Flag {
	return &cli.StringFlag{Name: "sentinel", Value: models.DefaultSentinel, Usage: "token written into missing cells", EnvVars: []string{"TREASURY_SENTINEL"}}
}

func harvestFlags() []cli.Flag {
	d := models.DefaultConfig().Harvest
	return []cli.Flag{
		rawDirFlag(),
		&cli.StringFlag{Name: "start-url", Value: d.StartURL, Usage: "page holding the category form", EnvVars: []string{"TREASURY_START_URL"}},
		&cli.StringFlag{Name: "period", Value: d.Selectors.PeriodText, Usage: "period option to select before harvesting (empty keeps the page default)", EnvVars: []string{"TREASURY_PERIOD"}},
		&cli.IntFlag{Name: "max-pages", Value: d.MaxPages, Usage: "page limit per category", EnvVars: []string{"TREASURY_MAX_PAGES"}},
		&cli.DurationFlag{Name: "wait-timeout", Value: d.WaitTimeout, Usage: "how long to wait for a control or table", EnvVars: []string{"TREASURY_WAIT_TIMEOUT"}},
		&cli.DurationFlag{Name: "poll-interval", Value: d.PollInterval, Usage: "polling interval while waiting", EnvVars: []string{"TREASURY_POLL_INTERVAL"}},
		&cli.StringFlag{Name: "user-agent", Value: d.UserAgent, Usage: "HTTP User-Agent", EnvVars: []string{"TREASURY_USER_AGENT"}},
	}
}

// pipelineFlags starts with --raw-dir so run can drop the duplicate.
func pipelineFlags() []cli.Flag {
	d := models.DefaultConfig().Pipeline
	return []cli.Flag{
		rawDirFlag(),
		cleanDirFlag(),
		&cli.StringFlag{Name: "jsonl-dir", Value: d.JSONLDir, Usage: "JSONL directory", EnvVars: []string{"TREASURY_JSONL_DIR"}},
		&cli.StringFlag{Name: "parquet-dir", Value: d.ParquetDir, Usage: "Parquet partition directory", EnvVars: []string{"TREASURY_PARQUET_DIR"}},
		&cli.StringFlag{Name: "variant", Value: d.Variant, Usage: "csv converts cleaned CSV directly; jsonl encodes to JSONL first", EnvVars: []string{"TREASURY_VARIANT"}},
		sentinelFlag(),
		&cli.Int64Flag{Name: "block-size", Value: d.BlockSize, Usage: "source bytes per Parquet partition", EnvVars: []string{"TREASURY_BLOCK_SIZE"}},
		&cli.IntFlag{Name: "preview-lines", Value: d.PreviewLines, Usage: "JSONL records shown per file", EnvVars: []string{"TREASURY_PREVIEW_LINES"}},
	}
}
