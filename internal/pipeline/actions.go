package pipeline

import (
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/treasury-harvester/internal/harvest"
	"github.com/dtnitsch/treasury-harvester/internal/runner"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/cleaner"
	"github.com/dtnitsch/treasury-harvester/pkg/convert"
	pl "github.com/dtnitsch/treasury-harvester/pkg/pipeline"
)

// PipelineAction runs clean, optional JSONL encode and Parquet conversion.
func PipelineAction(c *cli.Context) error {
	env, err := runner.Setup(c, "pipeline")
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := pl.Run(ctx, env.Config.Pipeline, env.Logger, env.Console)
	if err != nil {
		return env.Fail(summary, err)
	}
	return env.Finish(summary, c.Bool("allow-partial"))
}

// RunAction harvests and then runs the pipeline over what was harvested.
// A fatal harvest error stops before the pipeline.
func RunAction(c *cli.Context) error {
	env, err := runner.Setup(c, "run")
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary := models.NewSummary()
	if err := harvest.Harvest(ctx, env, summary); err != nil {
		return env.Fail(summary, err)
	}
	if err := ctx.Err(); err != nil {
		return env.Fail(summary, err)
	}

	rest, err := pl.Run(ctx, env.Config.Pipeline, env.Logger, env.Console)
	if rest != nil {
		summary.Add(rest.Results...)
	}
	if err != nil {
		return env.Fail(summary, err)
	}
	return env.Finish(summary, c.Bool("allow-partial"))
}

// CleanAction runs only the clean stage.
func CleanAction(c *cli.Context) error {
	env, err := runner.Setup(c, "clean")
	if err != nil {
		return err
	}
	cfg := env.Config.Pipeline

	cl := &cleaner.Cleaner{OutDir: cfg.CleanDir, Sentinel: cfg.Sentinel, Logger: env.Logger}
	results, err := cl.CleanDir(cfg.RawDir)
	summary := models.NewSummary()
	if err != nil {
		return env.Fail(summary, err)
	}
	for _, r := range results {
		summary.Add(r)
		pl.PrintResult(env.Console, r)
	}
	return env.Finish(summary, c.Bool("allow-partial"))
}

// ConvertAction converts every CSV or JSONL file of --in-dir to Parquet.
// Without --in-dir the variant decides between the clean and JSONL dirs.
func ConvertAction(c *cli.Context) error {
	env, err := runner.Setup(c, "convert")
	if err != nil {
		return err
	}
	cfg := env.Config.Pipeline

	inDir := c.String("in-dir")
	if inDir == "" {
		inDir = cfg.CleanDir
		if cfg.Variant == pl.VariantJSONL {
			inDir = cfg.JSONLDir
		}
	}
	headerFrom, err := pl.HeaderSources(inDir, cfg.CleanDir)
	if err != nil {
		return env.Fail(models.NewSummary(), err)
	}

	conv := &convert.Converter{
		OutDir:     cfg.ParquetDir,
		BlockSize:  cfg.BlockSize,
		Sentinel:   cfg.Sentinel,
		Logger:     env.Logger,
		HeaderFrom: headerFrom,
	}
	results, err := conv.ConvertDir(inDir)
	summary := models.NewSummary()
	if err != nil {
		return env.Fail(summary, err)
	}
	for _, r := range results {
		summary.Add(r)
		pl.PrintResult(env.Console, r)
	}
	return env.Finish(summary, c.Bool("allow-partial"))
}
