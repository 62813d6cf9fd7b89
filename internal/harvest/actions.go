package harvest

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/treasury-harvester/internal/runner"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/fetcher"
	"github.com/dtnitsch/treasury-harvester/pkg/harvester"
	"github.com/dtnitsch/treasury-harvester/pkg/pipeline"
)

// HarvestAction walks every category of the rates form and writes one raw
// CSV per category into the raw directory.
func HarvestAction(c *cli.Context) error {
	env, err := runner.Setup(c, "harvest")
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary := models.NewSummary()
	if err := Harvest(ctx, env, summary); err != nil {
		return env.Fail(summary, err)
	}
	return env.Finish(summary, c.Bool("allow-partial"))
}

// Harvest runs the category driver, adding each category result to summary
// as it completes. The error is the fatal case only.
func Harvest(ctx context.Context, env *runner.Env, summary *models.Summary) error {
	cfg := env.Config.Harvest
	d := &harvester.Driver{
		Session: fetcher.NewFetcher(fetcher.Options{
			Timeout:    cfg.WaitTimeout,
			UserAgent:  cfg.UserAgent,
			RetryCount: 2,
		}),
		Config: cfg,
		Logger: env.Logger,
		OnResult: func(r models.UnitResult) {
			summary.Add(r)
			pipeline.PrintResult(env.Console, r)
		},
	}
	report, err := d.Run(ctx)
	if err != nil {
		return err
	}
	env.Logger.Info("Harvest finished", "categories", len(report.Categories), "failed", len(summary.Failures()))
	return nil
}
