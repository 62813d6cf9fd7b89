package db

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/treasury-harvester/internal/runner"
	dbpkg "github.com/dtnitsch/treasury-harvester/pkg/db"
)

func openLedger(c *cli.Context) (*dbpkg.DB, error) {
	cfg, err := runner.LoadConfig(c)
	if err != nil {
		return nil, err
	}
	database, err := dbpkg.Open(runner.LedgerPath(c, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// RunsAction lists recorded runs, newest first.
func RunsAction(c *cli.Context) error {
	database, err := openLedger(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListRuns(c.Int("limit"), c.Bool("failed-only"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := c.App.Writer
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Created", "Command", "Units", "Success", "Partial", "Failed", "Skipped", "Exit", "Run Key"})
	for _, r := range runs {
		exit := "-"
		if r.ExitCode.Valid {
			exit = fmt.Sprint(r.ExitCode.Int64)
		}
		t.AppendRow(table.Row{
			r.RunID,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Command,
			r.UnitCount,
			r.SuccessCount,
			r.PartialCount,
			r.FailedCount,
			r.SkippedCount,
			exit,
			r.RunKey,
		})
	}
	t.Render()

	fmt.Fprintf(out, "\nTotal: %d runs\n", len(runs))
	fmt.Fprintf(out, "\nTip: Use 'treasury-harvester show <id>' to see details\n")
	return nil
}

// ShowAction prints the unit results and artifacts of one run.
func ShowAction(c *cli.Context) error {
	database, err := openLedger(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runID, err := GetRunIDOrLatest(c, database)
	if err != nil {
		return err
	}
	run, err := database.GetRunByID(runID)
	if err != nil {
		return err
	}
	results, err := database.GetRunResults(runID)
	if err != nil {
		return err
	}
	artifacts, err := database.ListArtifacts(runID)
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Run %d (%s)\n", run.RunID, run.RunKey)
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "Command:     %s\n", run.Command)
	fmt.Fprintf(out, "Created:     %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	if run.StartURL != "" {
		fmt.Fprintf(out, "Start URL:   %s\n", run.StartURL)
	}
	fmt.Fprintf(out, "Directory:   %s\n", run.RunDir)
	fmt.Fprintf(out, "Units:       %d total (%d success, %d partial, %d failed, %d skipped)\n",
		run.UnitCount, run.SuccessCount, run.PartialCount, run.FailedCount, run.SkippedCount)

	if len(results) > 0 {
		fmt.Fprintf(out, "\nResults (%d):\n", len(results))
		fmt.Fprintln(out, strings.Repeat("-", 60))
		for i, r := range results {
			fmt.Fprintf(out, "%2d. [%s] %s %s\n", i+1, r.Status, r.Stage, r.Name)
			if r.ErrorType != "" {
				fmt.Fprintf(out, "    Error: [%s] %s\n", r.ErrorType, r.ErrorMessage)
			} else {
				fmt.Fprintf(out, "    Rows: %d | Pages: %d | %dms\n", r.Rows, r.Pages, r.DurationMS)
			}
		}
	}

	if len(artifacts) > 0 {
		fmt.Fprintf(out, "\nArtifacts (%d):\n", len(artifacts))
		fmt.Fprintln(out, strings.Repeat("-", 60))
		for _, a := range artifacts {
			fmt.Fprintf(out, "  %-12s %s (%d bytes, %s)\n", a.TypeName, a.FilePath, a.SizeBytes, a.ContentHash)
		}
	}
	return nil
}
