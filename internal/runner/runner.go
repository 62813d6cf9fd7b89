// Package runner holds what every CLI action shares: logger, merged
// configuration, metrics backend, run ledger and the YAML run summary.
package runner

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/db"
	"github.com/dtnitsch/treasury-harvester/pkg/metrics"
	"github.com/dtnitsch/treasury-harvester/pkg/metrics/datadog"
	"github.com/dtnitsch/treasury-harvester/pkg/metrics/prompush"
	"github.com/dtnitsch/treasury-harvester/pkg/pipeline"
	"github.com/dtnitsch/treasury-harvester/pkg/session"
)

// Env is the per-invocation state of a command.
type Env struct {
	Command string
	Config  models.Config
	Logger  *slog.Logger
	Console io.Writer
	RunKey  string

	ledger  *db.DB
	runID   int64
	started time.Time
}

// NewLogger builds the JSON stderr logger. --quiet wins over --verbose.
func NewLogger(c *cli.Context) *slog.Logger {
	logLevel := slog.LevelInfo
	if c.Bool("verbose") {
		logLevel = slog.LevelDebug
	}
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: logLevel}))
}

// Setup prepares an Env. Usage problems return exit code 1, environment
// problems exit code 2.
func Setup(c *cli.Context, command string) (*Env, error) {
	logger := NewLogger(c)

	cfg, err := LoadConfig(c)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return nil, cli.Exit(err.Error(), pipeline.ExitUsage)
	}

	backend, err := NewMetricsBackend(cfg.Metrics)
	if err != nil {
		logger.Error("failed to initialize metrics backend", "backend", cfg.Metrics.Backend, "error", err)
		return nil, cli.Exit(err.Error(), pipeline.ExitFatal)
	}
	metrics.SetBackend(backend)

	env := &Env{
		Command: command,
		Config:  cfg,
		Logger:  logger,
		Console: c.App.ErrWriter,
		started: time.Now(),
	}
	inputs := []string{cfg.Pipeline.RawDir}
	if command == "harvest" || command == "run" {
		inputs = append(inputs, cfg.Harvest.StartURL)
	}
	env.RunKey = session.GenerateRunID(env.started, command, inputs...)
	env.Logger = logger.With("run", env.RunKey)

	if !c.Bool("no-ledger") {
		database, err := db.Open(LedgerPath(c, cfg))
		if err != nil {
			logger.Error("failed to open database", "error", err)
			return nil, cli.Exit(err.Error(), pipeline.ExitFatal)
		}
		runDir, _ := filepath.Rel(cfg.ResultsDir, session.GetRunDir(cfg.ResultsDir, env.RunKey))
		env.runID, err = database.CreateRun(env.RunKey, command, cfg.Harvest.StartURL, cfg.Pipeline.Variant, runDir)
		if err != nil {
			database.Close()
			logger.Error("failed to record run", "error", err)
			return nil, cli.Exit(err.Error(), pipeline.ExitFatal)
		}
		env.ledger = database
		env.Logger.Debug("Ledger opened", "db", database.Path(), "run_id", env.runID)
	}

	env.Logger.Info("Run started", "command", command)
	return env, nil
}

// LedgerPath is --db, or <results-dir>/treasury-harvester.db.
func LedgerPath(c *cli.Context, cfg models.Config) string {
	if p := c.String("db"); p != "" {
		return p
	}
	return filepath.Join(cfg.ResultsDir, db.DefaultDBName)
}

// NewMetricsBackend returns the backend named by cfg, or nil for "none".
func NewMetricsBackend(cfg models.MetricsConfig) (metrics.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "pushgateway":
		return prompush.NewBackend(cfg.Job, cfg.Address)
	case "datadog":
		return datadog.NewBackend(datadog.Config{
			Addr:       cfg.Address,
			Namespace:  "treasury.",
			GlobalTags: []string{"job:" + cfg.Job},
		})
	default:
		return nil, fmt.Errorf("unknown metrics backend %q (want none, pushgateway or datadog)", cfg.Backend)
	}
}

// Finish persists the run and maps the summary to the process exit status.
func (e *Env) Finish(s *models.Summary, allowPartial bool) error {
	code := pipeline.ExitCode(s, allowPartial)
	e.persist(s, code)
	pipeline.PrintSummary(e.Console, s)

	if code != pipeline.ExitOK {
		return cli.Exit(fmt.Sprintf("%d unit(s) failed or were partial", len(s.Failures())), code)
	}
	return nil
}

// Fail records a fatal error and returns it with exit code 2.
func (e *Env) Fail(s *models.Summary, err error) error {
	e.Logger.Error("Run aborted", "error", err)
	if s == nil {
		s = models.NewSummary()
	}
	e.persist(s, pipeline.ExitFatal)
	return cli.Exit(err.Error(), pipeline.ExitFatal)
}

func (e *Env) persist(s *models.Summary, code int) {
	rs := session.NewRunSummary(e.RunKey, e.Command, e.started, s, code)
	if path, err := session.WriteSummary(e.Config.ResultsDir, rs); err != nil {
		e.Logger.Warn("Failed to write run summary", "error", err)
	} else {
		e.Logger.Info("Run summary written", "file", path)
	}

	if e.ledger != nil {
		if err := e.ledger.RecordSummary(e.runID, s); err != nil {
			e.Logger.Warn("Failed to record results", "error", err)
		}
		if err := e.ledger.FinishRun(e.runID, s, code); err != nil {
			e.Logger.Warn("Failed to finish run record", "error", err)
		}
		_ = e.ledger.Close()
		e.ledger = nil
	}

	if err := metrics.Flush(); err != nil {
		e.Logger.Warn("Failed to flush metrics", "error", err)
	}
	metrics.SetBackend(nil)

	e.Logger.Info("Run finished", "exit_code", code, "duration", time.Since(e.started).String())
}
