// Package orchestration drives complete export runs: every domain export,
// table assembly and artifact writing, once or on a schedule.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bl4ck0w1/tesuite/internal/export"
	"github.com/bl4ck0w1/tesuite/internal/output"
	"github.com/bl4ck0w1/tesuite/internal/table"
	"github.com/bl4ck0w1/tesuite/internal/tenable"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/sirupsen/logrus"
)

type RunOptions struct {
	// DisableWAS skips the web-app domain even when it is enabled in the
	// configuration.
	DisableWAS bool
}

// RunSummary describes one finished run.
type RunSummary struct {
	Run       output.RunInfo
	Rows      map[string]int
	Warnings  []export.Warning
	Artifacts []output.Artifact
	Duration  time.Duration
}

type Runner struct {
	config   *models.Config
	options  RunOptions
	registry *output.Registry
	logger   *logrus.Logger
	metrics  *utils.MetricsCollector

	mu      sync.Mutex
	lastRun *RunSummary
}

func NewRunner(cfg *models.Config, options RunOptions, logger *logrus.Logger, metrics *utils.MetricsCollector) (*Runner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, register := range []func(*utils.MetricsCollector) error{
		tenable.RegisterMetrics,
		export.RegisterMetrics,
		output.RegisterMetrics,
	} {
		if err := register(metrics); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return &Runner{
		config:   cfg,
		options:  options,
		registry: output.NewRegistry(logger, metrics),
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Registry exposes the writer registry so callers can add formats.
func (r *Runner) Registry() *output.Registry { return r.registry }

// Run performs one full export. A fatal error aborts the run before any
// artifact is written.
func (r *Runner) Run(ctx context.Context, run output.RunInfo) (*RunSummary, error) {
	start := time.Now()
	log := r.logger.WithField("run_id", run.ID)
	log.WithFields(logrus.Fields{
		"output_dir": run.OutputDir,
		"formats":    r.config.Output.Formats,
		"timestamp":  run.Timestamp(),
	}).Info("Starting Tenable export")

	session, err := tenable.NewSession(tenable.SessionConfigFrom(r.config.API), r.logger, r.metrics)
	if err != nil {
		return nil, fmt.Errorf("create API session: %w", err)
	}

	suite := export.NewSuite(
		session,
		export.SpecsFromConfig(r.config, r.options.DisableWAS),
		export.Options{
			PollInterval:    r.config.Polling.Interval,
			PollMaxAttempts: r.config.Polling.MaxAttempts,
		},
		r.logger,
		r.metrics,
	)
	report, err := suite.Run(ctx)
	if err != nil {
		r.logFatal(err)
		return nil, fmt.Errorf("export failed: %w", err)
	}

	tables := Tables(report.Dataset)
	artifacts, err := r.registry.WriteAll(ctx, run, r.config.Output.Formats, tables, r.config.Output.WriterConcurrency)
	if err != nil {
		r.logFatal(err)
		return nil, fmt.Errorf("write outputs: %w", err)
	}

	summary := &RunSummary{
		Run:       run,
		Rows:      make(map[string]int, len(tables)),
		Warnings:  report.Warnings,
		Artifacts: artifacts,
		Duration:  time.Since(start),
	}
	for _, t := range tables {
		summary.Rows[t.Name] = t.Len()
	}

	r.mu.Lock()
	r.lastRun = summary
	r.mu.Unlock()

	log.WithFields(logrus.Fields{
		"warnings":  len(summary.Warnings),
		"artifacts": len(artifacts),
		"duration":  utils.HumanizeDuration(summary.Duration),
	}).Info("Export completed successfully")
	return summary, nil
}

func (r *Runner) LastRun() *RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// logFatal records the failing request in full before the error ends the run.
func (r *Runner) logFatal(err error) {
	entry := r.logger.WithError(err)

	var te *tenable.TransferError
	var pte *export.PollTimeoutError
	var mje *export.MissingJobIDError
	switch {
	case errors.As(err, &te):
		entry.WithFields(logrus.Fields{
			"method": te.Method,
			"url":    te.URL,
			"status": te.StatusCode,
			"body":   te.Body,
		}).Error("API request failed")
	case errors.As(err, &pte):
		entry.WithFields(logrus.Fields{
			"domain":   pte.Domain,
			"url":      pte.URL,
			"attempts": pte.Attempts,
		}).Error("Export did not finish in time")
	case errors.As(err, &mje):
		entry.WithFields(logrus.Fields{
			"domain": mje.Domain,
			"body":   mje.Body,
		}).Error("Export start response had no job id")
	default:
		entry.Error("Export run failed")
	}
}

// Tables converts every dataset, in dataset order, into a table.
func Tables(ds *export.Dataset) []*table.Table {
	names := ds.Names()
	tables := make([]*table.Table, len(names))
	for i, name := range names {
		tables[i] = table.FromRecords(name, ds.Records(name))
	}
	return tables
}
