// Package output writes assembled tables to workbook, columnar and embedded
// database artifacts.
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bl4ck0w1/tesuite/internal/table"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	MetricArtifacts     = "tes_artifacts_written_total"
	MetricArtifactBytes = "tes_artifact_bytes"
)

// RunInfo identifies one export run. Every artifact of a run shares its
// timestamp.
type RunInfo struct {
	ID        string
	Time      time.Time
	OutputDir string
}

func NewRunInfo(outputDir string) RunInfo {
	return RunInfo{ID: utils.NewRunID(), Time: time.Now().UTC(), OutputDir: outputDir}
}

func (r RunInfo) Timestamp() string { return utils.RunTimestamp(r.Time) }

// Path joins name onto the output directory.
func (r RunInfo) Path(name string) string { return filepath.Join(r.OutputDir, name) }

// Writer persists a set of tables and returns the path it wrote. Writers
// sanitize their own copy of the tables.
type Writer interface {
	Name() string
	Write(ctx context.Context, run RunInfo, tables []*table.Table) (string, error)
}

type Artifact struct {
	Format string
	Path   string
	Bytes  int64
}

type Registry struct {
	writers map[string]Writer
	logger  *logrus.Logger
	metrics *utils.MetricsCollector
	mu      sync.RWMutex
}

// NewRegistry returns a registry holding the workbook, parquet, duckdb and
// sqlite writers.
func NewRegistry(logger *logrus.Logger, metrics *utils.MetricsCollector) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		writers: make(map[string]Writer),
		logger:  logger,
		metrics: metrics,
	}
	r.Register(models.FormatExcel, NewExcelWriter(logger))
	r.Register(models.FormatParquet, NewParquetWriter(logger))
	r.Register(models.FormatDuckDB, NewDatabaseWriter(DriverDuckDB, logger))
	r.Register(models.FormatSQLite, NewDatabaseWriter(DriverSQLite, logger))
	return r
}

func RegisterMetrics(m *utils.MetricsCollector) error {
	if err := m.RegisterCounter(MetricArtifacts, "Artifacts written per output format", "format"); err != nil {
		return err
	}
	return m.RegisterGauge(MetricArtifactBytes, "Size of the last artifact per output format", "format")
}

func (r *Registry) Register(format string, w Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[format] = w
}

func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.writers))
	for k := range r.writers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(formats []string) ([]string, []Writer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(formats))
	var names []string
	var writers []Writer
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		w, ok := r.writers[f]
		if !ok {
			return nil, nil, fmt.Errorf("unsupported output format: %s", f)
		}
		names = append(names, f)
		writers = append(writers, w)
	}
	return names, writers, nil
}

// WriteAll runs the writers for formats with at most limit of them in
// flight. Artifacts come back in the order formats were given. The first
// failing writer cancels the rest.
func (r *Registry) WriteAll(ctx context.Context, run RunInfo, formats []string, tables []*table.Table, limit int) ([]Artifact, error) {
	names, writers, err := r.lookup(formats)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(run.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if limit < 1 {
		limit = 1
	}

	artifacts := make([]Artifact, len(writers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, w := range writers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			path, err := w.Write(gctx, run, tables)
			if err != nil {
				return fmt.Errorf("%s output: %w", names[i], err)
			}
			a := Artifact{Format: names[i], Path: path}
			if info, err := os.Stat(path); err == nil {
				a.Bytes = info.Size()
			}
			artifacts[i] = a

			labels := prometheus.Labels{"format": names[i]}
			r.metrics.IncCounter(MetricArtifacts, 1, labels)
			r.metrics.SetGauge(MetricArtifactBytes, float64(a.Bytes), labels)
			r.logger.WithFields(logrus.Fields{
				"format":   names[i],
				"path":     path,
				"size":     utils.HumanizeBytes(a.Bytes),
				"duration": utils.HumanizeDuration(time.Since(start)),
			}).Info("Output written")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func ensureLogger(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return logrus.New()
	}
	return logger
}
