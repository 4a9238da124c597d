package export

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Dataset holds the flattened records of every domain under its dataset
// name. It is filled once by Suite.Run and only read afterwards.
type Dataset struct {
	names   []string
	records map[string][]flatten.Record
}

func NewDataset() *Dataset {
	return &Dataset{records: make(map[string][]flatten.Record)}
}

func (d *Dataset) set(name string, records []flatten.Record) {
	if _, ok := d.records[name]; !ok {
		d.names = append(d.names, name)
	}
	if records == nil {
		records = []flatten.Record{}
	}
	d.records[name] = records
}

// Names returns dataset names in run order.
func (d *Dataset) Names() []string {
	return append([]string(nil), d.names...)
}

func (d *Dataset) Records(name string) []flatten.Record {
	return d.records[name]
}

func (d *Dataset) Len() int { return len(d.names) }

// Report is the outcome of one full suite run.
type Report struct {
	Dataset  *Dataset
	Results  []*Result
	Warnings []Warning
	Duration time.Duration
}

// Suite runs the configured domains one after another.
type Suite struct {
	client  Client
	specs   []DomainSpec
	opts    Options
	logger  *logrus.Logger
	metrics *utils.MetricsCollector
}

func NewSuite(client Client, specs []DomainSpec, opts Options, logger *logrus.Logger, metrics *utils.MetricsCollector) *Suite {
	if logger == nil {
		logger = logrus.New()
	}
	return &Suite{client: client, specs: specs, opts: opts, logger: logger, metrics: metrics}
}

// SpecsFromConfig returns the enabled domains in run order. disableWAS drops
// the web-app domain regardless of configuration.
func SpecsFromConfig(cfg *models.Config, disableWAS bool) []DomainSpec {
	var specs []DomainSpec
	if cfg.VM.Enabled {
		specs = append(specs, VulnerabilityDomain(cfg.VM))
	}
	if cfg.WAS.Enabled && !disableWAS {
		specs = append(specs, WebAppDomain(cfg.WAS))
	}
	if cfg.Assets.Enabled {
		specs = append(specs, AssetDomain(cfg.Assets))
	}
	return specs
}

// Run exports every domain sequentially and assembles the dataset. Every
// dataset name appears in the result, empty when its domain was disabled,
// skipped or returned nothing. The first fatal error aborts the run.
func (s *Suite) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}
	byDataset := make(map[string][]flatten.Record)

	for _, spec := range s.specs {
		s.logger.WithField("domain", spec.Domain).Infof("=== Exporting %s ===", spec.Label)
		res, err := NewOrchestrator(spec, s.client, s.opts, s.logger, s.metrics).Run(ctx)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, res)
		report.Warnings = append(report.Warnings, res.Warnings...)
		byDataset[spec.Dataset] = res.Records
	}

	enabled := make(map[string]bool, len(s.specs))
	for _, spec := range s.specs {
		enabled[spec.Dataset] = true
	}
	ds := NewDataset()
	for _, name := range DatasetOrder {
		if !enabled[name] {
			s.logger.WithField("dataset", name).Info("Domain disabled, dataset will be empty")
		}
		ds.set(name, byDataset[name])
	}
	report.Dataset = ds
	report.Duration = time.Since(start)

	s.logDiagnostics(ds)
	return report, nil
}

func (s *Suite) logDiagnostics(ds *Dataset) {
	for _, name := range ds.Names() {
		records := ds.Records(name)
		s.metrics.SetGauge(MetricDatasetRows, float64(len(records)), prometheus.Labels{"dataset": name})
		if len(records) == 0 {
			s.logger.WithField("dataset", name).Info("Dataset is empty")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"dataset": name,
			"rows":    len(records),
			"columns": len(columnNames(records)),
		}).Info("Dataset assembled")

		if name == DatasetAssets {
			if dist := valueDistribution(records, "types"); len(dist) > 0 {
				s.logger.WithField("dataset", name).Infof("Asset type distribution: %s", formatDistribution(dist))
			}
		}
	}
}

func columnNames(records []flatten.Record) map[string]struct{} {
	cols := make(map[string]struct{})
	for _, r := range records {
		for _, f := range r {
			cols[f.Key] = struct{}{}
		}
	}
	return cols
}

func valueDistribution(records []flatten.Record, key string) map[string]int {
	dist := make(map[string]int)
	for _, r := range records {
		if v, ok := r.Get(key); ok && !v.IsNull() {
			dist[v.Text()]++
		}
	}
	return dist
}

func formatDistribution(dist map[string]int) string {
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if dist[keys[i]] != dist[keys[j]] {
			return dist[keys[i]] > dist[keys[j]]
		}
		return keys[i] < keys[j]
	})
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%d", k, dist[k])
	}
	return b.String()
}
