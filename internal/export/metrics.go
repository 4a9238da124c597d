package export

import (
	"github.com/bl4ck0w1/tesuite/pkg/utils"
)

const (
	MetricRows         = "tes_export_rows_total"
	MetricChunks       = "tes_export_chunks_total"
	MetricPollAttempts = "tes_poll_attempts_total"
	MetricWarnings     = "tes_export_warnings_total"
	MetricDuration     = "tes_export_duration_seconds"
	MetricDatasetRows  = "tes_dataset_rows"
)

var durationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600}

func RegisterMetrics(m *utils.MetricsCollector) error {
	counters := []struct {
		name, help string
		labels     []string
	}{
		{MetricRows, "Flattened records fetched per domain", []string{"domain"}},
		{MetricChunks, "Export chunks downloaded per domain", []string{"domain"}},
		{MetricPollAttempts, "Status requests issued per domain", []string{"domain"}},
		{MetricWarnings, "Recoverable export conditions", []string{"domain", "kind"}},
	}
	for _, c := range counters {
		if err := m.RegisterCounter(c.name, c.help, c.labels...); err != nil {
			return err
		}
	}
	if err := m.RegisterGauge(MetricDatasetRows, "Rows in the most recently assembled dataset", "dataset"); err != nil {
		return err
	}
	return m.RegisterHistogram(MetricDuration, "Wall time of one domain export", durationBuckets, "domain")
}
