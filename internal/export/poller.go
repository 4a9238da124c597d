package export

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 360
)

// countKeys are checked in order for the expected-row-count hint.
var countKeys = []string{"total", "total_count", "count"}

type StatusClient interface {
	GetJSON(ctx context.Context, path string) (flatten.Value, error)
}

// Poller drives an export job to a terminal state.
type Poller struct {
	client   StatusClient
	interval time.Duration
	logger   *logrus.Logger
	metrics  *utils.MetricsCollector
}

// NewPoller returns a poller that waits interval between non-terminal
// responses. A zero interval polls back to back.
func NewPoller(client StatusClient, interval time.Duration, logger *logrus.Logger, metrics *utils.MetricsCollector) *Poller {
	if logger == nil {
		logger = logrus.New()
	}
	if interval < 0 {
		interval = 0
	}
	return &Poller{client: client, interval: interval, logger: logger, metrics: metrics}
}

// Poll requests statusPath until the job reaches a terminal status, then fills
// job.Status, job.ChunkIDs and job.ExpectedCount from that response. It issues
// at most maxAttempts requests and does not wait after the last one.
func (p *Poller) Poll(ctx context.Context, job *models.ExportJob, statusPath string, maxAttempts int) ([]Warning, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	log := p.logger.WithFields(logrus.Fields{"domain": job.Domain, "export_id": job.ID})

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := p.client.GetJSON(ctx, statusPath)
		if err != nil {
			return nil, fmt.Errorf("poll %s export status: %w", job.Domain, err)
		}
		p.metrics.IncCounter(MetricPollAttempts, 1, prometheus.Labels{"domain": job.Domain.String()})

		raw := ""
		if s, ok := doc.Get("status"); ok {
			raw = s.Text()
		}
		job.Status = models.ParseExportStatus(raw)
		expected := countHint(doc)

		entry := log.WithFields(logrus.Fields{"status": strings.ToUpper(raw), "attempt": attempt, "max_attempts": maxAttempts})
		if expected != nil {
			entry = entry.WithField("total", *expected)
		}
		entry.Info("Export status")

		if job.Status.IsTerminal() {
			job.ExpectedCount = expected
			var warnings []Warning
			job.ChunkIDs, warnings = chunkIDs(doc, job.Domain)
			for _, w := range warnings {
				log.Warn(w.Message)
			}
			return warnings, nil
		}

		if attempt < maxAttempts {
			if err := sleepContext(ctx, p.interval); err != nil {
				return nil, err
			}
		}
	}

	return nil, &PollTimeoutError{
		Domain:     job.Domain,
		URL:        statusPath,
		Attempts:   maxAttempts,
		Interval:   p.interval,
		LastStatus: job.Status,
	}
}

func countHint(doc flatten.Value) *int {
	for _, key := range countKeys {
		v, ok := doc.Get(key)
		if !ok || v.Kind() != flatten.Number {
			continue
		}
		if n, ok := v.Int64(); ok {
			c := int(n)
			return &c
		}
		if f, ok := v.Float64(); ok {
			c := int(f)
			return &c
		}
	}
	return nil
}

// chunkIDs coerces chunks_available to integers. Numbers are truncated and
// numeric strings parsed; anything else is dropped with a warning.
func chunkIDs(doc flatten.Value, domain models.Domain) ([]int, []Warning) {
	list, ok := doc.Get("chunks_available")
	if !ok || list.Kind() != flatten.Array {
		return nil, nil
	}
	var (
		ids      []int
		warnings []Warning
	)
	for _, item := range list.Items() {
		if id, ok := coerceChunkID(item); ok {
			ids = append(ids, id)
			continue
		}
		warnings = append(warnings, Warning{
			Kind:    WarnChunkID,
			Domain:  domain,
			Message: fmt.Sprintf("invalid chunk ID %s (type %s), skipping", item.JSON(), item.Kind()),
		})
	}
	return ids, warnings
}

func coerceChunkID(v flatten.Value) (int, bool) {
	switch v.Kind() {
	case flatten.Number:
		if n, ok := v.Int64(); ok {
			return int(n), true
		}
		if f, ok := v.Float64(); ok && !math.IsNaN(f) && math.Abs(f) < math.MaxInt32 {
			return int(f), true
		}
	case flatten.String:
		if n, err := strconv.Atoi(strings.TrimSpace(v.Str())); err == nil {
			return n, true
		}
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
