package export

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/internal/tenable"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Client is the subset of tenable.Session the export protocol needs.
type Client interface {
	PostJSON(ctx context.Context, path string, body any) (flatten.Value, error)
	StatusClient
	Streamer
}

var _ Client = (*tenable.Session)(nil)

type Options struct {
	PollInterval    time.Duration
	PollMaxAttempts int
}

func DefaultOptions() Options {
	return Options{PollInterval: DefaultPollInterval, PollMaxAttempts: DefaultPollMaxAttempts}
}

// Result is what one domain export produced.
type Result struct {
	Spec     DomainSpec
	Job      *models.ExportJob
	Records  []flatten.Record
	Warnings []Warning
	// Skipped is set when the domain was not licensed for these credentials.
	Skipped bool
}

// Orchestrator runs the start, poll and download steps for one domain.
type Orchestrator struct {
	spec    DomainSpec
	client  Client
	poller  *Poller
	reader  *ChunkReader
	opts    Options
	logger  *logrus.Logger
	metrics *utils.MetricsCollector
}

func NewOrchestrator(spec DomainSpec, client Client, opts Options, logger *logrus.Logger, metrics *utils.MetricsCollector) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = DefaultPollMaxAttempts
	}
	return &Orchestrator{
		spec:    spec,
		client:  client,
		poller:  NewPoller(client, opts.PollInterval, logger, metrics),
		reader:  NewChunkReader(client, logger),
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *Orchestrator) Spec() DomainSpec { return o.spec }

// Run exports the domain. Transfer failures, poll timeouts and a missing job
// id are returned as errors; everything else degrades to warnings.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	domain := o.spec.Domain
	log := o.logger.WithField("domain", domain)
	res := &Result{Spec: o.spec}
	defer func() {
		o.metrics.ObserveHistogram(MetricDuration, time.Since(start).Seconds(), prometheus.Labels{"domain": domain.String()})
		for _, w := range res.Warnings {
			o.metrics.IncCounter(MetricWarnings, 1, prometheus.Labels{"domain": domain.String(), "kind": string(w.Kind)})
		}
	}()

	log.WithField("path", o.spec.StartPath).Infof("Starting %s export", o.spec.Label)
	doc, err := o.client.PostJSON(ctx, o.spec.StartPath, o.spec.Body)
	if err != nil {
		if o.spec.LicenseOptional && tenable.IsStatus(err, http.StatusForbidden) {
			w := Warning{
				Kind:    WarnLicenseDenied,
				Domain:  domain,
				Message: fmt.Sprintf("%s export forbidden (403); credentials likely lack access, skipping", o.spec.Label),
			}
			log.Warn(w.Message)
			res.Warnings = append(res.Warnings, w)
			res.Skipped = true
			return res, nil
		}
		return nil, fmt.Errorf("start %s export: %w", domain, err)
	}

	id := jobID(doc)
	if id == "" {
		return nil, &MissingJobIDError{Domain: domain, Body: utils.Truncate(doc.JSON(), 500)}
	}
	job := models.NewExportJob(domain, id)
	res.Job = job
	log = log.WithField("export_id", id)
	log.Info("Export started")

	pollWarnings, err := o.poller.Poll(ctx, job, o.spec.StatusPath(id), o.opts.PollMaxAttempts)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, pollWarnings...)

	if job.Status != models.StatusFinished {
		w := Warning{Kind: WarnStatus, Domain: domain, Message: fmt.Sprintf("%s export finished with status %s", o.spec.Label, job.Status)}
		log.Warn(w.Message)
		res.Warnings = append(res.Warnings, w)
	}
	log.WithField("chunks", job.ChunkIDs).Info("Chunks available")
	if job.ExpectedCount != nil {
		log.Infof("Expected total from export: %d", *job.ExpectedCount)
	}

	if len(job.ChunkIDs) == 0 {
		w := Warning{Kind: WarnNoChunks, Domain: domain, Message: fmt.Sprintf("%s export finished but no chunks available", o.spec.Label)}
		log.Warn(w.Message)
		res.Warnings = append(res.Warnings, w)
	}

	for _, cid := range job.ChunkIDs {
		records, warnings, err := o.reader.Read(ctx, domain, o.spec.ChunkPath(id, cid))
		if err != nil {
			return nil, fmt.Errorf("download %s chunk %d: %w", domain, cid, err)
		}
		res.Records = append(res.Records, records...)
		res.Warnings = append(res.Warnings, warnings...)
		o.metrics.IncCounter(MetricChunks, 1, prometheus.Labels{"domain": domain.String()})
		o.metrics.IncCounter(MetricRows, float64(len(records)), prometheus.Labels{"domain": domain.String()})
		log.WithFields(logrus.Fields{"chunk": cid, "rows": len(records), "total": len(res.Records)}).Info("Chunk fetched")
	}

	log.WithField("rows", len(res.Records)).Infof("%s export complete", o.spec.Label)
	if job.ExpectedCount != nil && len(res.Records) != *job.ExpectedCount {
		w := Warning{
			Kind:    WarnCountMismatch,
			Domain:  domain,
			Message: fmt.Sprintf("%s count mismatch: expected %d, got %d", o.spec.Label, *job.ExpectedCount, len(res.Records)),
		}
		log.Warn(w.Message)
		res.Warnings = append(res.Warnings, w)
	}
	return res, nil
}

func jobID(doc flatten.Value) string {
	for _, key := range []string{"export_uuid", "uuid"} {
		if v, ok := doc.Get(key); ok && !v.IsNull() {
			if s := v.Text(); s != "" {
				return s
			}
		}
	}
	return ""
}
