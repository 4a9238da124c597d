package export

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bl4ck0w1/tesuite/internal/tenable"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func warningKinds(ws []Warning) []WarningKind {
	out := make([]WarningKind, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Kind)
	}
	return out
}

func TestOrchestratorVulnerabilities(t *testing.T) {
	cfg := models.DefaultConfig()
	spec := VulnerabilityDomain(cfg.VM)
	api := newFakeAPI(t, &fakeExport{
		spec:     spec,
		id:       "vm-1",
		statuses: []string{`{"status": "QUEUED"}`, finished(`[1, 2]`, `"total": 5`)},
		chunks:   map[int]string{1: ndjson("a", 3), 2: ndjson("b", 2)},
	})
	logger, hook := quietLogger()
	metrics := utils.NewMetricsCollector(false)
	require.NoError(t, RegisterMetrics(metrics))

	res, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(10), logger, metrics).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 0, countLevel(hook, logrus.WarnLevel))
	require.Len(t, res.Records, 5)
	assert.Equal(t, []string{"id", "asset_uuid", "asset_ipv4", "plugin_cve"}, res.Records[0].Keys())
	cve, _ := res.Records[0].Get("plugin_cve")
	assert.Equal(t, `[{"id": "CVE-1"}]`, cve.Str())

	assert.Equal(t, "vm-1", res.Job.ID)
	assert.Equal(t, models.StatusFinished, res.Job.Status)
	assert.Equal(t, []int{1, 2}, res.Job.ChunkIDs)
	assert.Equal(t, 2, api.count(http.MethodGet, "/vulns/export/vm-1/status"))

	assert.JSONEq(t, `{
		"num_assets": 200,
		"include_unlicensed": true,
		"filters": {"severity": ["LOW", "MEDIUM", "HIGH", "CRITICAL"], "state": ["OPEN", "REOPENED", "FIXED"]}
	}`, api.body(models.DomainVM))

	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.Counter(MetricRows).WithLabelValues("vm")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Counter(MetricChunks).WithLabelValues("vm")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Counter(MetricPollAttempts).WithLabelValues("vm")))
}

func TestOrchestratorAssetsRequestShape(t *testing.T) {
	cfg := models.DefaultConfig()
	spec := AssetDomain(cfg.Assets)
	api := newFakeAPI(t, &fakeExport{
		spec:      spec,
		id:        "as-1",
		startBody: `{"uuid": "as-1"}`,
		statuses:  []string{finished(`["1"]`, "")},
		chunks:    map[int]string{1: `[{"id": "h1", "types": ["host"]}, {"id": "w1", "types": ["webapp"]}]` + "\n"},
	})
	logger, _ := quietLogger()

	res, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(3), logger, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 1, api.count(http.MethodGet, "/assets/export/as-1/chunks/1"))
	assert.JSONEq(t, `{"chunk_size": 4000, "filters": {"types": ["host", "webapp"]}}`, api.body(models.DomainAssets))
}

func TestOrchestratorWebAppLicenseDenied(t *testing.T) {
	spec := WebAppDomain(models.DefaultConfig().WAS)
	api := newFakeAPI(t, &fakeExport{spec: spec, id: "was-1", startStatus: http.StatusForbidden})
	logger, hook := quietLogger()
	metrics := utils.NewMetricsCollector(false)
	require.NoError(t, RegisterMetrics(metrics))

	res, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(3), logger, metrics).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Records)
	assert.Equal(t, []WarningKind{WarnLicenseDenied}, warningKinds(res.Warnings))
	assert.Equal(t, 1, countLevel(hook, logrus.WarnLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Counter(MetricWarnings).WithLabelValues("was", "license_denied")))
	assert.JSONEq(t, `{
		"num_assets": 50,
		"include_unlicensed": true,
		"filters": {"severity": ["LOW", "MEDIUM", "HIGH", "CRITICAL"], "state": ["OPEN", "REOPENED"]}
	}`, api.body(models.DomainWAS))
}

func TestOrchestratorForbiddenIsFatalForOtherDomains(t *testing.T) {
	spec := VulnerabilityDomain(models.DefaultConfig().VM)
	api := newFakeAPI(t, &fakeExport{spec: spec, id: "vm-1", startStatus: http.StatusForbidden})
	logger, _ := quietLogger()

	_, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(3), logger, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, tenable.IsStatus(err, http.StatusForbidden))
}

func TestOrchestratorMissingJobID(t *testing.T) {
	spec := VulnerabilityDomain(models.DefaultConfig().VM)
	api := newFakeAPI(t, &fakeExport{spec: spec, id: "vm-1", startBody: `{"export_uuid": "", "other": 1}`})
	logger, _ := quietLogger()

	_, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(3), logger, nil).Run(context.Background())
	var mje *MissingJobIDError
	require.True(t, errors.As(err, &mje))
	assert.Equal(t, models.DomainVM, mje.Domain)
	assert.Contains(t, mje.Body, `"other": 1`)
}

func TestOrchestratorErrorStatusIsBestEffort(t *testing.T) {
	spec := VulnerabilityDomain(models.DefaultConfig().VM)
	api := newFakeAPI(t, &fakeExport{
		spec:     spec,
		id:       "vm-1",
		statuses: []string{`{"status": "ERROR", "chunks_available": []}`},
	})
	logger, hook := quietLogger()

	res, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(3), logger, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, []WarningKind{WarnStatus, WarnNoChunks}, warningKinds(res.Warnings))
	assert.Equal(t, 2, countLevel(hook, logrus.WarnLevel))
}

func TestOrchestratorCancelledStatusKeepsAvailableChunks(t *testing.T) {
	spec := VulnerabilityDomain(models.DefaultConfig().VM)
	api := newFakeAPI(t, &fakeExport{
		spec:     spec,
		id:       "vm-1",
		statuses: []string{`{"status": "CANCELLED", "chunks_available": [1]}`},
		chunks:   map[int]string{1: ndjson("a", 2)},
	})
	logger, _ := quietLogger()

	res, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(3), logger, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, []WarningKind{WarnStatus}, warningKinds(res.Warnings))
}

func TestOrchestratorCountMismatch(t *testing.T) {
	spec := VulnerabilityDomain(models.DefaultConfig().VM)
	api := newFakeAPI(t, &fakeExport{
		spec:     spec,
		id:       "vm-1",
		statuses: []string{finished(`[1]`, `"total_count": 4`)},
		chunks:   map[int]string{1: ndjson("a", 2) + "{oops\n"},
	})
	logger, hook := quietLogger()

	res, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(3), logger, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, []WarningKind{WarnDecode, WarnCountMismatch}, warningKinds(res.Warnings))
	assert.Contains(t, res.Warnings[1].Message, "expected 4, got 2")
	assert.Equal(t, 2, countLevel(hook, logrus.WarnLevel))
}

func TestOrchestratorChunkFailureIsFatal(t *testing.T) {
	spec := VulnerabilityDomain(models.DefaultConfig().VM)
	api := newFakeAPI(t, &fakeExport{
		spec:     spec,
		id:       "vm-1",
		statuses: []string{finished(`[1, 2]`, "")},
		chunks:   map[int]string{1: ndjson("a", 1)},
	})
	logger, _ := quietLogger()

	_, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(3), logger, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, tenable.IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "chunk 2")
}

func TestOrchestratorPollTimeout(t *testing.T) {
	spec := AssetDomain(models.DefaultConfig().Assets)
	api := newFakeAPI(t, &fakeExport{spec: spec, id: "as-1", statuses: []string{`{"status": "PROCESSING"}`}})
	logger, _ := quietLogger()

	_, err := NewOrchestrator(spec, api.session(t, logger), fastOptions(4), logger, nil).Run(context.Background())
	var pte *PollTimeoutError
	require.True(t, errors.As(err, &pte))
	assert.Equal(t, 4, api.count(http.MethodGet, "/assets/export/as-1/status"))
}

func TestDomainSpecPaths(t *testing.T) {
	cfg := models.DefaultConfig()
	vm := VulnerabilityDomain(cfg.VM)
	assert.Equal(t, "/vulns/export/abc/status", vm.StatusPath("abc"))
	assert.Equal(t, "/vulns/export/abc/chunks/3", vm.ChunkPath("abc", 3))

	was := WebAppDomain(cfg.WAS)
	assert.Equal(t, "/was/v1/export/vulns/abc/chunks/1", was.ChunkPath("abc", 1))
	assert.True(t, was.LicenseOptional)

	assets := AssetDomain(cfg.Assets)
	assert.Equal(t, "/assets/v2/export", assets.StartPath)
	assert.Equal(t, "/assets/export/abc/status", assets.StatusPath("abc"))
}
