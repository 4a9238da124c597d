package export

import (
	"context"
	"net/http"
	"testing"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func suiteAPI(t *testing.T, cfg *models.Config) *fakeAPI {
	return newFakeAPI(t,
		&fakeExport{
			spec:     VulnerabilityDomain(cfg.VM),
			id:       "vm-1",
			statuses: []string{finished(`[1]`, `"total": 0`)},
			chunks:   map[int]string{1: ""},
		},
		&fakeExport{
			spec:     WebAppDomain(cfg.WAS),
			id:       "was-1",
			statuses: []string{`{"status": "PROCESSING"}`, finished(`[1, 2]`, "")},
			chunks:   map[int]string{1: ndjson("w", 4), 2: ndjson("x", 1)},
		},
		&fakeExport{
			spec:     AssetDomain(cfg.Assets),
			id:       "as-1",
			statuses: []string{finished(`[1]`, `"total": 3`)},
			chunks: map[int]string{1: `{"id": "a", "types": ["host"]}` + "\n" +
				`{"id": "b", "types": ["host"]}` + "\n" +
				`{"id": "c", "types": ["webapp"]}` + "\n"},
		},
	)
}

func TestSuiteEndToEnd(t *testing.T) {
	cfg := models.DefaultConfig()
	api := suiteAPI(t, cfg)
	logger, hook := quietLogger()
	metrics := utils.NewMetricsCollector(false)
	require.NoError(t, RegisterMetrics(metrics))

	suite := NewSuite(api.session(t, logger), SpecsFromConfig(cfg, false), fastOptions(5), logger, metrics)
	report, err := suite.Run(context.Background())
	require.NoError(t, err)

	ds := report.Dataset
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, DatasetOrder, ds.Names())
	assert.Len(t, ds.Records(DatasetVM), 0)
	assert.NotNil(t, ds.Records(DatasetVM))
	assert.Len(t, ds.Records(DatasetWAS), 5)
	assert.Len(t, ds.Records(DatasetAssets), 3)
	assert.Len(t, report.Results, 3)
	assert.Empty(t, report.Warnings)

	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.Gauge(MetricDatasetRows).WithLabelValues(DatasetWAS)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Gauge(MetricDatasetRows).WithLabelValues(DatasetVM)))

	var sawDistribution bool
	for _, e := range hook.AllEntries() {
		if e.Message == `Asset type distribution: ["host"]=2, ["webapp"]=1` {
			sawDistribution = true
		}
	}
	assert.True(t, sawDistribution)
}

func TestSuiteDisableWAS(t *testing.T) {
	cfg := models.DefaultConfig()
	api := suiteAPI(t, cfg)
	logger, _ := quietLogger()

	report, err := NewSuite(api.session(t, logger), SpecsFromConfig(cfg, true), fastOptions(5), logger, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DatasetOrder, report.Dataset.Names())
	assert.Empty(t, report.Dataset.Records(DatasetWAS))
	assert.Len(t, report.Dataset.Records(DatasetAssets), 3)
	assert.Equal(t, 0, api.count(http.MethodPost, "/was/v1/export/vulns"))
}

func TestSuiteStopsOnFatalError(t *testing.T) {
	cfg := models.DefaultConfig()
	api := newFakeAPI(t,
		&fakeExport{spec: VulnerabilityDomain(cfg.VM), id: "vm-1", startBody: `{}`},
		&fakeExport{spec: AssetDomain(cfg.Assets), id: "as-1", statuses: []string{finished(`[]`, "")}},
	)
	logger, _ := quietLogger()

	_, err := NewSuite(api.session(t, logger), SpecsFromConfig(cfg, true), fastOptions(5), logger, nil).Run(context.Background())
	var mje *MissingJobIDError
	require.ErrorAs(t, err, &mje)
	assert.Equal(t, 0, api.count(http.MethodPost, "/assets/v2/export"))
}

func TestSpecsFromConfig(t *testing.T) {
	cfg := models.DefaultConfig()
	specs := SpecsFromConfig(cfg, false)
	require.Len(t, specs, 3)
	assert.Equal(t, models.DomainVM, specs[0].Domain)
	assert.Equal(t, models.DomainWAS, specs[1].Domain)
	assert.Equal(t, models.DomainAssets, specs[2].Domain)

	cfg.VM.Enabled = false
	specs = SpecsFromConfig(cfg, true)
	require.Len(t, specs, 1)
	assert.Equal(t, DatasetAssets, specs[0].Dataset)
}

func TestValueDistribution(t *testing.T) {
	records := []flatten.Record{
		{{Key: "types", Value: flatten.StringValue("host")}},
		{{Key: "types", Value: flatten.StringValue("host")}},
		{{Key: "types", Value: flatten.NullValue()}},
		{{Key: "other", Value: flatten.StringValue("x")}},
		{{Key: "types", Value: flatten.StringValue("webapp")}},
	}
	dist := valueDistribution(records, "types")
	assert.Equal(t, map[string]int{"host": 2, "webapp": 1}, dist)
	assert.Equal(t, "host=2, webapp=1", formatDistribution(dist))
}
