package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bl4ck0w1/tesuite/internal/export"
	"github.com/bl4ck0w1/tesuite/internal/orchestration"
	"github.com/bl4ck0w1/tesuite/internal/output"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestConfigureInitWritesDefaults(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "tes.yaml")

	cmd := NewConfigureCommand()
	cmd.SetArgs([]string{"init", path})
	require.NoError(t, cmd.Execute())

	cfg := models.DefaultConfig()
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, []string{models.FormatExcel, models.FormatParquet}, cfg.Output.Formats)
	assert.Equal(t, 200, cfg.VM.NumAssets)
	assert.Equal(t, 5*time.Second, cfg.Polling.Interval)
}

func TestConfigureInitKeepsFileWithoutConfirmation(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "tes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("custom: true\n"), 0o600))

	cmd := NewConfigureCommand()
	cmd.SetIn(strings.NewReader("n\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"init", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom: true\n", string(data))

	cmd.SetArgs([]string{"init", path, "--force"})
	require.NoError(t, cmd.Execute())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "base_url: https://cloud.tenable.com")
}

func TestConfigureShowMasksCredentials(t *testing.T) {
	resetViper(t)
	viper.Set("api.access_key", "accesskeyvalue")
	viper.Set("api.secret_key", "supersecretvalue")

	var out bytes.Buffer
	cmd := NewConfigureCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "secret_key: supe********")
	assert.NotContains(t, out.String(), "supersecretvalue")
	assert.NotContains(t, out.String(), "accesskeyvalue")
}

func TestLoadConfigDecodesViperValues(t *testing.T) {
	resetViper(t)
	viper.Set("output.formats", []string{models.FormatSQLite})
	viper.Set("polling.interval", "2s")
	viper.Set("was.num_assets", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{models.FormatSQLite}, cfg.Output.Formats)
	assert.Equal(t, 2*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 25, cfg.WAS.NumAssets)
	assert.Equal(t, 200, cfg.VM.NumAssets)
}

func TestNewRunLoggerDefaultsToOutputDir(t *testing.T) {
	cfg := models.DefaultConfig()
	run := output.NewRunInfo(t.TempDir())

	logger, err := newRunLogger(cfg, run, "test")
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(run.OutputDir, "tenable_export_"+run.Timestamp()+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), run.ID)
}

func TestPrintSummary(t *testing.T) {
	run := output.NewRunInfo("/tmp/out")
	var out bytes.Buffer
	printSummary(&out, &orchestration.RunSummary{
		Run: run,
		Rows: map[string]int{
			export.DatasetVM:     3,
			export.DatasetAssets: 1,
		},
		Warnings: []export.Warning{{
			Kind:    export.WarnLicenseDenied,
			Domain:  models.DomainWAS,
			Message: "not licensed",
		}},
		Artifacts: []output.Artifact{{Format: models.FormatParquet, Path: "/tmp/out", Bytes: 2048}},
		Duration:  1500 * time.Millisecond,
	})

	text := out.String()
	assert.Contains(t, text, run.ID)
	assert.Regexp(t, `VM_Vulnerabilities\s+3`, text)
	assert.Regexp(t, `WAS_Vulnerabilities\s+0`, text)
	assert.Contains(t, text, "license_denied")
	assert.Contains(t, text, "parquet")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := NewVersionCommand("1.2.3", "abc123", "2024-03-09")
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "tes Version: 1.2.3")
	assert.Contains(t, out.String(), "Git Commit: abc123")
}

func TestScheduleRequiresCron(t *testing.T) {
	resetViper(t)
	cmd := NewScheduleCommand("test")
	cmd.SetArgs([]string{"--output-dir", t.TempDir()})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	assert.ErrorContains(t, err, "a schedule is required")
}
