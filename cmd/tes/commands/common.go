package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bl4ck0w1/tesuite/internal/output"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LoadConfig merges defaults, the config file, the environment and flags.
func LoadConfig() (*models.Config, error) {
	cfg := models.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return cfg, nil
}

// bindFlags maps flag names to config keys. It runs from PreRunE so that
// commands sharing a key only bind their own flag.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}

// runFlags are shared by export and schedule.
var runFlags = map[string]string{
	"outputs":      "output.formats",
	"output-dir":   "output.directory",
	"disable-was":  "export.disable_was",
	"metrics-addr": "metrics.address",
}

func addRunFlags(cmd *cobra.Command) {
	d := models.DefaultConfig()
	cmd.Flags().StringSliceP("outputs", "o", d.Output.Formats, fmt.Sprintf("output formats (%v)", models.SupportedFormats))
	cmd.Flags().String("output-dir", d.Output.Directory, "directory for artifacts and the run log")
	cmd.Flags().Bool("disable-was", false, "skip the web-app scanning export")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

// newRunLogger builds the logger for one run. Without logging.file the log
// goes to tenable_export_<timestamp>.log in the output directory.
func newRunLogger(cfg *models.Config, run output.RunInfo, version string) (*utils.Logger, error) {
	file := cfg.Logging.File
	if file == "" {
		file = filepath.Join(run.OutputDir, "tenable_export_"+run.Timestamp()+".log")
	}
	if err := utils.EnsureDir(filepath.Dir(file)); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	logger, err := utils.NewLogger(utils.LogConfig{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File:    file,
		Console: true,
	}, "tes", version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize run logger: %w", err)
	}
	logger.SetRunID(run.ID)
	return logger, nil
}

// startMetrics serves the collector until ctx is done. An empty address
// disables the endpoint.
func startMetrics(ctx context.Context, addr string, metrics *utils.MetricsCollector) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.StartServerWithContext(ctx, addr); err != nil {
			logrus.WithError(err).Warn("Metrics server stopped")
		}
	}()
	logrus.WithField("address", addr).Info("Serving metrics on /metrics")
}
