package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bl4ck0w1/tesuite/cmd/tes/commands"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version   = "1.0.0"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "tes",
	Short: "Tenable Export Suite",
	Long: `tes exports vulnerabilities, web-app findings and assets from Tenable.io
through the asynchronous export API and writes them to Excel, Parquet,
DuckDB or SQLite.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return initLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./tes.yaml or $HOME/.tes/config.yaml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path (export defaults to <output-dir>/tenable_export_<timestamp>.log)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(commands.NewExportCommand(version))
	rootCmd.AddCommand(commands.NewScheduleCommand(version))
	rootCmd.AddCommand(commands.NewConfigureCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, buildDate))
	rootCmd.AddCommand(commands.NewCompletionCommand())

	rootCmd.SetVersionTemplate(fmt.Sprintf("tes %s (commit %s, built %s)\n", version, commit, buildDate))
}

func initConfig() error {
	setDefaults()
	viper.SetEnvPrefix("TENABLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Names used by existing deployments.
	_ = viper.BindEnv("api.access_key", "TENABLE_ACCESS_KEY")
	_ = viper.BindEnv("api.secret_key", "TENABLE_SECRET_KEY")
	_ = viper.BindEnv("api.base_url", "TENABLE_API_URL", "TENABLE_BASE_URL")
	_ = viper.BindEnv("api.verify_ssl", "TENABLE_VERIFY_SSL")

	cfgFile := viper.GetString("config")
	if cfgFile == "" {
		cfgFile = findConfigFile()
	}
	if cfgFile == "" {
		return nil
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", cfgFile, err)
	}
	logrus.Debugf("Using config file: %s", viper.ConfigFileUsed())
	return nil
}

func findConfigFile() string {
	candidates := []string{"tes.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".tes", "config.yaml"))
	}
	for _, c := range candidates {
		if utils.FileExists(c) {
			return c
		}
	}
	return ""
}

func setDefaults() {
	d := models.DefaultConfig()

	viper.SetDefault("api.base_url", d.API.BaseURL)
	viper.SetDefault("api.access_key", "")
	viper.SetDefault("api.secret_key", "")
	viper.SetDefault("api.verify_ssl", d.API.VerifySSL)
	viper.SetDefault("api.user_agent", "tenable-export-suite/"+version)
	viper.SetDefault("api.start_timeout", d.API.StartTimeout)
	viper.SetDefault("api.status_timeout", d.API.StatusTimeout)
	viper.SetDefault("api.chunk_timeout", d.API.ChunkTimeout)
	viper.SetDefault("api.rate_limit", d.API.RateLimit)
	viper.SetDefault("api.rate_burst", d.API.RateBurst)
	viper.SetDefault("api.max_retries", d.API.MaxRetries)
	viper.SetDefault("api.retry_backoff", d.API.RetryBackoff)

	for key, v := range map[string]models.VulnExportConfig{"vm": d.VM, "was": d.WAS} {
		viper.SetDefault(key+".enabled", v.Enabled)
		viper.SetDefault(key+".num_assets", v.NumAssets)
		viper.SetDefault(key+".include_unlicensed", v.IncludeUnlicensed)
		viper.SetDefault(key+".severity", v.Severity)
		viper.SetDefault(key+".state", v.State)
		viper.SetDefault(key+".since", v.Since)
	}

	viper.SetDefault("assets.enabled", d.Assets.Enabled)
	viper.SetDefault("assets.chunk_size", d.Assets.ChunkSize)
	viper.SetDefault("assets.types", d.Assets.Types)

	viper.SetDefault("polling.interval", d.Polling.Interval)
	viper.SetDefault("polling.max_attempts", d.Polling.MaxAttempts)

	viper.SetDefault("output.formats", d.Output.Formats)
	viper.SetDefault("output.directory", d.Output.Directory)
	viper.SetDefault("output.writer_concurrency", d.Output.WriterConcurrency)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
	viper.SetDefault("logging.file", "")

	viper.SetDefault("metrics.address", "")
	viper.SetDefault("schedule.cron", "")
}

func initLogging() error {
	logger, err := utils.NewLogger(utils.LogConfig{
		Level:   viper.GetString("logging.level"),
		Format:  viper.GetString("logging.format"),
		Console: true,
	}, "tes", version)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.Level)
	logrus.SetFormatter(logger.Formatter)
	return nil
}

func main() {
	Execute()
}
