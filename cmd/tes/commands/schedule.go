package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bl4ck0w1/tesuite/internal/orchestration"
	"github.com/bl4ck0w1/tesuite/internal/output"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewScheduleCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the export on a cron schedule",
		Long: `Run the full export repeatedly on a standard five-field cron schedule
(or a descriptor such as "@daily"). Every run gets its own timestamp, run id
and log file. A run still in progress when the next one is due causes that
run to be skipped. Stop with Ctrl+C.`,
		Example: `  tes schedule --cron "0 2 * * *" -o parquet,duckdb --output-dir /data/tenable`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			keys := map[string]string{"cron": "schedule.cron"}
			for k, v := range runFlags {
				keys[k] = v
			}
			return bindFlags(cmd, keys)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd, version)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("cron", "", "cron expression (e.g. \"0 2 * * *\")")
	return cmd
}

func runSchedule(cmd *cobra.Command, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Schedule.Cron == "" {
		return errors.New("a schedule is required: pass --cron or set schedule.cron")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := utils.NewMetricsCollector(true)
	startMetrics(ctx, cfg.Metrics.Address, metrics)

	options := orchestration.RunOptions{DisableWAS: viper.GetBool("export.disable_was")}
	job := func(ctx context.Context) error {
		return scheduledRun(ctx, cfg, options, version, metrics)
	}

	scheduler, err := orchestration.NewScheduler(cfg.Schedule.Cron, job, logrus.StandardLogger())
	if err != nil {
		return err
	}
	if err := scheduler.Run(ctx); err != nil {
		return err
	}

	runs, failed := scheduler.Stats()
	logrus.WithFields(logrus.Fields{"runs": runs, "failed": failed}).Info("Scheduler shut down")
	return nil
}

// scheduledRun performs one export with a fresh run id and log file.
func scheduledRun(ctx context.Context, cfg *models.Config, options orchestration.RunOptions, version string, metrics *utils.MetricsCollector) error {
	run := output.NewRunInfo(cfg.Output.Directory)
	if err := utils.EnsureDir(run.OutputDir); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	logger, err := newRunLogger(cfg, run, version)
	if err != nil {
		return err
	}
	defer logger.Close()

	runner, err := orchestration.NewRunner(cfg, options, logger.Logger, metrics)
	if err != nil {
		return err
	}
	summary, err := runner.Run(ctx, run)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, summary)
	return nil
}
