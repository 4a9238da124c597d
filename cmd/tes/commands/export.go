package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/bl4ck0w1/tesuite/internal/export"
	"github.com/bl4ck0w1/tesuite/internal/orchestration"
	"github.com/bl4ck0w1/tesuite/internal/output"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewExportCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export VM vulnerabilities, WAS findings and assets",
		Long: `Run the vulnerability, web-app and asset exports one after another,
flatten every record and write the datasets in the selected formats.

Credentials come from TENABLE_ACCESS_KEY and TENABLE_SECRET_KEY or the
api section of the config file.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, runFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, version)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func runExport(cmd *cobra.Command, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := output.NewRunInfo(cfg.Output.Directory)
	if err := utils.EnsureDir(run.OutputDir); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	logger, err := newRunLogger(cfg, run, version)
	if err != nil {
		return err
	}
	defer logger.Close()

	metrics := utils.NewMetricsCollector(true)
	startMetrics(ctx, cfg.Metrics.Address, metrics)

	runner, err := orchestration.NewRunner(cfg, orchestration.RunOptions{
		DisableWAS: viper.GetBool("export.disable_was"),
	}, logger.Logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize export: %w", err)
	}

	summary, err := runner.Run(ctx, run)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printSummary(out io.Writer, s *orchestration.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\nRun %s (%s)\n", s.Run.ID, s.Run.Timestamp())
	fmt.Fprintln(w, "DATASET\tROWS\t")
	for _, name := range export.DatasetOrder {
		fmt.Fprintf(w, "%s\t%d\t\n", name, s.Rows[name])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "FORMAT\tPATH\tSIZE\t")
	for _, a := range s.Artifacts {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", a.Format, a.Path, utils.HumanizeBytes(a.Bytes))
	}
	if len(s.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING\tDOMAIN\tMESSAGE\t")
		for _, warn := range s.Warnings {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", warn.Kind, warn.Domain, warn.Message)
		}
	}
	fmt.Fprintf(w, "\nCompleted in %s\n", utils.HumanizeDuration(s.Duration))
	if err := w.Flush(); err != nil {
		logrus.WithError(err).Debug("Failed to print summary")
	}
}
