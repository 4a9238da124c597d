package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage tes configuration",
		Long:  `Initialize a configuration file or show the effective configuration.`,
	}

	cmd.AddCommand(newConfigureInitCommand())
	cmd.AddCommand(newConfigureShowCommand())
	return cmd
}

func newConfigureInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Long: `Write a YAML configuration file with default values (tes.yaml when no
path is given). Credentials are left empty; set them in the file or through
TENABLE_ACCESS_KEY and TENABLE_SECRET_KEY.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigureInit,
	}
	cmd.Flags().BoolP("force", "f", false, "overwrite an existing file without asking")
	return cmd
}

func newConfigureShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging defaults, the config file, the
environment and flags. Credentials are masked.`,
		Args: cobra.NoArgs,
		RunE: runConfigureShow,
	}
}

func runConfigureInit(cmd *cobra.Command, args []string) error {
	path := "tes.yaml"
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		path = strings.TrimSpace(args[0])
	}

	force, _ := cmd.Flags().GetBool("force")
	if utils.FileExists(path) && !force {
		logrus.Warnf("Configuration file already exists: %s", path)
		ok, err := confirmOverwrite(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if !ok {
			logrus.Info("Configuration initialization cancelled")
			return nil
		}
	}

	if err := models.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	logrus.Infof("Configuration initialized: %s", path)
	return nil
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func confirmOverwrite(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "Overwrite? [y/N]: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
