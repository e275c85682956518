package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sleepywoodpecker/bridgelog/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show or check the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Long: `Write the built-in defaults as YAML, to bridgelog.yaml in the current
directory unless a path is given. An existing file is kept unless --force.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Load the configuration the way run does and report the first problem.

Exit codes:
  0 - config is valid
  1 - config is invalid`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.FileName + config.FileSuffix
	if len(args) == 1 {
		path = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.New())
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	v := viper.New()
	cfg, err := loadConfig(v)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	if file := v.ConfigFileUsed(); file != "" {
		fmt.Fprintf(out, "  File:              %s\n", file)
	}
	fmt.Fprintf(out, "  Sampling interval: %s\n", cfg.Sampling.Interval)
	fmt.Fprintf(out, "  Gain:              %dx\n", cfg.Sampling.Gain)
	fmt.Fprintf(out, "  Output:            %s\n", cfg.Output.Mode)
	fmt.Fprintf(out, "  Display:           %s (%d samples)\n", cfg.Display.Mode, cfg.DisplayCapacity())
	fmt.Fprintf(out, "  Configured boards: %d\n", len(cfg.Devices.Boards))
	return nil
}
