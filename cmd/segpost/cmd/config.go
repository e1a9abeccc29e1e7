package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/MeKo-Tech/segpost/internal/config"
	"github.com/spf13/cobra"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration",
	Long: `Show the effective configuration, write a default configuration file or
list the locations searched for segpost.yaml.

Settings are resolved in this order: command-line flags, SEGPOST_*
environment variables, the configuration file, built-in defaults.`,
	// Only "show" validates, so a broken file can still be replaced.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a configuration file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.GenerateDefaultConfigFile(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "List the directories searched for " + config.ConfigFileName + ".yaml",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range config.GetConfigSearchPaths() {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathsCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}
