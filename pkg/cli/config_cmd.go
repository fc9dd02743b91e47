package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/inbound/pkg/cli/internal/output"
	"github.com/getmockd/inbound/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration files",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), map[string]any{"valid": true, "listeners": len(cfg.Listeners)})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d listeners)\n", args[0], len(cfg.Listeners))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show FILE",
	Short: "Print the effective configuration with defaults applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), cfg)
		}
		data, err := config.ToYAML(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
