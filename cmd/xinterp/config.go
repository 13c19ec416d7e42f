package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect interpreter configs",
	Long: `List and show the named interpreter configs.

The built-in configs are isolated, legacy and empty. A YAML file passed with
--config adds more; each entry may name a base config:

  fast:
    base: isolated
    heap_pages: 4`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List config names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgs, err := loadConfigs(cmd)
		if err != nil {
			return err
		}
		for _, name := range sortedNames(cfgs) {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a config as YAML (default: --config-name)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgs, err := loadConfigs(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Root().PersistentFlags().GetString("config-name")
		if len(args) > 0 {
			name = args[0]
		}
		cfg, ok := cfgs[name]
		if !ok {
			return fmt.Errorf("unknown config %q", name)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, render(out, titleStyle, "# "+name))
		fmt.Fprint(out, string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
