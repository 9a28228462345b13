package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/worldkeeper/worldkeeper/pkg/environment"
)

var (
	configValidate bool
	resolveJSON    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	Long: `Print the configuration after defaults, the config file and WORLDKEEPER_*
environment overrides are applied. The RCON password and repository token are
masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.RenderYAML()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		if configValidate {
			return cfg.Validate()
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [dir]",
	Short: "Show the server environment resolved from the world directory",
	Long: `Resolve inspects the world directory the way start does: a launch script
(start.sh, start.bat) wins, then server.jar, then a distribution-named jar.
Nothing in the directory is modified.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts, err := environmentOptions(cfg)
		if err != nil {
			return err
		}
		dir := cfg.WorkDir
		if len(args) == 1 {
			dir = args[0]
		}

		desired, err := environment.Resolve(dir, opts)
		if err != nil {
			return err
		}
		if resolveJSON {
			return printJSON(os.Stdout, desired)
		}
		fmt.Printf("Kind:     %s\n", desired.Kind)
		if desired.Artifact != "" {
			fmt.Printf("Artifact: %s\n", desired.Artifact)
		}
		if !desired.Memory.IsZero() {
			fmt.Printf("Memory:   %s\n", desired.Memory)
		}
		if len(desired.ExtraFlags) > 0 {
			fmt.Printf("Flags:    %s\n", strings.Join(desired.ExtraFlags, " "))
		}
		fmt.Printf("Headless: %t\n", desired.Headless)
		fmt.Printf("Source:   %s\n", desired.Source)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configValidate, "validate", false, "Fail if the configuration is incomplete")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Print the environment as JSON")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(resolveCmd)
}
