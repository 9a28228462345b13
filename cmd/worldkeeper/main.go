package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "worldkeeper",
	Short: "Worldkeeper runs a Minecraft server in Docker and keeps its world in git.",
	Long: `Worldkeeper runs a Minecraft server in a managed Docker container and
mirrors the world directory to a git remote.

Each server run gets its own session branch. Autosaves are committed and
pushed to it while the server runs, and the branch is merged into the trunk
when the server stops. A stop is refused while players are online unless it
is forced.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to worldkeeper.yaml (default: ./worldkeeper.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, progress, minimal, warn, error (overrides log.level)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: console or json (overrides log.format)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
