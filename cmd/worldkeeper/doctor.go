package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/worldkeeper/worldkeeper/pkg/git"
	"github.com/worldkeeper/worldkeeper/pkg/log"
	"github.com/worldkeeper/worldkeeper/pkg/preflight"
	"github.com/worldkeeper/worldkeeper/pkg/runtime/docker"
)

var (
	doctorSkipEngine bool
	doctorRegistry   string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the host can run and mirror the server",
	Long: `Doctor checks the Docker daemon, the git binary, the world directory,
free disk space and the repository remote. Problems that would make start
fail are reported as errors and make the command exit non-zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pcfg := preflight.Config{
			RequireTools: true,
			WorkDir:      cfg.WorkDir,
			StateDir:     cfg.StateDir,
			RemoteURL:    cfg.Repo.URL,
			RegistryURL:  doctorRegistry,
		}
		if !doctorSkipEngine {
			engine, err := docker.NewDockerEngine(cfg.Docker.Host)
			if err != nil {
				pcfg.Engine = func(context.Context) error { return err }
			} else {
				defer engine.Close()
				pcfg.Engine = engine.Ping
			}
		}
		if cfg.Repo.URL != "" {
			opts := gitOptions(cfg)
			pcfg.Remote = func(ctx context.Context) error {
				pctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Git)
				defer cancel()
				info, err := git.ProbeRemote(pctx, opts)
				if err != nil {
					return err
				}
				log.Info("remote reachable", "empty", info.Empty, "trunk", info.HasTrunk, "sessions", info.Sessions)
				return nil
			}
		}

		if err := preflight.NewChecker(pcfg).Run(ctx); err != nil {
			return fmt.Errorf("doctor found problems: %w", err)
		}
		fmt.Println("All checks passed")
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorSkipEngine, "skip-engine", false, "Skip the Docker daemon check")
	doctorCmd.Flags().StringVar(&doctorRegistry, "registry", "",
		"Registry URL to probe for image pulls (e.g. https://registry-1.docker.io/v2/)")
	rootCmd.AddCommand(doctorCmd)
}
