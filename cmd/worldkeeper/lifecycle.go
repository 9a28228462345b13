package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/worldkeeper/worldkeeper/pkg/lifecycle"
)

var (
	stopForce  bool
	statusJSON bool
	infoJSON   bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Open a session branch and start the server",
	Long: `Start clones or opens the world repository, opens a new session branch
from the trunk, resolves the server environment from the world directory and
starts the container.

A session left open by an earlier failed start is reused.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		state, err := d.ctrl.Start(ctx)
		if err != nil {
			return opFailed("start", err)
		}
		status := d.ctrl.Status(ctx)
		fmt.Printf("Server %s is %s (session %s)\n", state.Name, state.Status, status.SessionBranch)
		for _, p := range state.Ports {
			fmt.Printf("  port %s\n", p)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the server and merge its session into the trunk",
	Long: `Stop checks who is online, stops the container and merges the session
branch into the trunk. Session changes win every conflict.

Without --force the stop is refused while players are online, and also when
the player list cannot be read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.ctrl.Stop(ctx, stopForce); err != nil {
			return opFailed("stop", err)
		}
		state := d.repo.State()
		if state.LastSession != nil {
			fmt.Printf("Server stopped; session %s %s\n", state.LastSession.Name, state.LastSession.Disposition)
		} else {
			fmt.Println("Server stopped")
		}
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the server container, keeping the session open",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		state, err := d.ctrl.Restart(ctx)
		if err != nil {
			return opFailed("restart", err)
		}
		fmt.Printf("Server %s restarted (%s)\n", state.Name, state.Status)
		return nil
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Flush the world and push a commit to the session branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		res, err := d.ctrl.Save(ctx)
		if err != nil {
			return opFailed("save", err)
		}
		if res.Commit == "" {
			fmt.Printf("Nothing to save on %s\n", res.Branch)
			return nil
		}
		fmt.Printf("Saved %s to %s (pushed: %t)\n", shortHash(res.Commit), res.Branch, res.Pushed)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server phase, container and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		status := d.ctrl.Status(ctx)
		if statusJSON {
			return printJSON(os.Stdout, status)
		}
		printStatus(status)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show who is online",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		info := d.ctrl.Info(ctx)
		if infoJSON {
			return printJSON(os.Stdout, info)
		}
		switch {
		case !info.QueryOK && info.Error != "":
			fmt.Printf("Players: unknown (%s)\n", info.Error)
		case !info.QueryOK:
			fmt.Println("Players: unknown (server not running)")
		default:
			fmt.Printf("Players: %d/%d\n", info.Count, info.Max)
			for _, u := range info.Users {
				fmt.Printf("  %s\n", u)
			}
		}
		return nil
	},
}

func printStatus(s lifecycle.Status) {
	if s.ServerName != "" {
		fmt.Printf("Server:     %s\n", s.ServerName)
	}
	fmt.Printf("Phase:      %s\n", s.Phase)
	if s.ContainerError != "" {
		fmt.Printf("Container:  unavailable (%s)\n", s.ContainerError)
	} else {
		fmt.Printf("Container:  %s (%s)\n", s.Container.Name, s.Container.Status)
	}
	if len(s.Container.Ports) > 0 {
		ports := make([]string, 0, len(s.Container.Ports))
		for _, p := range s.Container.Ports {
			ports = append(ports, p.String())
		}
		fmt.Printf("Ports:      %s\n", strings.Join(ports, ", "))
	}
	fmt.Printf("Repository: %s\n", s.Sync.Phase)
	if s.SessionBranch != "" {
		fmt.Printf("Session:    %s\n", s.SessionBranch)
	}
	if !s.Sync.LastAutosave.IsZero() {
		fmt.Printf("Autosave:   %s\n", s.Sync.LastAutosave.Local().Format(time.DateTime))
	}
	if s.LastBackup.IsZero() {
		fmt.Println("Backup:     never")
	} else {
		fmt.Printf("Backup:     %s\n", s.LastBackup.Local().Format(time.DateTime))
	}
	if s.Sync.LastPushError != "" {
		fmt.Printf("Push error: %s\n", s.Sync.LastPushError)
	}
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}

// withTimeout bounds read-only commands that talk to one service.
func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signalContext()
	tctx, cancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		cancel()
		stop()
	}
}

func init() {
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Stop even when players are online or presence is unknown")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print player info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(infoCmd)
}
