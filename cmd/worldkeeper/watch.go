package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/worldkeeper/worldkeeper/pkg/chatlog"
	"github.com/worldkeeper/worldkeeper/pkg/lifecycle"
	"github.com/worldkeeper/worldkeeper/pkg/rcon"
	"github.com/worldkeeper/worldkeeper/pkg/tui"
)

// watchSource feeds the dashboard from a deployment.
type watchSource struct {
	ctrl    *lifecycle.Controller
	rcon    *rcon.Client
	workDir string
}

func (s *watchSource) Status(ctx context.Context) lifecycle.Status {
	return s.ctrl.Status(ctx)
}

func (s *watchSource) Info(ctx context.Context) lifecycle.Info {
	return s.ctrl.Info(ctx)
}

func (s *watchSource) Chat(_ context.Context, lines int) (chatlog.History, error) {
	return chatlog.Read(s.workDir, lines)
}

func (s *watchSource) Say(ctx context.Context, message string) error {
	_, err := s.rcon.Say(ctx, message)
	return err
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Terminal dashboard for the server, players and chat",
	Long: `Watch shows the server phase, session branch, last backup, online players
and recent chat, refreshed every two seconds. Typing a line and pressing Enter
broadcasts it as the server.

The dashboard only reads state. Use start, stop and save to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		app := tui.NewApp(&watchSource{ctrl: d.ctrl, rcon: d.rcon, workDir: d.cfg.WorkDir})
		p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to run TUI: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
