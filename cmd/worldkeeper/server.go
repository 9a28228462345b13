package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/worldkeeper/worldkeeper/pkg/chatlog"
	"github.com/worldkeeper/worldkeeper/pkg/lifecycle"
	"github.com/worldkeeper/worldkeeper/pkg/runtime/docker"
)

var (
	logsFollow     bool
	logsTail       int
	logsTimestamps bool
	sayTarget      string
	chatLines      int
	chatJSON       bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the server container's output",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := newDeployment(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		tail := "all"
		if logsTail > 0 {
			tail = strconv.Itoa(logsTail)
		}
		err = d.runtime.Logs(ctx, docker.LogOptions{
			Tail:       tail,
			Follow:     logsFollow,
			Timestamps: logsTimestamps,
		}, os.Stdout)
		if errors.Is(err, docker.ErrContainerAbsent) {
			return fmt.Errorf("container %s does not exist; run 'worldkeeper start' first", cfg.Docker.ContainerName)
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove the stopped server container",
	Long: `Remove deletes the server container so the next start recreates it from
the configured image. The world directory and repository are untouched.

The server must be stopped first so its session is merged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		if phase := d.ctrl.Phase(); phase != lifecycle.PhaseStopped {
			return fmt.Errorf("server is %s; run 'worldkeeper stop' first", phase)
		}
		if err := d.runtime.Remove(ctx); err != nil {
			return opFailed("rm", err)
		}
		fmt.Printf("Container %s removed\n", d.cfg.Docker.ContainerName)
		return nil
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <message>",
	Short: "Broadcast a chat message, or whisper it with --to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cfg.Timeouts.RCON)
		defer cancel()

		client := rconClient(cfg)
		message := strings.Join(args, " ")
		var reply string
		if sayTarget != "" {
			reply, err = client.Tell(ctx, sayTarget, message)
		} else {
			reply, err = client.Say(ctx, message)
		}
		if err != nil {
			return err
		}
		if reply != "" {
			fmt.Println(reply)
		}
		return nil
	},
}

var rawCmd = &cobra.Command{
	Use:   "cmd <command...>",
	Short: "Run a server console command over RCON",
	Example: `  worldkeeper cmd time set day
  worldkeeper cmd whitelist add alice`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cfg.Timeouts.RCON)
		defer cancel()

		reply, err := rconClient(cfg).SendCommand(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if reply != "" {
			fmt.Println(reply)
		}
		return nil
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "chat-history",
	Short: "Show recent chat from the server log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		history, err := chatlog.Read(cfg.WorkDir, chatLines)
		if err != nil {
			return err
		}
		if chatJSON {
			return printJSON(os.Stdout, history)
		}
		if history.Count == 0 {
			fmt.Println("No chat messages")
			return nil
		}
		return chatlog.Format(os.Stdout, history.Messages)
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 200, "Number of lines from the end (0 for all)")
	logsCmd.Flags().BoolVarP(&logsTimestamps, "timestamps", "t", false, "Show timestamps")
	sayCmd.Flags().StringVar(&sayTarget, "to", "", "Whisper to this player instead of broadcasting")
	chatHistoryCmd.Flags().IntVarP(&chatLines, "lines", "n", chatlog.DefaultLines,
		fmt.Sprintf("Log lines to scan (%d-%d)", chatlog.MinLines, chatlog.MaxLines))
	chatHistoryCmd.Flags().BoolVar(&chatJSON, "json", false, "Print history as JSON")

	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(rawCmd)
	rootCmd.AddCommand(chatHistoryCmd)
}
