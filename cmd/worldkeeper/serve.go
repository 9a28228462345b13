package main

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"github.com/worldkeeper/worldkeeper/pkg/console"
	"github.com/worldkeeper/worldkeeper/pkg/lifecycle"
	"github.com/worldkeeper/worldkeeper/pkg/log"
)

var (
	serveStart   bool
	serveNoAudit bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the autosave and presence loops with an NDJSON console",
	Long: `Serve keeps the controller in the foreground. While it runs, the session
branch is autosaved on the configured interval and the player list is polled.

Requests are read from stdin, one JSON object per line, and each gets one
JSON response line on stdout. Logs go to stderr.

Ops: start, stop (force), restart, status, info, save, say (message, target),
cmd (command), chat-history (lines).

Serve returns when stdin closes or on SIGINT/SIGTERM. The server container
keeps running. Each handled request is appended to console.ndjson in the
state directory.`,
	Example: `  echo '{"id":1,"op":"status"}' | worldkeeper serve
  echo '{"op":"stop","force":true}' | worldkeeper serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		d, err := openDeployment(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		auditFile := ""
		if !serveNoAudit {
			if err := os.MkdirAll(d.cfg.StateDir, 0755); err != nil {
				return err
			}
			auditFile = filepath.Join(d.cfg.StateDir, "console.ndjson")
		}
		con, err := console.New(d.ctrl, d.rcon, console.Config{
			WorkDir:   d.cfg.WorkDir,
			AuditFile: auditFile,
		})
		if err != nil {
			return err
		}
		defer con.Close()

		if serveStart && d.ctrl.Phase() == lifecycle.PhaseStopped {
			if _, err := d.ctrl.Start(ctx); err != nil {
				return opFailed("start", err)
			}
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ctrl.Run(ctx)
		}()

		log.Info("serve started", "work_dir", d.cfg.WorkDir, "phase", d.ctrl.Phase(), "audit", auditFile)
		err = con.Serve(ctx, os.Stdin, os.Stdout)
		cancel()
		wg.Wait()
		log.Info("serve stopped", "phase", d.ctrl.Phase())
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveStart, "start", false, "Start the server before reading requests")
	serveCmd.Flags().BoolVar(&serveNoAudit, "no-audit", false, "Do not record requests in the state directory")
	rootCmd.AddCommand(serveCmd)
}
