package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/worldkeeper/worldkeeper/pkg/log"
)

// Run drives the autosave and presence loops until ctx is cancelled. Each
// tick takes the operation lock and does nothing unless the server runs.
func (c *Controller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		every(ctx, c.cfg.AutosaveInterval, c.autosaveTick)
	}()
	go func() {
		defer wg.Done()
		every(ctx, c.cfg.PresenceInterval, c.presenceTick)
	}()
	wg.Wait()
}

func every(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (c *Controller) autosaveTick(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.Phase() != PhaseRunning {
		return
	}
	gctx, cancel := step(ctx, c.cfg.Timeouts.Git)
	defer cancel()
	c.sync.AutosaveTick(gctx)
	c.publish()
}

func (c *Controller) presenceTick(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.Phase() != PhaseRunning {
		return
	}
	snapshot := c.poll(ctx)
	if !snapshot.OK {
		log.Debug("Presence query failed", "error", snapshot.Err)
	}
}
