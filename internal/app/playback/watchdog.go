package playback

import "time"

// runWatchdog serializes every reconciliation: intent and loading-state changes arrive as kicks,
// and a periodic tick re-asserts the intent in case the engine silently ignored a command.
// It runs until the controller is closed.
func (c *Controller) runWatchdog() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.kickCh:
			c.reconcile()
		case <-ticker.C:
			c.metrics.WatchdogTick()
			c.reconcile()
		}
	}
}
