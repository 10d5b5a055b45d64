package runner

import (
	"context"
	"sync"

	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

// Controller serializes runs on one Runner. Submitting a new configuration
// cancels the run in flight and waits for it to stop before resetting, so
// Reset and Step never overlap.
type Controller struct {
	runner *Runner

	mu     sync.Mutex // guards cancel and seq
	cancel context.CancelFunc
	seq    uint64

	runMu sync.Mutex // held for the whole Rerun
}

// NewController wraps r.
func NewController(r *Runner) *Controller {
	return &Controller{runner: r}
}

// Submit cancels any in-flight run, then reruns with cfg. It blocks until
// the new run ends. ctx bounds the new run.
func (c *Controller) Submit(ctx context.Context, cfg config.Config) (model.Run, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	c.runMu.Lock()
	defer c.runMu.Unlock()
	defer c.clear(seq)

	return c.runner.Rerun(ctx, cfg)
}

// Cancel stops the in-flight run, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// LastCompleted returns the runner's most recent completed run. It does not
// wait for the run in flight.
func (c *Controller) LastCompleted() (model.Run, bool) {
	return c.runner.LastCompleted()
}

func (c *Controller) clear(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == seq {
		c.cancel = nil
	}
}
