package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Stoppable is what the Coordinator drives; *Loop implements it.
type Stoppable interface {
	Wakeup()
	Done() <-chan struct{}
}

// Coordinator turns a termination request into an orderly loop stop. The
// shutdown signal is raised at most once; later requests only wait.
type Coordinator struct {
	target  Stoppable
	timeout time.Duration
	once    sync.Once
	raised  chan struct{}
	logger  *slog.Logger
}

// NewCoordinator returns a Coordinator for target. A zero timeout waits for
// the loop indefinitely.
func NewCoordinator(target Stoppable, timeout time.Duration) *Coordinator {
	return &Coordinator{
		target:  target,
		timeout: timeout,
		raised:  make(chan struct{}),
		logger:  slog.Default().With("component", "shutdown"),
	}
}

// Raise sets the shutdown signal and wakes the consumer. Idempotent.
func (c *Coordinator) Raise() {
	c.once.Do(func() {
		c.logger.Info("shutdown requested, waking consumer")
		close(c.raised)
		c.target.Wakeup()
	})
}

// Raised reports whether shutdown has been requested.
func (c *Coordinator) Raised() bool {
	select {
	case <-c.raised:
		return true
	default:
		return false
	}
}

// Shutdown raises the signal and blocks until the loop has stopped, ctx is
// done, or the configured timeout expires.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Raise()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	select {
	case <-c.target.Done():
		c.logger.Info("relay loop stopped cleanly")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for relay loop to stop: %w", ctx.Err())
	}
}

// Watch blocks until either sigCtx is cancelled, in which case it performs
// Shutdown, or the loop stops on its own.
func (c *Coordinator) Watch(sigCtx context.Context) error {
	select {
	case <-sigCtx.Done():
		return c.Shutdown(context.Background())
	case <-c.target.Done():
		return nil
	}
}
