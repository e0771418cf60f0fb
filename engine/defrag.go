package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"blobbackend/logging"
)

// DefragState is the background compaction pass's current state,
// surfaced in the STAT reply alongside the required fs/record counters.
type DefragState string

const (
	DefragIdle    DefragState = "idle"
	DefragRunning DefragState = "running"
	DefragError   DefragState = "error"
)

// defragScheduler supervises the background defrag timer goroutine so
// Close can wait for it to exit rather than leaking it.
type defragScheduler struct {
	mu        sync.Mutex
	state     DefragState
	lastError error

	timeout   time.Duration
	splay     time.Duration
	percent   int
	logger    *logging.Logger

	group  *errgroup.Group
	cancel context.CancelFunc

	compact func(ctx context.Context) error
}

func newDefragScheduler(timeout, splay time.Duration, percent int, logger *logging.Logger, compact func(ctx context.Context) error) *defragScheduler {
	return &defragScheduler{
		state:   DefragIdle,
		timeout: timeout,
		splay:   splay,
		percent: percent,
		logger:  logger,
		compact: compact,
	}
}

// Run starts the background ticker. It is a no-op if timeout is zero
// (defrag disabled) or already running.
func (d *defragScheduler) Run(ctx context.Context) {
	if d.timeout <= 0 || d.group != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	d.cancel = cancel
	d.group = g

	g.Go(func() error {
		for {
			wait := d.timeout
			if d.splay > 0 {
				wait += time.Duration(rand.Int63n(int64(d.splay)))
			}
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(wait):
				d.runOnce(gctx)
			}
		}
	})
}

func (d *defragScheduler) runOnce(ctx context.Context) {
	d.mu.Lock()
	d.state = DefragRunning
	d.mu.Unlock()

	err := d.compact(ctx)

	d.mu.Lock()
	if err != nil {
		d.state = DefragError
		d.lastError = err
	} else {
		d.state = DefragIdle
		d.lastError = nil
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("engine", "defrag", "defrag pass failed", map[string]interface{}{"error": err.Error()})
	} else {
		d.logger.Info("engine", "defrag", "defrag pass completed", nil)
	}
}

// Start triggers an immediate out-of-band defrag pass, as when DEFRAG is
// dispatched without the STATUS flag.
func (d *defragScheduler) Start(ctx context.Context) {
	go d.runOnce(ctx)
}

// Status reports the current state.
func (d *defragScheduler) Status() DefragState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Close stops the background ticker and waits for it to exit.
func (d *defragScheduler) Close() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	return d.group.Wait()
}
