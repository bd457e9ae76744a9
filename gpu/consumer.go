package gpu

import (
	"fmt"
	"sync"

	"github.com/visiona/glbridge/internal/logging"
)

// ConsumerContext is the single-init cell holding one consumer surface's
// wrapped GL sharing state.
//
// Lifecycle:
//   - Created empty when the surface is declared, before the pipeline runs
//   - Populated exactly once, by Adapter.Materialize on the render thread
//   - Read-only afterwards; Snapshot is the only accessor other threads use
//   - Outlives pipeline rebuilds; never reset for the surface's lifetime
//
// Thread-safety: all methods lock, every critical section is O(1)
// assignments. Snapshot is called from the bus-monitor goroutine while the
// render thread may be populating; the lock makes that hand-off safe.
type ConsumerContext struct {
	mu        sync.Mutex
	ctx       Context
	display   Display
	populated bool
}

// NewConsumerContext returns an empty cell.
func NewConsumerContext() *ConsumerContext {
	return &ConsumerContext{}
}

// init populates the cell. Returns false when the cell was already
// populated, in which case the arguments are discarded.
func (c *ConsumerContext) init(ctx Context, display Display) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.populated {
		return false
	}
	c.ctx = ctx
	c.display = display
	c.populated = true
	return true
}

// Snapshot returns the wrapped context and display, and whether the cell
// has been populated. Safe to call from any goroutine at any time.
func (c *ConsumerContext) Snapshot() (Context, Display, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx, c.display, c.populated
}

// Ready reports whether the cell has been populated.
func (c *ConsumerContext) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.populated
}

// Adapter materializes one consumer surface's GL sharing state on demand.
//
// Materialize is the only write path into the ConsumerContext. It runs on
// the surface's render thread, inside the host's render-setup callback,
// where the native GL context is current.
type Adapter struct {
	branch   string
	consumer *ConsumerContext
	wrapper  Wrapper
}

// NewAdapter wires an adapter to its consumer cell and the host's wrapper.
func NewAdapter(branch string, consumer *ConsumerContext, wrapper Wrapper) (*Adapter, error) {
	if branch == "" {
		return nil, fmt.Errorf("gpu: adapter branch name is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("gpu: adapter consumer context is required")
	}
	if wrapper == nil {
		return nil, fmt.Errorf("gpu: adapter wrapper is required")
	}
	return &Adapter{branch: branch, consumer: consumer, wrapper: wrapper}, nil
}

// Materialize wraps the surface's native handles into pipeline-shareable
// GL objects and publishes them into the consumer cell.
//
// Idempotent: render-setup callbacks can fire more than once, so a call
// after the cell is populated is a logged no-op, not an error. The first
// call performs, in order: Wrap, Activate(true), FillInfo, publish. Any
// step failing aborts with a wrapped error and leaves the cell empty, so
// a later setup callback can retry.
func (a *Adapter) Materialize(h SurfaceHandles) error {
	log := logging.Logger()

	if a.consumer.Ready() {
		log.Debug("gpu: consumer context already materialized", "branch", a.branch)
		return nil
	}

	if h.Context == 0 {
		return fmt.Errorf("gpu: materialize %s: surface handles carry no native context", a.branch)
	}

	ctx, display, err := a.wrapper.Wrap(h)
	if err != nil {
		return fmt.Errorf("gpu: materialize %s: wrap native context: %w", a.branch, err)
	}
	if ctx == nil {
		return fmt.Errorf("gpu: materialize %s: wrapper returned nil context", a.branch)
	}

	if err := ctx.Activate(true); err != nil {
		return fmt.Errorf("gpu: materialize %s: activate wrapped context: %w", a.branch, err)
	}
	if err := ctx.FillInfo(); err != nil {
		return fmt.Errorf("gpu: materialize %s: fill context info: %w", a.branch, err)
	}

	if !a.consumer.init(ctx, display) {
		// Lost a setup/setup race; the first materialization stands.
		log.Debug("gpu: consumer context materialized concurrently, discarding duplicate",
			"branch", a.branch)
		return nil
	}

	log.Info("gpu: consumer context materialized",
		"branch", a.branch,
		"platform", h.Platform.String(),
		"api", h.API.String())
	return nil
}

// Branch returns the branch name this adapter serves.
func (a *Adapter) Branch() string { return a.branch }

// Consumer returns the cell this adapter populates.
func (a *Adapter) Consumer() *ConsumerContext { return a.consumer }
