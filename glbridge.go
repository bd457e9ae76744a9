package glbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"

	"github.com/visiona/glbridge/gpu"
	"github.com/visiona/glbridge/internal/gstpipe"
	"github.com/visiona/glbridge/internal/logging"
	"github.com/visiona/glbridge/mailbox"
	"github.com/visiona/glbridge/negotiate"
)

var (
	// ErrAlreadyStarted is returned by Start on a bridge that is already
	// running or was closed.
	ErrAlreadyStarted = errors.New("glbridge: already started")
	// ErrViewUnknown is returned by View for names not in the config.
	ErrViewUnknown = errors.New("glbridge: unknown view")
)

const (
	// startTimeout bounds how long Start waits for PLAYING before
	// handing off to the background loop.
	startTimeout = 5 * time.Second
	// drainTimeout bounds how long Close waits for the EOS drain.
	drainTimeout = 3 * time.Second
)

// Bridge fans one decoded media stream out to GL consumer surfaces. It
// owns the pipeline and its lifecycle; consumers interact through their
// View.
type Bridge struct {
	cfg       Config
	recovery  RecoveryConfig
	views     map[string]*View
	viewOrder []*View
	responder *negotiate.Responder

	recoveryState gstpipe.RecoveryState
	rebuilds      atomic.Uint64
	startedNano   atomic.Int64

	errGPU         atomic.Uint64
	errNegotiation atomic.Uint64
	errDecode      atomic.Uint64
	errNetwork     atomic.Uint64
	errUnknown     atomic.Uint64

	started atomic.Bool
	closing atomic.Bool

	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}

	mu       sync.Mutex
	pipeline *gstpipe.Pipeline
	cancel   context.CancelFunc
	runErr   error
}

// New validates the config and the GStreamer installation and prepares
// the views. The pipeline is not built until Start.
func New(cfg Config) (*Bridge, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := gstpipe.CheckAvailable(); err != nil {
		return nil, fmt.Errorf("glbridge: %w", err)
	}
	if err := gstpipe.CheckGLAvailable(); err != nil {
		return nil, fmt.Errorf("glbridge: %w", err)
	}

	recovery := cfg.Recovery
	if recovery == (RecoveryConfig{}) {
		recovery = DefaultRecoveryConfig()
	}

	b := &Bridge{
		cfg:      cfg,
		recovery: recovery,
		views:    make(map[string]*View, len(cfg.Views)),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}

	branchTable := make(map[string]*gpu.ConsumerContext, len(cfg.Views))
	for _, vc := range cfg.Views {
		consumer := gpu.NewConsumerContext()
		adapter, err := gpu.NewAdapter(vc.Name, consumer, cfg.Wrapper)
		if err != nil {
			return nil, fmt.Errorf("glbridge: view %s: %w", vc.Name, err)
		}
		v := &View{
			name:      vc.Name,
			box:       mailbox.New[*gstpipe.Frame](),
			consumer:  consumer,
			adapter:   adapter,
			extractor: cfg.Extractor,
		}
		b.views[vc.Name] = v
		b.viewOrder = append(b.viewOrder, v)
		branchTable[vc.Name] = consumer
	}

	deliverer := cfg.Deliverer
	if deliverer == nil {
		deliverer = &viewDeliverer{views: b.views}
	}

	responder, err := negotiate.NewResponder(branchTable, deliverer)
	if err != nil {
		return nil, fmt.Errorf("glbridge: %w", err)
	}
	b.responder = responder

	logging.Logger().Debug("glbridge: bridge created",
		"uri", cfg.URI,
		"views", len(cfg.Views),
	)

	return b, nil
}

// Start builds the pipeline, wires every branch, and starts playback with
// automatic rebuild-on-error. Construction failures are returned directly
// and leave the bridge startable again.
//
// Start waits briefly for the pipeline to reach PLAYING so early fatal
// errors (bad URI, missing plugins) surface here; a slow source hands off
// to the background loop with a warning instead of blocking the caller.
// ctx governs the whole playback lifetime.
func (b *Bridge) Start(ctx context.Context) error {
	log := logging.Logger()

	b.mu.Lock()
	if b.started.Load() || b.closing.Load() {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}

	p, err := b.buildPipeline()
	if err != nil {
		b.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.pipeline = p
	b.cancel = cancel
	b.started.Store(true)
	b.startedNano.Store(time.Now().UnixNano())
	b.mu.Unlock()

	go b.run(runCtx)

	select {
	case <-b.ready:
		log.Info("glbridge: playing", "uri", b.cfg.URI, "views", len(b.viewOrder))
		return nil
	case <-b.done:
		if err := b.takeRunErr(); err != nil {
			return err
		}
		log.Info("glbridge: stream ended during startup")
		return nil
	case <-runCtx.Done():
		return runCtx.Err()
	case <-time.After(startTimeout):
		log.Warn("glbridge: not playing yet, continuing in background",
			"uri", b.cfg.URI,
			"waited", startTimeout,
		)
		return nil
	}
}

// run is the playback loop goroutine: one session per pipeline, rebuilt
// with backoff after fatal errors, until clean EOS or cancellation.
func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	log := logging.Logger()

	err := gstpipe.RunWithRecovery(ctx, b.session, b.recovery, &b.recoveryState)

	b.mu.Lock()
	b.runErr = err
	p := b.pipeline
	b.pipeline = nil
	b.mu.Unlock()

	if p != nil {
		if derr := p.Destroy(); derr != nil {
			log.Warn("glbridge: final pipeline teardown failed", "error", derr)
		}
	}

	// Only now, with every sink at NULL, empty the mailboxes so render
	// ticks wind down on clean empty reads instead of stale frames.
	for _, v := range b.viewOrder {
		v.box.Clear()
	}

	switch {
	case err == nil:
		log.Info("glbridge: stream ended")
	case errors.Is(err, context.Canceled):
		log.Info("glbridge: stopped")
	default:
		log.Error("glbridge: playback failed", "error", err)
	}
}

// session runs one pipeline from PLAYING to its end. The bus monitor is
// pumping before the state change so no preroll negotiation is missed.
func (b *Bridge) session(ctx context.Context) error {
	log := logging.Logger()

	p := b.currentPipeline()
	if p == nil {
		var err error
		p, err = b.buildPipeline()
		if err != nil {
			err = fmt.Errorf("glbridge: rebuild failed: %w", err)
			b.recordFailure(err)
			return err
		}
		b.setPipeline(p)
		b.rebuilds.Add(1)
		log.Info("glbridge: pipeline rebuilt", "rebuilds", b.rebuilds.Load())
	}

	sctx, scancel := context.WithCancel(ctx)
	defer scancel()

	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- p.Monitor(sctx, b.responder, b.onPlaying)
	}()

	if err := p.SetPlaying(); err != nil {
		scancel()
		<-monitorErr
		b.teardownSession(p)
		b.recordFailure(err)
		return err
	}

	err := <-monitorErr
	b.recordFailure(err)

	for _, s := range p.BranchStats() {
		log.Debug("glbridge: branch session stats",
			"branch", s.Name,
			"published", s.Published,
			"dropped", s.Dropped,
			"occupied", s.Occupied,
		)
	}

	b.teardownSession(p)
	return err
}

func (b *Bridge) teardownSession(p *gstpipe.Pipeline) {
	if err := p.Destroy(); err != nil {
		logging.Logger().Warn("glbridge: pipeline teardown failed", "error", err)
	}
	b.setPipeline(nil)
}

// recordFailure tallies a fatal session error by classified category.
// Cancellation is shutdown, not failure.
func (b *Bridge) recordFailure(err error) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	category := gstpipe.ErrorCategoryUnknown
	var perr *gstpipe.PipelineError
	if errors.As(err, &perr) {
		category = perr.Category
	}
	switch category {
	case gstpipe.ErrorCategoryGPU:
		b.errGPU.Add(1)
	case gstpipe.ErrorCategoryNegotiation:
		b.errNegotiation.Add(1)
	case gstpipe.ErrorCategoryDecode:
		b.errDecode.Add(1)
	case gstpipe.ErrorCategoryNetwork:
		b.errNetwork.Add(1)
	default:
		b.errUnknown.Add(1)
	}
}

// onPlaying runs on the monitor goroutine whenever a pipeline reaches
// PLAYING: the rebuild budget resets and Start's readiness wait releases.
func (b *Bridge) onPlaying() {
	b.recoveryState.Reset()
	b.readyOnce.Do(func() { close(b.ready) })
}

// buildPipeline assembles a fresh pipeline generation over the views'
// persistent mailboxes.
func (b *Bridge) buildPipeline() (*gstpipe.Pipeline, error) {
	specs := make([]gstpipe.BranchSpec, 0, len(b.viewOrder))
	for _, v := range b.viewOrder {
		specs = append(specs, gstpipe.BranchSpec{
			Name:   v.name,
			Box:    v.box,
			Notify: v.notifyFrame,
		})
	}
	return gstpipe.Build(gstpipe.Config{
		URI:        b.cfg.URI,
		Branches:   specs,
		QueueDepth: b.cfg.QueueDepth,
		Sync:       !b.cfg.DisableSync,
	})
}

// Close drains the pipeline through EOS and tears it down. Blocks until
// teardown finished or the drain timeout forced it. Idempotent; safe to
// call on a bridge that never started.
func (b *Bridge) Close() error {
	if !b.closing.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	started := b.started.Load()
	if !started {
		// Start can no longer succeed (closing is set), so the loop
		// will never own this channel.
		close(b.done)
	}
	b.mu.Unlock()
	if !started {
		return nil
	}

	log := logging.Logger()
	log.Info("glbridge: closing")

	if p := b.currentPipeline(); p != nil {
		p.BeginDrain()
	}

	select {
	case <-b.done:
	case <-time.After(drainTimeout):
		log.Warn("glbridge: drain timed out, forcing teardown", "waited", drainTimeout)
		b.cancelRun()
		<-b.done
	}
	b.cancelRun()

	if err := b.takeRunErr(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Done returns a channel closed once the playback loop has fully stopped:
// after clean end of stream, exhausted recovery, cancellation, or a Close
// on a bridge that never started.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the playback loop's terminal error. It is nil until Done is
// closed, and stays nil after a clean end of stream.
func (b *Bridge) Err() error {
	select {
	case <-b.done:
		return b.takeRunErr()
	default:
		return nil
	}
}

// View returns the named consumer surface.
func (b *Bridge) View(name string) (*View, error) {
	v, ok := b.views[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrViewUnknown, name)
	}
	return v, nil
}

// Stats snapshots the bridge and every view.
func (b *Bridge) Stats() BridgeStats {
	s := BridgeStats{
		Running:  b.running(),
		Rebuilds: b.rebuilds.Load(),
		Errors: ErrorCounts{
			GPU:         b.errGPU.Load(),
			Negotiation: b.errNegotiation.Load(),
			Decode:      b.errDecode.Load(),
			Network:     b.errNetwork.Load(),
			Unknown:     b.errUnknown.Load(),
		},
		Negotiation: b.responder.Stats(),
	}
	if nano := b.startedNano.Load(); nano != 0 {
		s.Uptime = time.Since(time.Unix(0, nano))
	}
	for _, v := range b.viewOrder {
		s.Views = append(s.Views, v.stats())
	}
	return s
}

func (b *Bridge) running() bool {
	if !b.started.Load() {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *Bridge) currentPipeline() *gstpipe.Pipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pipeline
}

func (b *Bridge) setPipeline(p *gstpipe.Pipeline) {
	b.mu.Lock()
	b.pipeline = p
	b.mu.Unlock()
}

func (b *Bridge) cancelRun() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Bridge) takeRunErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runErr
}

// Init makes GStreamer initialization explicit for hosts that want to
// control when it happens (it is otherwise performed lazily by New).
func Init() {
	gst.Init(nil)
}
