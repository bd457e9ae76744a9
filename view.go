package glbridge

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/visiona/glbridge/gpu"
	"github.com/visiona/glbridge/internal/gstpipe"
	"github.com/visiona/glbridge/internal/logging"
	"github.com/visiona/glbridge/mailbox"
	"github.com/visiona/glbridge/negotiate"
)

// TextureExtractor resolves a frame's GL texture for binding. Extraction
// runs on the consumer's render thread with its GL context current; the
// returned reference is only valid for the draw in progress.
type TextureExtractor interface {
	Extract(frame *Frame) (gpu.TextureRef, error)
}

// TextureBinder receives one texture for one draw. Implementations bind
// the texture into whatever the host is painting and must not retain the
// reference past the call.
type TextureBinder interface {
	Bind(ref gpu.TextureRef) error
}

// View is one consumer surface: a fan-out branch's mailbox plus the GPU
// context cell for that branch's GL sharing.
//
// Thread-safety: all methods are safe for concurrent use, but SetupRender
// and RenderTick are meant to run on the view's render thread with its GL
// context current.
type View struct {
	name      string
	box       *mailbox.Mailbox[*gstpipe.Frame]
	consumer  *gpu.ConsumerContext
	adapter   *gpu.Adapter
	extractor TextureExtractor

	hook       atomic.Pointer[func()]
	negotiated atomic.Pointer[negotiate.Resource]

	lastFrameNano atomic.Int64
	// emaGapNano is the smoothed inter-frame gap, written only by the
	// branch's streaming thread
	emaGapNano atomic.Int64
	drawn      atomic.Uint64
	skipped    atomic.Uint64
}

// Name returns the view identifier.
func (v *View) Name() string {
	return v.name
}

// OnFrame registers fn to run after every frame publish for this view.
// It runs on the pipeline's streaming thread, so it must be cheap and
// non-blocking; post a redraw request to the host event loop rather than
// rendering inline. Nil unregisters.
func (v *View) OnFrame(fn func()) {
	if fn == nil {
		v.hook.Store(nil)
		return
	}
	v.hook.Store(&fn)
}

// SetupRender materializes the view's GL context cell from the host's
// surface handles. Call it from the render thread once the surface is
// realized; calling again is a no-op, the first materialization wins for
// the bridge's lifetime.
func (v *View) SetupRender(h gpu.SurfaceHandles) error {
	return v.adapter.Materialize(h)
}

// RenderTick runs one draw tick: read the latest frame, extract its
// texture, hand it to binder for exactly one draw.
//
// Returns (false, nil) when there is nothing to draw, including an empty
// mailbox, a not-yet-materialized GL cell, or a frame whose texture could
// not be extracted; those cases are counted and logged, never escalated,
// so the host paints its background and carries on. A binder failure is
// the host's own draw failing and is returned.
func (v *View) RenderTick(binder TextureBinder) (bool, error) {
	frame, ok := v.box.Latest()
	if !ok {
		return false, nil
	}

	log := logging.Logger()

	if !v.consumer.Ready() {
		v.skipped.Add(1)
		log.Debug("glbridge: render tick before GPU setup, skipping frame",
			"view", v.name,
			"seq", frame.Seq,
		)
		return false, nil
	}

	ref, err := v.extractor.Extract(frame)
	if err != nil {
		v.skipped.Add(1)
		log.Debug("glbridge: frame extraction failed, skipping",
			"view", v.name,
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		return false, nil
	}

	if err := binder.Bind(ref); err != nil {
		return false, fmt.Errorf("glbridge: view %s: bind failed: %w", v.name, err)
	}

	v.drawn.Add(1)
	return true, nil
}

// TeardownRender detaches the view from its consumer surface: the redraw
// hook is unregistered and the mailbox is emptied so no stale frame is
// handed out afterwards. The GL context cell is not reset; a host that
// destroys and recreates its GL context needs a new bridge.
func (v *View) TeardownRender() {
	v.hook.Store(nil)
	v.box.Clear()
	logging.Logger().Debug("glbridge: view render teardown", "view", v.name)
}

// Negotiated returns the most recent GL resource delivered to this view
// through context negotiation, if any. Only populated under the default
// deliverer.
func (v *View) Negotiated() (negotiate.Resource, bool) {
	res := v.negotiated.Load()
	if res == nil {
		return negotiate.Resource{}, false
	}
	return *res, true
}

// notifyFrame runs on the streaming thread after every publish.
func (v *View) notifyFrame() {
	now := time.Now().UnixNano()
	prev := v.lastFrameNano.Swap(now)
	if gap := now - prev; prev != 0 && gap > 0 {
		ema := v.emaGapNano.Load()
		if ema == 0 {
			ema = gap
		} else {
			ema = (ema*7 + gap) / 8
		}
		v.emaGapNano.Store(ema)
	}
	if fn := v.hook.Load(); fn != nil {
		(*fn)()
	}
}

func (v *View) storeNegotiated(res negotiate.Resource) {
	v.negotiated.Store(&res)
}

func (v *View) stats() ViewStats {
	ms := v.box.Stats()
	s := ViewStats{
		Name:       v.name,
		Published:  ms.Publishes,
		Dropped:    ms.Drops,
		Drawn:      v.drawn.Load(),
		Skipped:    v.skipped.Load(),
		Occupied:   ms.Occupied,
		GPUReady:   v.consumer.Ready(),
		Negotiated: v.negotiated.Load() != nil,
	}
	if nano := v.lastFrameNano.Load(); nano != 0 {
		s.LastFrameAt = time.Unix(0, nano)
	}
	if ema := v.emaGapNano.Load(); ema > 0 {
		s.FPS = float64(time.Second) / float64(ema)
	}
	return s
}

// viewDeliverer is the default negotiation deliverer: it records the
// resource on the branch's view. Cheap enough for the bus-monitor thread.
type viewDeliverer struct {
	views map[string]*View
}

func (d *viewDeliverer) Deliver(branch string, res negotiate.Resource) error {
	v, ok := d.views[branch]
	if !ok {
		return fmt.Errorf("glbridge: no view for branch %q", branch)
	}
	v.storeNegotiated(res)
	return nil
}
