package glbridge

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visiona/glbridge/gpu"
	"github.com/visiona/glbridge/internal/gstpipe"
	"github.com/visiona/glbridge/mailbox"
	"github.com/visiona/glbridge/negotiate"
)

type fakeGLContext struct{}

func (f *fakeGLContext) Activate(bool) error { return nil }
func (f *fakeGLContext) FillInfo() error     { return nil }

type fakeWrapper struct{}

func (f *fakeWrapper) Wrap(h gpu.SurfaceHandles) (gpu.Context, gpu.Display, error) {
	return &fakeGLContext{}, "fake-display", nil
}

type fakeExtractor struct {
	err   error
	calls atomic.Int64
}

func (f *fakeExtractor) Extract(frame *Frame) (gpu.TextureRef, error) {
	f.calls.Add(1)
	if f.err != nil {
		return gpu.TextureRef{}, f.err
	}
	return gpu.TextureRef{
		ID:     uint32(frame.Seq),
		Target: frame.Target,
		Width:  frame.Width,
		Height: frame.Height,
	}, nil
}

type fakeBinder struct {
	err  error
	refs []gpu.TextureRef
}

func (f *fakeBinder) Bind(ref gpu.TextureRef) error {
	if f.err != nil {
		return f.err
	}
	f.refs = append(f.refs, ref)
	return nil
}

func newTestView(t *testing.T, name string) (*View, *fakeExtractor) {
	t.Helper()
	consumer := gpu.NewConsumerContext()
	adapter, err := gpu.NewAdapter(name, consumer, &fakeWrapper{})
	if err != nil {
		t.Fatalf("NewAdapter failed: %v", err)
	}
	ext := &fakeExtractor{}
	return &View{
		name:      name,
		box:       mailbox.New[*gstpipe.Frame](),
		consumer:  consumer,
		adapter:   adapter,
		extractor: ext,
	}, ext
}

func testHandles() gpu.SurfaceHandles {
	return gpu.SurfaceHandles{
		Context:  uintptr(0xBEEF),
		Display:  uintptr(0xCAFE),
		Platform: gpu.PlatformEGL,
		API:      gpu.APIGLES2,
	}
}

func testFrame(branch string, seq uint64) *Frame {
	return &Frame{
		Seq:    seq,
		Width:  640,
		Height: 480,
		Format: "RGBA",
		Target: gpu.Target2D,
		Branch: branch,
	}
}

func TestRenderTickEmpty(t *testing.T) {
	v, _ := newTestView(t, "primary")
	binder := &fakeBinder{}

	drawn, err := v.RenderTick(binder)
	if err != nil {
		t.Fatalf("RenderTick returned %v", err)
	}
	if drawn {
		t.Error("RenderTick drew with an empty mailbox")
	}
	if len(binder.refs) != 0 {
		t.Errorf("binder received %d refs, want 0", len(binder.refs))
	}
}

func TestRenderTickBeforeSetup(t *testing.T) {
	v, _ := newTestView(t, "primary")
	v.box.Publish(testFrame("primary", 1))

	drawn, err := v.RenderTick(&fakeBinder{})
	if err != nil {
		t.Fatalf("RenderTick returned %v", err)
	}
	if drawn {
		t.Error("RenderTick drew before GPU setup")
	}
	if got := v.stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
	// The frame stays for after setup.
	if !v.box.Stats().Occupied {
		t.Error("skipped frame was consumed")
	}
}

func TestRenderTickDraws(t *testing.T) {
	v, _ := newTestView(t, "primary")
	if err := v.SetupRender(testHandles()); err != nil {
		t.Fatalf("SetupRender failed: %v", err)
	}

	v.box.Publish(testFrame("primary", 7))
	binder := &fakeBinder{}

	drawn, err := v.RenderTick(binder)
	if err != nil {
		t.Fatalf("RenderTick returned %v", err)
	}
	if !drawn {
		t.Fatal("RenderTick did not draw")
	}
	if len(binder.refs) != 1 {
		t.Fatalf("binder received %d refs, want 1", len(binder.refs))
	}
	ref := binder.refs[0]
	if ref.ID != 7 || ref.Width != 640 || ref.Height != 480 {
		t.Errorf("bound ref = %+v", ref)
	}

	// A redraw reuses the same frame without consuming it.
	drawn, err = v.RenderTick(binder)
	if err != nil || !drawn {
		t.Fatalf("redraw tick = (%v, %v)", drawn, err)
	}
	if len(binder.refs) != 2 || binder.refs[1].ID != 7 {
		t.Errorf("redraw bound %+v", binder.refs)
	}
	if got := v.stats().Drawn; got != 2 {
		t.Errorf("Drawn = %d, want 2", got)
	}
}

func TestRenderTickLatestWins(t *testing.T) {
	v, _ := newTestView(t, "primary")
	if err := v.SetupRender(testHandles()); err != nil {
		t.Fatalf("SetupRender failed: %v", err)
	}

	for seq := uint64(1); seq <= 3; seq++ {
		v.box.Publish(testFrame("primary", seq))
	}

	binder := &fakeBinder{}
	drawn, err := v.RenderTick(binder)
	if err != nil || !drawn {
		t.Fatalf("RenderTick = (%v, %v)", drawn, err)
	}
	if binder.refs[0].ID != 3 {
		t.Errorf("bound frame %d, want 3 (latest)", binder.refs[0].ID)
	}
}

func TestRenderTickExtractionFailure(t *testing.T) {
	v, ext := newTestView(t, "primary")
	if err := v.SetupRender(testHandles()); err != nil {
		t.Fatalf("SetupRender failed: %v", err)
	}

	v.box.Publish(testFrame("primary", 1))
	ext.err = errors.New("sample has no GL memory")

	binder := &fakeBinder{}
	drawn, err := v.RenderTick(binder)
	if err != nil {
		t.Fatalf("extraction failure escalated: %v", err)
	}
	if drawn {
		t.Error("RenderTick drew a frame that failed extraction")
	}
	if got := v.stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}

	// The frame is still there once extraction recovers.
	ext.err = nil
	drawn, err = v.RenderTick(binder)
	if err != nil || !drawn {
		t.Fatalf("recovered tick = (%v, %v)", drawn, err)
	}
}

func TestRenderTickBindFailure(t *testing.T) {
	v, _ := newTestView(t, "primary")
	if err := v.SetupRender(testHandles()); err != nil {
		t.Fatalf("SetupRender failed: %v", err)
	}

	v.box.Publish(testFrame("primary", 1))

	bindErr := errors.New("surface lost")
	drawn, err := v.RenderTick(&fakeBinder{err: bindErr})
	if drawn {
		t.Error("RenderTick reported drawn despite bind failure")
	}
	if !errors.Is(err, bindErr) {
		t.Errorf("error %v does not wrap the bind error", err)
	}
	if got := v.stats().Drawn; got != 0 {
		t.Errorf("Drawn = %d, want 0", got)
	}
}

func TestSetupRenderIdempotent(t *testing.T) {
	v, _ := newTestView(t, "primary")
	if err := v.SetupRender(testHandles()); err != nil {
		t.Fatalf("first SetupRender failed: %v", err)
	}
	if err := v.SetupRender(testHandles()); err != nil {
		t.Fatalf("second SetupRender failed: %v", err)
	}
	if !v.stats().GPUReady {
		t.Error("GPUReady = false after setup")
	}
}

func TestTwoViewsNoCrossTalk(t *testing.T) {
	left, _ := newTestView(t, "left")
	right, _ := newTestView(t, "right")
	for _, v := range []*View{left, right} {
		if err := v.SetupRender(testHandles()); err != nil {
			t.Fatalf("SetupRender failed: %v", err)
		}
	}

	left.box.Publish(testFrame("left", 1))
	left.box.Publish(testFrame("left", 2))
	right.box.Publish(testFrame("right", 10))

	leftBinder, rightBinder := &fakeBinder{}, &fakeBinder{}
	if drawn, err := left.RenderTick(leftBinder); err != nil || !drawn {
		t.Fatalf("left tick = (%v, %v)", drawn, err)
	}
	if drawn, err := right.RenderTick(rightBinder); err != nil || !drawn {
		t.Fatalf("right tick = (%v, %v)", drawn, err)
	}

	if leftBinder.refs[0].ID != 2 {
		t.Errorf("left bound frame %d, want 2", leftBinder.refs[0].ID)
	}
	if rightBinder.refs[0].ID != 10 {
		t.Errorf("right bound frame %d, want 10", rightBinder.refs[0].ID)
	}

	ls, rs := left.stats(), right.stats()
	if ls.Published != 2 || rs.Published != 1 {
		t.Errorf("published = (%d, %d), want (2, 1)", ls.Published, rs.Published)
	}
}

func TestOnFrameHook(t *testing.T) {
	v, _ := newTestView(t, "primary")

	var fired atomic.Int64
	v.OnFrame(func() { fired.Add(1) })

	v.notifyFrame()
	if fired.Load() != 1 {
		t.Fatalf("hook fired %d times, want 1", fired.Load())
	}
	if v.stats().LastFrameAt.IsZero() {
		t.Error("LastFrameAt not set after notify")
	}

	v.OnFrame(nil)
	v.notifyFrame()
	if fired.Load() != 1 {
		t.Errorf("hook fired %d times after unregister, want 1", fired.Load())
	}
}

func TestFrameRateEstimate(t *testing.T) {
	v, _ := newTestView(t, "primary")

	if got := v.stats().FPS; got != 0 {
		t.Fatalf("FPS = %v before any frames, want 0", got)
	}

	v.notifyFrame()
	if got := v.stats().FPS; got != 0 {
		t.Fatalf("FPS = %v after a single frame, want 0", got)
	}

	time.Sleep(10 * time.Millisecond)
	v.notifyFrame()

	fps := v.stats().FPS
	if fps <= 0 {
		t.Fatalf("FPS = %v after two frames, want > 0", fps)
	}
	// A 10ms gap means at most ~100 fps, leave slack for coarse timers.
	if fps > 1000 {
		t.Errorf("FPS = %v, implausible for a 10ms frame gap", fps)
	}
}

func TestTeardownRender(t *testing.T) {
	v, _ := newTestView(t, "primary")
	if err := v.SetupRender(testHandles()); err != nil {
		t.Fatalf("SetupRender failed: %v", err)
	}

	var fired atomic.Int64
	v.OnFrame(func() { fired.Add(1) })
	v.box.Publish(testFrame("primary", 1))

	v.TeardownRender()

	drawn, err := v.RenderTick(&fakeBinder{})
	if err != nil || drawn {
		t.Errorf("tick after teardown = (%v, %v), want clean empty read", drawn, err)
	}
	v.notifyFrame()
	if fired.Load() != 0 {
		t.Errorf("hook fired %d times after teardown", fired.Load())
	}
	// The GL cell survives teardown; only the surface attachment resets.
	if !v.stats().GPUReady {
		t.Error("GPUReady lost on render teardown")
	}
}

func TestViewDelivererRecords(t *testing.T) {
	v, _ := newTestView(t, "primary")
	d := &viewDeliverer{views: map[string]*View{"primary": v}}

	res := negotiate.Resource{Kind: negotiate.KindDisplay, Display: "fake-display"}
	if err := d.Deliver("primary", res); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	got, ok := v.Negotiated()
	if !ok {
		t.Fatal("Negotiated() empty after delivery")
	}
	if got.Kind != negotiate.KindDisplay {
		t.Errorf("negotiated kind = %s", got.Kind)
	}
	if !v.stats().Negotiated {
		t.Error("stats.Negotiated = false after delivery")
	}

	if err := d.Deliver("stranger", res); err == nil {
		t.Error("Deliver to unknown view succeeded")
	}
}
