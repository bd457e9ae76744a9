package gstpipe

import (
	"testing"

	"github.com/go-gst/go-gst/gst"

	"github.com/visiona/glbridge/gpu"
	"github.com/visiona/glbridge/mailbox"
)

func requireGst(t *testing.T) {
	t.Helper()
	if err := CheckAvailable(); err != nil {
		t.Skipf("GStreamer not available: %v", err)
	}
}

func requireGstGL(t *testing.T) {
	t.Helper()
	requireGst(t)
	if err := CheckGLAvailable(); err != nil {
		t.Skipf("GStreamer GL plugins not available: %v", err)
	}
}

func testConfig() Config {
	return Config{
		URI: "file:///nonexistent/glbridge-build-test.mp4",
		Branches: []BranchSpec{
			{Name: "primary", Box: mailbox.New[*Frame]()},
			{Name: "preview", Box: mailbox.New[*Frame]()},
		},
		QueueDepth: 2,
	}
}

func TestBuildGraph(t *testing.T) {
	requireGstGL(t)

	p, err := Build(testConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer p.Destroy()

	if len(p.branches) != 2 {
		t.Fatalf("built %d branches, want 2", len(p.branches))
	}
	if p.branches[0].name != "primary" || p.branches[1].name != "preview" {
		t.Errorf("branch names = %q, %q", p.branches[0].name, p.branches[1].name)
	}

	// Four elements per branch, resolvable back to their branch name.
	if len(p.byElement) != 8 {
		t.Errorf("byElement has %d entries, want 8", len(p.byElement))
	}
	for _, b := range p.branches {
		sinkName := b.sink.Element.GetName()
		if got := p.branchFor(sinkName); got != b.name {
			t.Errorf("branchFor(%q) = %q, want %q", sinkName, got, b.name)
		}
	}
	if got := p.branchFor("no-such-element"); got != "" {
		t.Errorf("branchFor(no-such-element) = %q, want empty", got)
	}
}

func TestBuildBranchStats(t *testing.T) {
	requireGstGL(t)

	p, err := Build(testConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer p.Destroy()

	stats := p.BranchStats()
	if len(stats) != 2 {
		t.Fatalf("BranchStats returned %d entries, want 2", len(stats))
	}
	for i, name := range []string{"primary", "preview"} {
		s := stats[i]
		if s.Name != name {
			t.Errorf("stats[%d].Name = %q, want %q", i, s.Name, name)
		}
		if s.Published != 0 || s.Occupied || !s.LastFrameAt.IsZero() {
			t.Errorf("fresh branch %q has non-zero stats: %+v", name, s)
		}
	}
}

func TestDestroyIdempotent(t *testing.T) {
	requireGstGL(t)

	p, err := Build(testConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("first Destroy failed: %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("second Destroy failed: %v", err)
	}
}

func TestDestroyNilPipeline(t *testing.T) {
	var p *Pipeline
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy on nil pipeline returned %v", err)
	}
}

func TestBeginDrainOnce(t *testing.T) {
	requireGstGL(t)

	p, err := Build(testConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer p.Destroy()

	p.BeginDrain()
	if !p.Draining() {
		t.Error("Draining() = false after BeginDrain")
	}
	if p.BeginDrain() {
		t.Error("second BeginDrain returned true")
	}
}

func TestClearMailboxes(t *testing.T) {
	requireGstGL(t)

	p, err := Build(testConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer p.Destroy()

	p.branches[0].box.Publish(&Frame{Branch: "primary", Seq: 1})
	if !p.branches[0].box.Stats().Occupied {
		t.Fatal("mailbox not occupied after publish")
	}

	p.ClearMailboxes()
	for _, b := range p.branches {
		if b.box.Stats().Occupied {
			t.Errorf("branch %q mailbox still occupied after clear", b.name)
		}
	}
}

func TestParseVideoCapsNil(t *testing.T) {
	width, height, format, target := parseVideoCaps(nil)
	if width != 0 || height != 0 || format != "" {
		t.Errorf("parseVideoCaps(nil) = %d x %d %q", width, height, format)
	}
	if target != gpu.Target2D {
		t.Errorf("parseVideoCaps(nil) target = %s, want 2D", target)
	}
}

func TestParseVideoCapsGLMemory(t *testing.T) {
	requireGst(t)

	caps := gst.NewCapsFromString(
		"video/x-raw(memory:GLMemory), format=(string)RGBA, width=(int)1920, height=(int)1080, texture-target=(string)2D")
	width, height, format, target := parseVideoCaps(caps)

	if width != 1920 || height != 1080 {
		t.Errorf("parsed %d x %d, want 1920 x 1080", width, height)
	}
	if format != "RGBA" {
		t.Errorf("format = %q, want RGBA", format)
	}
	if target != gpu.Target2D {
		t.Errorf("target = %s, want 2D", target)
	}
}

func TestParseVideoCapsMissingFields(t *testing.T) {
	requireGst(t)

	caps := gst.NewCapsFromString("video/x-raw, width=(int)640, height=(int)480")
	width, height, format, target := parseVideoCaps(caps)

	if width != 640 || height != 480 {
		t.Errorf("parsed %d x %d, want 640 x 480", width, height)
	}
	if format != "" {
		t.Errorf("format = %q, want empty", format)
	}
	if target != gpu.Target2D {
		t.Errorf("target = %s, want 2D", target)
	}
}
