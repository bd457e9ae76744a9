// Package gstpipe owns the GStreamer side of the bridge: building the
// decode/fan-out graph, pumping decoded GL frames into per-branch
// mailboxes, answering the control bus, and driving the pipeline through
// its state transitions.
//
// Graph shape:
//
//	uridecodebin → videoconvert → tee → (per branch)
//	    queue → glupload → glcolorconvert → appsink
//
// Every branch appsink negotiates GL memory (RGBA, 2D texture target), so
// decoded pixels stay on the GPU end to end. The branch's wrapped GL
// context reaches its elements through need-context negotiation on the
// bus, answered by the negotiate.Responder the monitor is given.
package gstpipe

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/visiona/glbridge/internal/logging"
	"github.com/visiona/glbridge/mailbox"
)

// glMemoryCaps is the appsink caps string: GPU-resident RGBA frames bound
// to plain 2D textures, the one layout every consumer surface can draw.
const glMemoryCaps = "video/x-raw(memory:GLMemory),format=RGBA,texture-target=2D"

// defaultQueueDepth bounds each branch queue in buffers.
const defaultQueueDepth = 2

// Config describes one pipeline build.
type Config struct {
	// URI is the media source (file://, https://, rtsp://, ...)
	URI string
	// Branches declares the fan-out, one entry per consumer surface
	Branches []BranchSpec
	// QueueDepth bounds each branch queue in buffers (default 2)
	QueueDepth int
	// Sync synchronizes the sinks against the pipeline clock for
	// on-time playback; false renders as fast as frames decode
	Sync bool
}

// BranchSpec wires one fan-out branch to its consumer-side endpoints.
type BranchSpec struct {
	// Name is the stable branch identifier
	Name string
	// Box receives every decoded frame of this branch
	Box *mailbox.Mailbox[*Frame]
	// Notify is invoked after each publish, from the streaming thread.
	// Used by consumers to request a redraw. Nil means no notification.
	Notify func()
}

// branch holds one fan-out path and its counters.
type branch struct {
	name    string
	queue   *gst.Element
	upload  *gst.Element
	convert *gst.Element
	sink    *app.Sink

	box    *mailbox.Mailbox[*Frame]
	notify func()

	seq           atomic.Uint64
	lastFrameNano atomic.Int64
}

// Pipeline is one built media graph. Construction leaves it in the NULL
// state with all callbacks wired; SetPlaying starts it, Monitor follows
// its bus, BeginDrain/Destroy tear it down.
type Pipeline struct {
	pipeline *gst.Pipeline
	decode   *gst.Element
	convert  *gst.Element
	tee      *gst.Element
	branches []*branch

	// byElement maps auto-assigned element names to branch names,
	// captured at construction so bus messages resolve to branches by
	// structural identity rather than arrival order.
	byElement map[string]string

	videoLinked atomic.Bool
	draining    atomic.Bool
	destroyed   atomic.Bool
}

// Build constructs the full graph for cfg, wires sink callbacks and the
// dynamic decoder pad, and returns the pipeline in the NULL state.
//
// Any element creation or link failure aborts the build; the error is
// returned and the never-started graph is left for release. Nothing is
// wired lazily later: after Build returns, no structural mutation happens.
func Build(cfg Config) (*Pipeline, error) {
	gst.Init(nil)

	log := logging.Logger()

	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create pipeline: %w", err)
	}

	decode, err := gst.NewElement("uridecodebin")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create uridecodebin: %w", err)
	}
	decode.SetProperty("uri", cfg.URI)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create videoconvert: %w", err)
	}

	tee, err := gst.NewElement("tee")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create tee: %w", err)
	}

	p := &Pipeline{
		pipeline:  pipeline,
		decode:    decode,
		convert:   convert,
		tee:       tee,
		byElement: make(map[string]string),
	}

	if err := pipeline.AddMany(decode, convert, tee); err != nil {
		return nil, fmt.Errorf("gstpipe: failed to add shared elements: %w", err)
	}

	// Shared stage: decoded frames normalized once, then teed out.
	// uridecodebin has dynamic pads, linked in the pad-added callback.
	if err := convert.Link(tee); err != nil {
		return nil, fmt.Errorf("gstpipe: failed to link videoconvert to tee: %w", err)
	}

	for _, spec := range cfg.Branches {
		b, err := p.buildBranch(spec, queueDepth, cfg.Sync)
		if err != nil {
			return nil, err
		}
		p.branches = append(p.branches, b)
	}

	p.decode.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		p.onPadAdded(pad)
	})

	log.Info("gstpipe: pipeline built",
		"uri", cfg.URI,
		"branches", len(cfg.Branches),
		"queue_depth", queueDepth,
		"sync", cfg.Sync,
	)

	return p, nil
}

// buildBranch creates, adds, links and wires one fan-out branch.
func (p *Pipeline) buildBranch(spec BranchSpec, queueDepth int, sync bool) (*branch, error) {
	queue, err := gst.NewElement("queue")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to create queue: %w", spec.Name, err)
	}
	queue.SetProperty("max-size-buffers", queueDepth)
	queue.SetProperty("max-size-bytes", 0)
	queue.SetProperty("max-size-time", uint64(0))
	queue.SetProperty("leaky", 2) // drop oldest, a stalled consumer never stalls the tee

	upload, err := gst.NewElement("glupload")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to create glupload: %w", spec.Name, err)
	}

	glconvert, err := gst.NewElement("glcolorconvert")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to create glcolorconvert: %w", spec.Name, err)
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to create appsink: %w", spec.Name, err)
	}
	sink.SetProperty("caps", gst.NewCapsFromString(glMemoryCaps))
	sink.SetProperty("sync", sync)
	sink.SetProperty("max-buffers", 1) // keep only the latest frame
	sink.SetProperty("drop", true)
	sink.SetProperty("enable-last-sample", false) // the mailbox is the last-sample store
	sink.SetProperty("qos", true)

	if err := p.pipeline.AddMany(queue, upload, glconvert, sink.Element); err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to add elements: %w", spec.Name, err)
	}

	// tee auto-requests a new src pad per link.
	if err := p.tee.Link(queue); err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to link tee to queue: %w", spec.Name, err)
	}
	if err := queue.Link(upload); err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to link queue to glupload: %w", spec.Name, err)
	}
	if err := upload.Link(glconvert); err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to link glupload to glcolorconvert: %w", spec.Name, err)
	}
	if err := glconvert.Link(sink.Element); err != nil {
		return nil, fmt.Errorf("gstpipe: branch %s: failed to link glcolorconvert to appsink: %w", spec.Name, err)
	}

	notify := spec.Notify
	if notify == nil {
		notify = func() {}
	}

	b := &branch{
		name:    spec.Name,
		queue:   queue,
		upload:  upload,
		convert: glconvert,
		sink:    sink,
		box:     spec.Box,
		notify:  notify,
	}

	// Capture the auto-assigned element names so bus messages resolve to
	// this branch by structural identity.
	for _, el := range []*gst.Element{queue, upload, glconvert, sink.Element} {
		p.byElement[el.GetName()] = spec.Name
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return b.onNewSample(s)
		},
	})

	return b, nil
}

// onPadAdded links the decoder's first video pad into the shared stage.
// Audio and subtitle pads are ignored.
func (p *Pipeline) onPadAdded(pad *gst.Pad) {
	log := logging.Logger()

	if !isVideoPad(pad) {
		log.Debug("gstpipe: ignoring non-video decoder pad", "pad", pad.GetName())
		return
	}

	if !p.videoLinked.CompareAndSwap(false, true) {
		log.Debug("gstpipe: video already linked, ignoring extra pad", "pad", pad.GetName())
		return
	}

	sinkPad := p.convert.GetStaticPad("sink")
	if sinkPad == nil {
		log.Error("gstpipe: failed to get videoconvert sink pad")
		p.videoLinked.Store(false)
		return
	}

	if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
		log.Error("gstpipe: failed to link decoder pad",
			"pad", pad.GetName(),
			"ret", ret,
		)
		p.videoLinked.Store(false)
		return
	}

	log.Debug("gstpipe: decoder video pad linked", "pad", pad.GetName())
}

// isVideoPad reports whether a freshly exposed decoder pad carries video.
func isVideoPad(pad *gst.Pad) bool {
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return false
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return false
	}
	return strings.HasPrefix(structure.Name(), "video/")
}

// SetPlaying asks the pipeline for the PLAYING state. The transition is
// asynchronous; completion and failures surface on the bus, so the
// monitor must already be running when this is called.
func (p *Pipeline) SetPlaying() error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstpipe: failed to start pipeline: %w", err)
	}
	return nil
}

// BeginDrain marks the pipeline draining and injects EOS so queued frames
// flush through the sinks before teardown. Returns false when the event
// could not be sent (or a drain already started); callers then fall back
// to their teardown timeout.
func (p *Pipeline) BeginDrain() bool {
	if !p.draining.CompareAndSwap(false, true) {
		return false
	}
	if !p.pipeline.SendEvent(gst.NewEOSEvent()) {
		logging.Logger().Warn("gstpipe: pipeline refused EOS event, skipping drain")
		return false
	}
	logging.Logger().Debug("gstpipe: drain started, awaiting EOS")
	return true
}

// Draining reports whether BeginDrain has been called.
func (p *Pipeline) Draining() bool {
	return p.draining.Load()
}

// Destroy sets the pipeline to NULL, releasing its resources. Idempotent
// and safe to call on an already stopped pipeline.
func (p *Pipeline) Destroy() error {
	if p == nil || p.pipeline == nil {
		return nil
	}
	if !p.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstpipe: failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// ClearMailboxes empties every branch mailbox. Called after the pipeline
// reached NULL so consumers wind down on empty reads instead of redrawing
// a frame whose backing memory is gone.
func (p *Pipeline) ClearMailboxes() {
	for _, b := range p.branches {
		b.box.Clear()
	}
}

// Name returns the pipeline's bus source name.
func (p *Pipeline) Name() string {
	return p.pipeline.GetName()
}

// branchFor resolves a bus message source to a branch name. The empty
// string means the element belongs to no fan-out branch.
func (p *Pipeline) branchFor(elementName string) string {
	return p.byElement[elementName]
}

// BranchStats is a point-in-time snapshot of one branch's counters.
type BranchStats struct {
	// Name is the branch identifier
	Name string
	// Published counts frames published to the mailbox
	Published uint64
	// Dropped counts frames overwritten before any read
	Dropped uint64
	// ConsecutiveDrops is the current unread-overwrite streak
	ConsecutiveDrops uint64
	// Occupied reports whether the mailbox currently holds a frame
	Occupied bool
	// LastFrameAt is when the branch last published, zero before the
	// first frame
	LastFrameAt time.Time
}

// BranchStats snapshots every branch in declaration order.
func (p *Pipeline) BranchStats() []BranchStats {
	out := make([]BranchStats, 0, len(p.branches))
	for _, b := range p.branches {
		ms := b.box.Stats()
		s := BranchStats{
			Name:             b.name,
			Published:        ms.Publishes,
			Dropped:          ms.Drops,
			ConsecutiveDrops: ms.ConsecutiveDrops,
			Occupied:         ms.Occupied,
		}
		if nano := b.lastFrameNano.Load(); nano != 0 {
			s.LastFrameAt = time.Unix(0, nano)
		}
		out = append(out, s)
	}
	return out
}

// CheckAvailable verifies a working GStreamer installation. Fail-fast
// validation for constructors.
func CheckAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	return nil
}

// CheckGLAvailable verifies the GStreamer GL elements the fan-out needs.
// Fail-fast validation for constructors.
func CheckGLAvailable() error {
	gst.Init(nil)

	for _, name := range []string{"glupload", "glcolorconvert"} {
		elem, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("%s not available (install the GStreamer GL plugins): %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}

	return nil
}
