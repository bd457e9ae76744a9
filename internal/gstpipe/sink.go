package gstpipe

import (
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/google/uuid"

	"github.com/visiona/glbridge/internal/logging"
)

// onNewSample runs on the branch's streaming thread for every decoded
// frame. It pulls the sample, wraps it without copying pixel data, and
// publishes it to the branch mailbox. The sample keeps the GL memory
// alive until the mailbox overwrites or clears it.
//
// Always returns FlowOK: a bad sample is dropped and logged, never
// escalated, so one malformed frame cannot stop the stream.
func (b *branch) onNewSample(sink *app.Sink) gst.FlowReturn {
	log := logging.Logger()

	sample := sink.PullSample()
	if sample == nil {
		log.Warn("gstpipe: pulled nil sample", "branch", b.name)
		return gst.FlowOK
	}

	width, height, format, target := parseVideoCaps(sample.GetCaps())

	// PTS is best-effort; live and malformed streams may not stamp it.
	var pts time.Duration
	if buffer := sample.GetBuffer(); buffer != nil {
		if t := buffer.PresentationTimestamp(); t != gst.ClockTimeNone {
			pts = time.Duration(t)
		}
	}

	now := time.Now()
	frame := &Frame{
		Sample:    sample,
		Seq:       b.seq.Add(1),
		Timestamp: now,
		PTS:       pts,
		Width:     width,
		Height:    height,
		Format:    format,
		Target:    target,
		Branch:    b.name,
		TraceID:   uuid.New().String(),
	}

	if frame.Seq == 1 {
		log.Info("gstpipe: first frame",
			"branch", b.name,
			"width", width,
			"height", height,
			"format", format,
			"texture_target", target.String(),
		)
	}

	b.box.Publish(frame)
	b.lastFrameNano.Store(now.UnixNano())
	b.notify()

	return gst.FlowOK
}
