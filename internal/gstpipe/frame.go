package gstpipe

import (
	"time"

	"github.com/go-gst/go-gst/gst"

	"github.com/visiona/glbridge/gpu"
	"github.com/visiona/glbridge/internal/logging"
)

// Frame is one decoded, GPU-resident video frame as published to a branch
// mailbox.
//
// The pixel data never touches system memory here: Sample wraps the
// GL-memory buffer the pipeline decoded into. Ownership of the reference
// passes to the mailbox on publish; overwritten frames are released when
// the garbage collector drops the last Go reference. Consumers borrow the
// frame for one draw and must not hold texture handles past it.
type Frame struct {
	// Sample is the GPU-resident sample pulled from the branch appsink
	Sample *gst.Sample
	// Seq is the monotonic per-branch sequence number
	Seq uint64
	// Timestamp is when the frame was pulled from the sink
	Timestamp time.Time
	// PTS is the presentation timestamp relative to stream start,
	// zero when the buffer carries none
	PTS time.Duration
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format is the negotiated pixel format (e.g. "RGBA")
	Format string
	// Target is the GL texture target the frame's texture binds to
	Target gpu.TextureTarget
	// Branch identifies the fan-out branch that produced the frame
	Branch string
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// parseVideoCaps lifts frame metadata out of a sample's negotiated caps.
// Missing fields degrade to zero values rather than failing the stream;
// the consumer-side extractor surfaces genuinely unusable frames.
func parseVideoCaps(caps *gst.Caps) (width, height int, format string, target gpu.TextureTarget) {
	target = gpu.Target2D

	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, "", target
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return 0, 0, "", target
	}

	if v, err := structure.GetValue("width"); err == nil {
		if w, ok := v.(int); ok {
			width = w
		}
	}
	if v, err := structure.GetValue("height"); err == nil {
		if h, ok := v.(int); ok {
			height = h
		}
	}
	if v, err := structure.GetValue("format"); err == nil {
		if f, ok := v.(string); ok {
			format = f
		}
	}
	if v, err := structure.GetValue("texture-target"); err == nil {
		if s, ok := v.(string); ok {
			t, err := gpu.ParseTextureTarget(s)
			if err != nil {
				logging.Logger().Debug("gstpipe: unrecognized texture target in caps",
					"texture_target", s)
			} else {
				target = t
			}
		}
	}

	return width, height, format, target
}
