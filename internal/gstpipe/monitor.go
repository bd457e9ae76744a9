package gstpipe

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gst/go-gst/gst"

	"github.com/visiona/glbridge/internal/logging"
	"github.com/visiona/glbridge/negotiate"
)

// PipelineError is a fatal error posted on the pipeline bus, carrying
// its classification for recovery decisions.
type PipelineError struct {
	// Category is the classified failure domain
	Category ErrorCategory
	// Source names the element that posted the error
	Source string
	// Message is the error text
	Message string
	// Debug is the detailed debug string, may be empty
	Debug string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("gstpipe: pipeline error from %s (%s): %s", e.Source, e.Category, e.Message)
}

// Monitor follows the pipeline bus until the context is canceled, EOS
// arrives (nil), or a fatal error is posted (*PipelineError).
//
// It must be running before SetPlaying: GL elements post need-context
// queries during preroll, and an unattended bus loses them.
//
// responder answers need-context messages synchronously on this
// goroutine, so delivery must stay cheap. onPlaying fires each time the
// pipeline itself reaches PLAYING.
func (p *Pipeline) Monitor(ctx context.Context, responder *negotiate.Responder, onPlaying func()) error {
	log := logging.Logger()
	bus := p.pipeline.GetPipelineBus()

	log.Debug("gstpipe: bus monitor started", "pipeline", p.Name())

	for {
		select {
		case <-ctx.Done():
			log.Debug("gstpipe: bus monitor stopping, context canceled")
			return ctx.Err()
		default:
		}

		msg := bus.TimedPop(gst.ClockTime(50 * time.Millisecond))
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageNeedContext:
			p.onNeedContext(msg, responder)

		case gst.MessageEOS:
			if p.Draining() {
				log.Info("gstpipe: EOS reached, drain complete")
			} else {
				log.Info("gstpipe: end of stream")
			}
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			perr := &PipelineError{
				Category: classifyError(gerr),
				Source:   msg.Source(),
				Message:  gerr.Error(),
				Debug:    gerr.DebugString(),
			}
			log.Error("gstpipe: pipeline error",
				"source", perr.Source,
				"category", perr.Category.String(),
				"error", perr.Message,
				"debug", perr.Debug,
			)
			return perr

		case gst.MessageWarning:
			werr := msg.ParseWarning()
			log.Warn("gstpipe: pipeline warning",
				"source", msg.Source(),
				"warning", werr.Error(),
			)

		case gst.MessageStateChanged:
			if msg.Source() != p.Name() {
				continue
			}
			old, next := msg.ParseStateChanged()
			log.Debug("gstpipe: pipeline state changed",
				"old", old.String(),
				"new", next.String(),
			)
			if next == gst.StatePlaying && onPlaying != nil {
				onPlaying()
			}
		}
	}
}

// onNeedContext translates one need-context bus message into a typed
// request for the responder. A message that cannot be translated is left
// unanswered and falls through to GStreamer's own context machinery,
// same as a responder pass.
func (p *Pipeline) onNeedContext(msg *gst.Message, responder *negotiate.Responder) {
	log := logging.Logger()

	source := msg.Source()

	structure := msg.GetStructure()
	if structure == nil {
		log.Debug("gstpipe: need-context without structure", "source", source)
		return
	}
	value, err := structure.GetValue("context-type")
	if err != nil {
		log.Debug("gstpipe: need-context without context-type", "source", source)
		return
	}
	contextType, ok := value.(string)
	if !ok {
		log.Debug("gstpipe: need-context with non-string context-type", "source", source)
		return
	}

	branchName := p.branchFor(source)
	if branchName == "" {
		// Requester outside the fan-out map. Hand the raw element name
		// to the responder, which logs it and passes.
		branchName = source
	}

	req := negotiate.Request{
		Branch: branchName,
		Kind:   negotiate.ParseKind(contextType),
	}

	disposition := responder.Respond(req)
	log.Debug("gstpipe: need-context answered",
		"source", source,
		"branch", branchName,
		"context_type", contextType,
		"disposition", disposition.String(),
	)
}
