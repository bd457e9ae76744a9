// Package negotiate resolves out-of-band GL context requests from pipeline
// elements against the consumer surfaces that own the wrapped contexts.
//
// GL-capable elements discover their display and sharing context by asking
// upward while the pipeline prepares. Those requests surface on the
// pipeline's control bus; the Responder here answers them. It never blocks:
// a request that cannot be answered yet is dropped and the element asks
// again, which is the protocol's built-in retry.
package negotiate

import (
	"fmt"
	"sync/atomic"

	"github.com/visiona/glbridge/gpu"
	"github.com/visiona/glbridge/internal/logging"
)

// Context type strings used on the wire by GL elements.
const (
	// ContextTypeDisplay asks for the shared GL display
	ContextTypeDisplay = "gst.gl.GLDisplay"
	// ContextTypeApp asks for the application's wrapped GL context
	ContextTypeApp = "gst.gl.app_context"
)

// ResourceKind identifies which shared GL resource a request asks for.
type ResourceKind int

const (
	// KindUnknown is a context type this responder does not serve
	KindUnknown ResourceKind = iota
	// KindDisplay is the shared GL display
	KindDisplay
	// KindAppContext is the wrapped application GL context
	KindAppContext
)

// String returns the wire spelling of the kind
func (k ResourceKind) String() string {
	switch k {
	case KindDisplay:
		return ContextTypeDisplay
	case KindAppContext:
		return ContextTypeApp
	default:
		return "unknown"
	}
}

// ParseKind maps a wire context type to a ResourceKind. Unrecognized types
// map to KindUnknown, which the Responder passes through untouched.
func ParseKind(contextType string) ResourceKind {
	switch contextType {
	case ContextTypeDisplay:
		return KindDisplay
	case ContextTypeApp:
		return KindAppContext
	default:
		return KindUnknown
	}
}

// Request is one typed context request lifted off the control bus.
type Request struct {
	// Branch is the fan-out branch whose element issued the request,
	// resolved from structural identity at pipeline construction
	Branch string
	// Kind is the requested resource
	Kind ResourceKind
}

// Resource is a resolved request answer. Both wrapped objects travel
// together; Kind tells the deliverer which one the element asked for.
type Resource struct {
	// Kind echoes the request
	Kind ResourceKind
	// Context is the consumer's wrapped GL context
	Context gpu.Context
	// Display is the consumer's wrapped GL display
	Display gpu.Display
}

// Disposition reports what the responder did with a request.
type Disposition int

const (
	// Pass means the request was not ours; other handlers may serve it
	Pass Disposition = iota
	// Drop means ours but unanswerable right now; the element will retry
	Drop
	// Handled means resolved and delivered into the requesting element
	Handled
)

// String returns a human-readable string representation of the disposition
func (d Disposition) String() string {
	switch d {
	case Drop:
		return "drop"
	case Handled:
		return "handled"
	default:
		return "pass"
	}
}

// Deliverer pushes a resolved resource back into the branch that asked.
//
// Implemented by the host's pipeline integration. Deliver runs on the
// bus-monitor goroutine and must be cheap and non-blocking: setting a
// context on an element, nothing more.
type Deliverer interface {
	Deliver(branch string, res Resource) error
}

// Stats is a point-in-time snapshot of responder counters.
type Stats struct {
	// Handled counts requests resolved and delivered
	Handled uint64
	// Dropped counts requests seen before their consumer was ready,
	// plus delivery failures
	Dropped uint64
	// Passed counts requests for unknown branches or unknown kinds
	Passed uint64
}

// Responder answers context requests against per-branch consumer cells.
//
// The branch table is copied at construction and immutable afterwards;
// request handling involves no allocation and exactly one O(1) cell
// snapshot, so Respond is safe to call inline from the bus-monitor
// goroutine.
type Responder struct {
	branches map[string]*gpu.ConsumerContext
	deliver  Deliverer

	handled atomic.Uint64
	dropped atomic.Uint64
	passed  atomic.Uint64
}

// NewResponder builds a responder over the given branch table.
func NewResponder(branches map[string]*gpu.ConsumerContext, deliver Deliverer) (*Responder, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("negotiate: at least one branch is required")
	}
	if deliver == nil {
		return nil, fmt.Errorf("negotiate: deliverer is required")
	}

	table := make(map[string]*gpu.ConsumerContext, len(branches))
	for name, cell := range branches {
		if name == "" {
			return nil, fmt.Errorf("negotiate: branch with empty name")
		}
		if cell == nil {
			return nil, fmt.Errorf("negotiate: branch %q has nil consumer context", name)
		}
		table[name] = cell
	}

	return &Responder{branches: table, deliver: deliver}, nil
}

// Respond resolves one request and returns its disposition.
//
// Dispositions:
//   - Pass: unknown branch or unknown kind; not an error, logged and ignored
//   - Drop: consumer not materialized yet, or delivery failed; the element
//     re-requests later, so dropping never wedges the pipeline
//   - Handled: resource delivered synchronously into the branch
//
// Never blocks and never fails the pipeline.
func (r *Responder) Respond(req Request) Disposition {
	log := logging.Logger()

	cell, ok := r.branches[req.Branch]
	if !ok {
		r.passed.Add(1)
		log.Debug("negotiate: request from unrecognized branch, passing through",
			"branch", req.Branch,
			"kind", req.Kind.String())
		return Pass
	}

	if req.Kind == KindUnknown {
		r.passed.Add(1)
		log.Debug("negotiate: request for unserved context type, passing through",
			"branch", req.Branch)
		return Pass
	}

	ctx, display, ready := cell.Snapshot()
	if !ready {
		r.dropped.Add(1)
		log.Debug("negotiate: consumer context not ready, dropping request",
			"branch", req.Branch,
			"kind", req.Kind.String())
		return Drop
	}

	res := Resource{Kind: req.Kind, Context: ctx, Display: display}
	if err := r.deliver.Deliver(req.Branch, res); err != nil {
		r.dropped.Add(1)
		log.Warn("negotiate: context delivery failed",
			"branch", req.Branch,
			"kind", req.Kind.String(),
			"error", err)
		return Drop
	}

	r.handled.Add(1)
	log.Debug("negotiate: context request handled",
		"branch", req.Branch,
		"kind", req.Kind.String())
	return Handled
}

// Stats returns a snapshot of the responder counters.
func (r *Responder) Stats() Stats {
	return Stats{
		Handled: r.handled.Load(),
		Dropped: r.dropped.Load(),
		Passed:  r.passed.Load(),
	}
}
