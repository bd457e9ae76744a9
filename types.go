package glbridge

import (
	"fmt"
	"time"

	"github.com/visiona/glbridge/gpu"
	"github.com/visiona/glbridge/internal/gstpipe"
	"github.com/visiona/glbridge/negotiate"
)

// Frame is one decoded, GPU-resident video frame. Consumers borrow it for
// exactly one draw; the texture behind it is only guaranteed alive until
// the next mailbox overwrite is observed.
type Frame = gstpipe.Frame

// RecoveryConfig controls automatic pipeline rebuilds after fatal errors.
type RecoveryConfig = gstpipe.RecoveryConfig

// DefaultRecoveryConfig returns the recovery defaults: 5 rebuilds,
// exponential backoff from 1s capped at 30s.
func DefaultRecoveryConfig() RecoveryConfig {
	return gstpipe.DefaultRecoveryConfig()
}

// Config describes one bridge: a single media source fanned out to one or
// more GL consumer surfaces.
type Config struct {
	// URI is the media source (file://, https://, rtsp://, ...)
	URI string

	// Views declares the consumer surfaces, one fan-out branch each
	Views []ViewConfig

	// Wrapper adopts host GL handles into pipeline-usable contexts.
	// Required: the bridge never creates GL contexts of its own.
	Wrapper gpu.Wrapper

	// Extractor resolves a frame's GL texture for binding. Required.
	// It runs on render threads with the view's GL context current.
	Extractor TextureExtractor

	// Deliverer receives negotiated GL resources for a branch. Nil
	// installs the default, which records the resource on the branch's
	// View. Hosts that push contexts into pipeline elements themselves
	// supply their own.
	Deliverer negotiate.Deliverer

	// QueueDepth bounds each branch queue in buffers (default 2)
	QueueDepth int

	// DisableSync renders frames as fast as they decode instead of
	// synchronizing to the pipeline clock
	DisableSync bool

	// Recovery controls rebuild-on-error behavior. The zero value
	// means DefaultRecoveryConfig.
	Recovery RecoveryConfig
}

// ViewConfig declares one consumer surface.
type ViewConfig struct {
	// Name is the stable view identifier, unique within the bridge
	Name string
}

func (c Config) validate() error {
	if c.URI == "" {
		return fmt.Errorf("glbridge: URI is required")
	}
	if len(c.Views) == 0 {
		return fmt.Errorf("glbridge: at least one view is required")
	}
	seen := make(map[string]bool, len(c.Views))
	for _, vc := range c.Views {
		if vc.Name == "" {
			return fmt.Errorf("glbridge: view name is required")
		}
		if seen[vc.Name] {
			return fmt.Errorf("glbridge: duplicate view name %q", vc.Name)
		}
		seen[vc.Name] = true
	}
	if c.Wrapper == nil {
		return fmt.Errorf("glbridge: Wrapper is required")
	}
	if c.Extractor == nil {
		return fmt.Errorf("glbridge: Extractor is required")
	}
	return nil
}

// BridgeStats is a point-in-time snapshot of the whole bridge.
type BridgeStats struct {
	// Running reports whether the pipeline loop is alive
	Running bool
	// Uptime is the time since Start, zero before it
	Uptime time.Duration
	// Rebuilds counts pipeline rebuilds after fatal errors
	Rebuilds uint64
	// Errors tallies fatal errors by category
	Errors ErrorCounts
	// Negotiation aggregates context negotiation outcomes
	Negotiation negotiate.Stats
	// Views holds per-view snapshots in declaration order
	Views []ViewStats
}

// ViewStats is a point-in-time snapshot of one view.
type ViewStats struct {
	// Name is the view identifier
	Name string
	// Published counts frames published to the view's mailbox
	Published uint64
	// Dropped counts frames overwritten before any read
	Dropped uint64
	// Drawn counts render ticks that bound a texture
	Drawn uint64
	// Skipped counts render ticks that gave up on a present frame
	Skipped uint64
	// Occupied reports whether the mailbox currently holds a frame
	Occupied bool
	// GPUReady reports whether the view's GL context is materialized
	GPUReady bool
	// Negotiated reports whether a context negotiation reached this view
	Negotiated bool
	// LastFrameAt is when the view last received a frame, zero before
	// the first frame
	LastFrameAt time.Time
	// FPS is the smoothed frame arrival rate, zero until two frames
	// have arrived
	FPS float64
}

// ErrorCounts tallies fatal pipeline errors by classified category,
// accumulated across rebuilds.
type ErrorCounts struct {
	GPU         uint64
	Negotiation uint64
	Decode      uint64
	Network     uint64
	Unknown     uint64
}
