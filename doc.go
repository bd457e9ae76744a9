// Package glbridge fans one decoded video stream out to multiple GL
// consumer surfaces, keeping every frame on the GPU from decoder to draw.
//
// # Philosophy
//
// "The host owns the GL contexts. The bridge only borrows them."
//
// glbridge never creates windows, surfaces or GL contexts. The host
// application realizes its surfaces, hands their native handles to the
// bridge, and the bridge wires GStreamer's GL stack into them so decoded
// frames arrive as ready-to-bind textures. Between decoder and draw sits
// a single-slot mailbox per surface: latest frame wins, a slow consumer
// drops frames instead of growing a queue, and a fast consumer redraws
// the same frame without consuming it.
//
// # Design Principles
//
//  1. Latest frame only: single-slot overwrite mailboxes, no queueing
//  2. Non-destructive reads: redraws and resizes reuse the current frame
//  3. Materialize once: each view's GL context wraps exactly once, on the
//     render thread, lazily at first setup
//  4. Never block the bus: context negotiation answers synchronously or
//     not at all (pass or drop, both recoverable)
//  5. Frames are borrowed: a texture is valid for one draw, ownership
//     stays with the pipeline
//
// # Architecture
//
// One pipeline, one branch per view:
//
//	uridecodebin → videoconvert → tee → queue → glupload → glcolorconvert → appsink → [mailbox] → View
//	                                  → queue → glupload → glcolorconvert → appsink → [mailbox] → View
//
// The bus monitor answers each branch's GL context negotiation from that
// view's materialized context, so branches never share consumer GL state.
// Fatal pipeline errors tear the generation down and rebuild it with
// backoff; the mailboxes and GL context cells persist across rebuilds.
//
// # Basic Usage
//
// Construction and playback:
//
//	bridge, err := glbridge.New(glbridge.Config{
//	    URI:       "file:///video.mp4",
//	    Views:     []glbridge.ViewConfig{{Name: "primary"}, {Name: "preview"}},
//	    Wrapper:   hostWrapper,   // adopts native GL handles
//	    Extractor: hostExtractor, // resolves sample → texture id
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := bridge.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer bridge.Close()
//
// Consumer side, per surface:
//
//	view, _ := bridge.View("primary")
//	view.OnFrame(window.RequestRedraw) // cheap, runs on streaming thread
//
//	// once, on the render thread, after the surface is realized:
//	if err := view.SetupRender(gpu.SurfaceHandles{
//	    Context:  nativeGLContext,
//	    Display:  nativeDisplay,
//	    Platform: gpu.PlatformEGL,
//	    API:      gpu.APIGLES2,
//	}); err != nil {
//	    log.Fatal(err)
//	}
//
//	// every draw tick:
//	drawn, err := view.RenderTick(binder)
//	if err != nil {
//	    // the host's own bind failed
//	}
//	if !drawn {
//	    // nothing (yet) to show, paint background
//	}
//
// # Monitoring
//
// Check operational health with Stats():
//
//	stats := bridge.Stats()
//	for _, vs := range stats.Views {
//	    if vs.Dropped > 0 {
//	        log.Printf("view %s dropping frames (consumer slow)", vs.Name)
//	    }
//	}
package glbridge
