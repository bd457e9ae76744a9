// Package gpu models the GL sharing state between host rendering surfaces
// and a media pipeline.
//
// The package never creates a GL context of its own. The host surface owns
// the native context and display; glbridge receives their handles at
// render-setup time, has them wrapped into pipeline-shareable objects by a
// host-supplied Wrapper, and from then on only hands the wrapped values
// around. Wrapping happens exactly once per surface (ConsumerContext is a
// single-init cell) and always on the thread that owns the native context.
package gpu

// Platform identifies the windowing/GL platform the native handles belong to.
type Platform int

const (
	// PlatformUnknown means the host did not identify the platform.
	PlatformUnknown Platform = iota
	// PlatformEGL covers EGL contexts (Wayland, GBM, Android, ...)
	PlatformEGL
	// PlatformGLX covers GLX contexts on X11
	PlatformGLX
	// PlatformWGL covers WGL contexts on Windows
	PlatformWGL
	// PlatformCGL covers CGL contexts on macOS
	PlatformCGL
	// PlatformEAGL covers EAGL contexts on iOS
	PlatformEAGL
)

// String returns a human-readable string representation of the platform
func (p Platform) String() string {
	switch p {
	case PlatformEGL:
		return "egl"
	case PlatformGLX:
		return "glx"
	case PlatformWGL:
		return "wgl"
	case PlatformCGL:
		return "cgl"
	case PlatformEAGL:
		return "eagl"
	default:
		return "unknown"
	}
}

// API identifies the GL API flavor of the native context.
type API int

const (
	// APIUnknown means the host did not identify the API.
	APIUnknown API = iota
	// APIOpenGL is desktop OpenGL (compatibility profile)
	APIOpenGL
	// APIOpenGL3 is desktop OpenGL core profile 3.x+
	APIOpenGL3
	// APIGLES2 is OpenGL ES 2.x+
	APIGLES2
)

// String returns a human-readable string representation of the API
func (a API) String() string {
	switch a {
	case APIOpenGL:
		return "opengl"
	case APIOpenGL3:
		return "opengl3"
	case APIGLES2:
		return "gles2"
	default:
		return "unknown"
	}
}

// SurfaceHandles carries the native GL handles of one host surface, as
// captured on its render thread during render setup.
type SurfaceHandles struct {
	// Context is the native GL context handle (EGLContext, GLXContext, ...).
	// Required.
	Context uintptr
	// Display is the native display handle (EGLDisplay, X11 Display*, ...).
	// May be zero on platforms without a display connection (WGL, CGL).
	Display uintptr
	// Platform identifies the windowing/GL platform of the handles
	Platform Platform
	// API identifies the GL flavor of the context
	API API
}

// Context is a pipeline-shareable GL context wrapped around a host
// surface's native context. The concrete type is owned by the Wrapper that
// produced it; glbridge only drives the wrap-time lifecycle below and then
// passes the value through to negotiation delivery.
type Context interface {
	// Activate makes the wrapped context current on the calling thread
	// (active=true) or releases it (active=false). Must be called on the
	// thread that owns the underlying native context.
	Activate(active bool) error

	// FillInfo queries the wrapped context's GL capabilities. Called once
	// after the first successful Activate, on the same thread.
	FillInfo() error
}

// Display is the pipeline-shareable GL display produced alongside a
// wrapped Context. glbridge never calls methods on it; it is carried
// opaquely from the Wrapper to negotiation delivery, so any concrete type
// the host's Wrapper and Deliverer agree on will do.
type Display any

// Wrapper builds pipeline-shareable GL objects from native surface handles.
//
// Implemented by the host's GL integration layer. Wrap is invoked on the
// surface's render thread with the native context current, exactly once
// per surface.
type Wrapper interface {
	Wrap(h SurfaceHandles) (Context, Display, error)
}
