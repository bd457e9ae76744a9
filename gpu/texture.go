package gpu

import "fmt"

// TextureTarget identifies the GL texture target a decoded frame is bound to.
type TextureTarget int

const (
	// Target2D is GL_TEXTURE_2D, the common case for RGBA video
	Target2D TextureTarget = iota
	// TargetRectangle is GL_TEXTURE_RECTANGLE
	TargetRectangle
	// TargetExternalOES is GL_TEXTURE_EXTERNAL_OES (GLES video decoders)
	TargetExternalOES
)

// String returns the caps-field spelling of the texture target
func (t TextureTarget) String() string {
	switch t {
	case TargetRectangle:
		return "rectangle"
	case TargetExternalOES:
		return "external-oes"
	default:
		return "2D"
	}
}

// ParseTextureTarget maps a caps texture-target field to a TextureTarget.
func ParseTextureTarget(s string) (TextureTarget, error) {
	switch s {
	case "2D":
		return Target2D, nil
	case "rectangle":
		return TargetRectangle, nil
	case "external-oes":
		return TargetExternalOES, nil
	default:
		return Target2D, fmt.Errorf("gpu: unknown texture target %q", s)
	}
}

// TextureRef identifies a GPU-resident texture for the duration of exactly
// one draw. The texture stays owned by the media pipeline; holders must not
// cache the ID past the draw it was handed out for, because the producer
// may recycle the underlying texture for a later frame at any time.
type TextureRef struct {
	// ID is the GL texture name
	ID uint32
	// Target is the texture target the ID must be bound to
	Target TextureTarget
	// Width in pixels
	Width int
	// Height in pixels
	Height int
}
