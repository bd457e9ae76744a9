package gstpipe

import (
	"strings"

	"github.com/go-gst/go-gst/gst"
)

// ErrorCategory groups fatal pipeline errors by failure domain. The
// category drives log fields and recovery accounting, not control flow:
// every fatal error tears the pipeline down the same way.
type ErrorCategory int

const (
	ErrorCategoryUnknown ErrorCategory = iota
	// ErrorCategoryGPU covers GL context, upload and shader failures
	ErrorCategoryGPU
	// ErrorCategoryNegotiation covers caps and link failures
	ErrorCategoryNegotiation
	// ErrorCategoryDecode covers demux, parser and codec failures
	ErrorCategoryDecode
	// ErrorCategoryNetwork covers source transport failures
	ErrorCategoryNetwork
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryGPU:
		return "gpu"
	case ErrorCategoryNegotiation:
		return "negotiation"
	case ErrorCategoryDecode:
		return "decode"
	case ErrorCategoryNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// classifyError inspects a bus error's text and debug detail. Keyword
// matching is best-effort; anything unrecognized stays Unknown rather
// than guessing.
func classifyError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrorCategoryUnknown
	}
	return classifyText(gerr.Error() + " " + gerr.DebugString())
}

// classifyText matches failure-domain keywords in combined error text.
func classifyText(text string) ErrorCategory {
	text = strings.ToLower(text)

	gpuKeywords := []string{
		"opengl", "gles", "egl", "glx", "wgl",
		"gl context", "glmemory", "glupload", "glcolorconvert",
		"shader", "texture",
		"gst.gl",
	}
	for _, kw := range gpuKeywords {
		if strings.Contains(text, kw) {
			return ErrorCategoryGPU
		}
	}

	negotiationKeywords := []string{
		"negotiat", // negotiate, negotiated, negotiation
		"caps",
		"not-linked",
		"could not link",
	}
	for _, kw := range negotiationKeywords {
		if strings.Contains(text, kw) {
			return ErrorCategoryNegotiation
		}
	}

	decodeKeywords := []string{
		"decode", "decoder", "codec",
		"demux", "parse",
		"missing plugin", "no suitable plugins",
		"h264", "h265", "vp8", "vp9", "av1",
	}
	for _, kw := range decodeKeywords {
		if strings.Contains(text, kw) {
			return ErrorCategoryDecode
		}
	}

	networkKeywords := []string{
		"connection refused", "connection reset", "broken pipe",
		"could not connect", "unreachable", "timeout", "timed out",
		"dns", "resolve",
		"not found", "forbidden", "unauthorized",
	}
	for _, kw := range networkKeywords {
		if strings.Contains(text, kw) {
			return ErrorCategoryNetwork
		}
	}

	return ErrorCategoryUnknown
}
