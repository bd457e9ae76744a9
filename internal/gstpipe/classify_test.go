package gstpipe

import (
	"strings"
	"testing"
)

func TestClassifyText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want ErrorCategory
	}{
		{
			name: "egl context failure",
			text: "Failed to create EGL context: eglCreateContext returned EGL_BAD_MATCH",
			want: ErrorCategoryGPU,
		},
		{
			name: "texture upload failure",
			text: "failed to upload texture to GL memory",
			want: ErrorCategoryGPU,
		},
		{
			name: "shader failure",
			text: "shader compilation failed",
			want: ErrorCategoryGPU,
		},
		{
			name: "not negotiated",
			text: "Internal data stream error. streaming stopped, reason not-negotiated (-4)",
			want: ErrorCategoryNegotiation,
		},
		{
			name: "caps mismatch",
			text: "caps are incompatible with the downstream element",
			want: ErrorCategoryNegotiation,
		},
		{
			name: "decoder failure",
			text: "Could not decode stream",
			want: ErrorCategoryDecode,
		},
		{
			name: "missing plugin",
			text: "Your GStreamer installation is missing plugin to handle this media",
			want: ErrorCategoryDecode,
		},
		{
			name: "demux failure",
			text: "qtdemux: This file is invalid and cannot be played",
			want: ErrorCategoryDecode,
		},
		{
			name: "connection refused",
			text: "Could not open resource for reading: Connection refused",
			want: ErrorCategoryNetwork,
		},
		{
			name: "resource not found",
			text: "Not Found (404)",
			want: ErrorCategoryNetwork,
		},
		{
			name: "timeout",
			text: "request timed out",
			want: ErrorCategoryNetwork,
		},
		{
			name: "case insensitive",
			text: "CONNECTION REFUSED",
			want: ErrorCategoryNetwork,
		},
		{
			name: "unrecognized",
			text: "something completely different happened",
			want: ErrorCategoryUnknown,
		},
		{
			name: "empty",
			text: "",
			want: ErrorCategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyText(tt.text)
			if got != tt.want {
				t.Errorf("classifyText(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassifyErrorNil(t *testing.T) {
	if got := classifyError(nil); got != ErrorCategoryUnknown {
		t.Errorf("classifyError(nil) = %s, want unknown", got)
	}
}

func TestErrorCategoryString(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		want     string
	}{
		{ErrorCategoryGPU, "gpu"},
		{ErrorCategoryNegotiation, "negotiation"},
		{ErrorCategoryDecode, "decode"},
		{ErrorCategoryNetwork, "network"},
		{ErrorCategoryUnknown, "unknown"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.want {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.want)
		}
	}
}

func TestPipelineErrorMessage(t *testing.T) {
	err := &PipelineError{
		Category: ErrorCategoryDecode,
		Source:   "decodebin0",
		Message:  "could not decode stream",
		Debug:    "gstdecodebin2.c(4679)",
	}

	msg := err.Error()
	for _, want := range []string{"decodebin0", "decode", "could not decode stream"} {
		if !strings.Contains(msg, want) {
			t.Errorf("PipelineError.Error() = %q, missing %q", msg, want)
		}
	}
}
