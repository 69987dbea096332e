package ffmpeg

import (
	"context"
	"errors"
	"strings"
)

// FailureKind classifies a render failure for callers that need to react
// differently to, say, a full disk versus a corrupt input.
type FailureKind string

const (
	KindUnsupportedAsset FailureKind = "unsupported_asset"
	KindEncodingFailure  FailureKind = "encoding_failure"
	KindDiskExhausted    FailureKind = "disk_exhausted"
	KindCancelled        FailureKind = "cancelled"
)

// RenderError is a structured render failure: a kind plus the ffmpeg
// detail preserved verbatim for diagnostics.
type RenderError struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Detail != "" {
		return string(e.Kind) + ": " + e.Detail
	}
	return string(e.Kind)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Cancelled reports whether the error represents a cooperative abort.
func (e *RenderError) Cancelled() bool {
	return e.Kind == KindCancelled
}

// classify maps an ffmpeg failure to a RenderError by inspecting stderr.
// Pattern matching on renderer output is inherently best-effort; anything
// unrecognized is an EncodingFailure.
func classify(err error, stderr string) *RenderError {
	if errors.Is(err, context.Canceled) {
		return &RenderError{Kind: KindCancelled, Err: err}
	}

	detail := lastStderrLines(stderr, 5)
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "no space left on device"):
		return &RenderError{Kind: KindDiskExhausted, Detail: detail, Err: err}
	case strings.Contains(lower, "invalid data found"),
		strings.Contains(lower, "unknown format"),
		strings.Contains(lower, "could not find codec"),
		strings.Contains(lower, "decoder not found"),
		strings.Contains(lower, "moov atom not found"):
		return &RenderError{Kind: KindUnsupportedAsset, Detail: detail, Err: err}
	default:
		return &RenderError{Kind: KindEncodingFailure, Detail: detail, Err: err}
	}
}

// lastStderrLines keeps the tail of ffmpeg's stderr, which is where the
// actual failure reason lands.
func lastStderrLines(stderr string, n int) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
