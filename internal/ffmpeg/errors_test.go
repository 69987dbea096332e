package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyCancelled(t *testing.T) {
	re := classify(fmt.Errorf("ffmpeg: %w", context.Canceled), "")
	if re.Kind != KindCancelled {
		t.Errorf("Kind = %q, want cancelled", re.Kind)
	}
	if !re.Cancelled() {
		t.Error("Cancelled() = false")
	}
}

func TestClassifyStderrPatterns(t *testing.T) {
	tests := []struct {
		stderr string
		want   FailureKind
	}{
		{"frame=1\n[mp4] No space left on device", KindDiskExhausted},
		{"Invalid data found when processing input", KindUnsupportedAsset},
		{"x.webm: Unknown format", KindUnsupportedAsset},
		{"moov atom not found", KindUnsupportedAsset},
		{"Decoder not found for codec av1", KindUnsupportedAsset},
		{"Conversion failed!", KindEncodingFailure},
		{"", KindEncodingFailure},
	}
	for _, tt := range tests {
		re := classify(errors.New("exit status 1"), tt.stderr)
		if re.Kind != tt.want {
			t.Errorf("classify(%q) = %q, want %q", tt.stderr, re.Kind, tt.want)
		}
	}
}

func TestClassifyKeepsStderrTail(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	re := classify(errors.New("exit status 1"), strings.Join(lines, "\n"))

	if strings.Contains(re.Detail, "line 0") {
		t.Error("detail kept the head of stderr")
	}
	if !strings.Contains(re.Detail, "line 9") {
		t.Errorf("detail lost the tail: %q", re.Detail)
	}
}

func TestRenderErrorUnwrap(t *testing.T) {
	inner := errors.New("exit status 1")
	re := classify(inner, "Conversion failed!")

	if !errors.Is(re, inner) {
		t.Error("Unwrap chain broken")
	}
	if !strings.Contains(re.Error(), string(KindEncodingFailure)) {
		t.Errorf("Error() = %q", re.Error())
	}
}
