// Package assets defines the media classes a build job accepts and the
// filename rules applied to everything placed in a run directory.
package assets

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Class identifies which pool an asset belongs to.
type Class string

const (
	ClassVideo Class = "videos"
	ClassMusic Class = "music"
	ClassSound Class = "sounds"
	ClassQuote Class = "quotes"
)

// Classes lists every valid asset class in directory order.
var Classes = []Class{ClassVideo, ClassMusic, ClassSound, ClassQuote}

// Extension sets per class. Lowercase, including the dot.
var (
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".mkv": true}
	audioExts = map[string]bool{".mp3": true, ".wav": true, ".m4a": true, ".aac": true, ".ogg": true}
	quoteExts = map[string]bool{".txt": true}
)

// ParseClass validates a class name from an external caller.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassVideo, ClassMusic, ClassSound, ClassQuote:
		return Class(s), nil
	}
	return "", fmt.Errorf("invalid asset class: %q", s)
}

// Allowed reports whether the filename's extension is accepted for the class.
func Allowed(class Class, filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	switch class {
	case ClassVideo:
		return videoExts[ext]
	case ClassMusic, ClassSound:
		return audioExts[ext]
	case ClassQuote:
		return quoteExts[ext]
	}
	return false
}

// SanitizeFilename strips path components and reduces the name to a safe
// subset of characters, so an uploaded name can never escape its run
// directory or collide with shell metacharacters in renderer commands.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	safe := strings.Trim(b.String(), "._")
	if safe == "" {
		safe = fmt.Sprintf("asset_%d", time.Now().UnixNano())
	}
	return safe + strings.ToLower(ext)
}

// Record is the authoritative inventory entry for one file in a run
// directory. The filesystem is treated as a cache of these records.
type Record struct {
	ID         int64     `json:"id"`
	JobID      int64     `json:"job_id"`
	Class      Class     `json:"class"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}
