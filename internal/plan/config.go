package plan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validation errors for build configuration. Checked with errors.Is().
var (
	ErrInvalidDuration    = errors.New("duration must be positive")
	ErrInvalidQuoteWindow = errors.New("invalid quote spacing window")
	ErrInvalidVolume      = errors.New("volume must be between 0.0 and 1.0")
	ErrInvalidResolution  = errors.New("resolution must be WIDTHxHEIGHT")
	ErrInvalidFrameRate   = errors.New("fps must be positive")
	ErrInvalidTransition  = errors.New("unknown transition")
	ErrInvalidQuoteStyle  = errors.New("unknown quote style")
)

// Transition types applied between consecutive video segments.
const (
	TransitionNone      = "none"
	TransitionFade      = "fade"
	TransitionCrossfade = "crossfade"
)

// Quote overlay styles.
const (
	QuoteStyleTop      = "top"
	QuoteStyleBottom   = "bottom"
	QuoteStyleCentered = "centered"
	QuoteStyleMinimal  = "minimal"
)

// Config holds every per-job build parameter. It is validated once at
// start and immutable afterwards.
type Config struct {
	Duration        float64 `json:"duration"`           // target length in seconds
	QuoteDuration   float64 `json:"quotes_duration"`    // on-screen time per quote
	QuoteMinBetween float64 `json:"quotes_min_between"` // min gap before/between quotes
	QuoteMaxBetween float64 `json:"quotes_max_between"` // max gap before/between quotes
	FPS             int     `json:"fps"`
	Resolution      string  `json:"resolution"` // WIDTHxHEIGHT
	Transition      string  `json:"transition"`
	MusicVolume     float64 `json:"music_volume"`
	SoundsVolume    float64 `json:"sounds_volume"`
	QuoteStyle      string  `json:"quote_style"`
	MusicShuffle    bool    `json:"music_shuffle"`
	QuotesShuffle   bool    `json:"quotes_shuffle"`
}

// DefaultConfig returns the build parameters used when a caller supplies
// none. A ten minute 1080p30 build with centered quotes.
func DefaultConfig() Config {
	return Config{
		Duration:        600,
		QuoteDuration:   5.0,
		QuoteMinBetween: 10.0,
		QuoteMaxBetween: 30.0,
		FPS:             30,
		Resolution:      "1920x1080",
		Transition:      TransitionCrossfade,
		MusicVolume:     0.7,
		SoundsVolume:    0.5,
		QuoteStyle:      QuoteStyleCentered,
	}
}

// Validate checks every field and returns the first violation. No planning
// work happens on an invalid config.
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDuration, c.Duration)
	}
	if c.QuoteMinBetween < 0 || c.QuoteMaxBetween < 0 {
		return fmt.Errorf("%w: gaps must be non-negative", ErrInvalidQuoteWindow)
	}
	if c.QuoteMaxBetween < c.QuoteMinBetween {
		return fmt.Errorf("%w: max %v < min %v", ErrInvalidQuoteWindow, c.QuoteMaxBetween, c.QuoteMinBetween)
	}
	if c.MusicVolume < 0 || c.MusicVolume > 1 {
		return fmt.Errorf("%w: music volume %v", ErrInvalidVolume, c.MusicVolume)
	}
	if c.SoundsVolume < 0 || c.SoundsVolume > 1 {
		return fmt.Errorf("%w: sounds volume %v", ErrInvalidVolume, c.SoundsVolume)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFrameRate, c.FPS)
	}
	if _, _, err := ParseResolution(c.Resolution); err != nil {
		return err
	}
	switch c.Transition {
	case TransitionNone, TransitionFade, TransitionCrossfade:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransition, c.Transition)
	}
	switch c.QuoteStyle {
	case QuoteStyleTop, QuoteStyleBottom, QuoteStyleCentered, QuoteStyleMinimal:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidQuoteStyle, c.QuoteStyle)
	}
	return nil
}

// ParseResolution splits a WIDTHxHEIGHT string into its dimensions.
func ParseResolution(s string) (width, height int, err error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
	}
	width, werr := strconv.Atoi(parts[0])
	height, herr := strconv.Atoi(parts[1])
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
	}
	return width, height, nil
}
