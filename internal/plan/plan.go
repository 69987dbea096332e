// Package plan turns a duration target and a pool of media assets into a
// fully specified build plan. Planning is pure: it reads nothing from disk
// and makes no renderer calls, so a plan can be computed, inspected, and
// tested without touching ffmpeg.
package plan

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
)

// Audio timing constants. The music timeline crossfades adjacent tracks
// and fades in/out at the edges; ambient sound loops hard-cut.
const (
	MusicCrossfade = 1.0
	MusicFade      = 2.0
)

// ErrNoVideoAssets is returned when a plan is requested without any video
// clips to fill the timeline with.
var ErrNoVideoAssets = errors.New("no video assets")

// MediaFile is one asset with its probed duration in seconds.
type MediaFile struct {
	Name     string
	Path     string
	Duration float64
}

// Inventory is everything the planner may draw from. Durations come from
// the prober; quote texts are read up front by the caller.
type Inventory struct {
	Clips  []MediaFile
	Music  []MediaFile
	Sounds []MediaFile
	Quotes []string
}

// Segment is one entry in the video timeline. In and Out are offsets into
// the source clip; Out-In is the time the segment occupies.
type Segment struct {
	Name string  `json:"name"`
	Path string  `json:"path"`
	In   float64 `json:"in"`
	Out  float64 `json:"out"`
}

// VideoPlan is the ordered clip sequence covering exactly the target
// duration, with one transition type applied between consecutive entries.
type VideoPlan struct {
	Segments   []Segment `json:"segments"`
	Transition string    `json:"transition"`
}

// TotalDuration sums the time occupied by every segment.
func (v VideoPlan) TotalDuration() float64 {
	var total float64
	for _, s := range v.Segments {
		total += s.Out - s.In
	}
	return total
}

// MusicSegment is one track placement on the music timeline. Start is the
// offset into the output; a non-zero CrossfadePrev means the first that
// many seconds overlap the previous segment's tail.
type MusicSegment struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	Start         float64 `json:"start"`
	Duration      float64 `json:"duration"`
	CrossfadePrev float64 `json:"crossfade_prev,omitempty"`
}

// MusicTimeline is the primary music bed: segments in play order, looped
// and truncated to span the full target, with edge fades.
type MusicTimeline struct {
	Segments []MusicSegment `json:"segments"`
	FadeIn   float64        `json:"fade_in"`  // seconds, from offset 0
	FadeOut  float64        `json:"fade_out"` // seconds, ending at the target
	Volume   float64        `json:"volume"`
}

// Empty reports whether the timeline has no music at all.
func (m MusicTimeline) Empty() bool { return len(m.Segments) == 0 }

// SoundLoop is one ambient sound repeated edge to edge (hard cut, no
// crossfade) from 0 to the target duration.
type SoundLoop struct {
	Name         string  `json:"name"`
	Path         string  `json:"path"`
	ClipDuration float64 `json:"clip_duration"`
	Volume       float64 `json:"volume"`
}

// AudioPlan is the full mix: one optional music timeline plus any number
// of independent sound loops. Absent components are simply empty.
type AudioPlan struct {
	Music  MusicTimeline `json:"music"`
	Sounds []SoundLoop   `json:"sounds"`
}

// Empty reports whether there is nothing to mix.
func (a AudioPlan) Empty() bool { return a.Music.Empty() && len(a.Sounds) == 0 }

// QuoteEvent is one scheduled on-screen text overlay.
type QuoteEvent struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Style    string  `json:"style"`
}

// Plan is the immutable output of the planner and the sole input to the
// renderer.
type Plan struct {
	Duration float64      `json:"duration"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	FPS      int          `json:"fps"`
	Video    VideoPlan    `json:"video"`
	Audio    AudioPlan    `json:"audio"`
	Quotes   []QuoteEvent `json:"quotes"`
}

// Build computes a plan for the given config and inventory. The rand
// source drives shuffling and quote spacing; tests inject a seeded one.
// Validation runs first and no partial plan is ever returned.
func Build(cfg Config, inv Inventory, rng *rand.Rand) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(inv.Clips) == 0 {
		return nil, ErrNoVideoAssets
	}

	width, height, err := ParseResolution(cfg.Resolution)
	if err != nil {
		return nil, err
	}

	video, err := planVideo(cfg, inv.Clips, rng)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Duration: cfg.Duration,
		Width:    width,
		Height:   height,
		FPS:      cfg.FPS,
		Video:    video,
		Audio: AudioPlan{
			Music:  planMusic(cfg, inv.Music, rng),
			Sounds: planSounds(cfg, inv.Sounds),
		},
		Quotes: planQuotes(cfg, inv.Quotes, rng),
	}, nil
}

// planVideo fills [0, T] with clips in order, repeating the whole sequence
// when it falls short and truncating the final clip's out-point so the
// total lands exactly on T.
func planVideo(cfg Config, clips []MediaFile, rng *rand.Rand) (VideoPlan, error) {
	ordered := orderMedia(clips, cfg.MusicShuffle, rng)

	var pool float64
	for _, c := range ordered {
		pool += c.Duration
	}
	if pool <= 0 {
		return VideoPlan{}, fmt.Errorf("%w: clip durations sum to zero", ErrNoVideoAssets)
	}

	const eps = 1e-9
	var segments []Segment
	var acc float64
	for i := 0; cfg.Duration-acc > eps; i++ {
		clip := ordered[i%len(ordered)]
		if clip.Duration <= 0 {
			continue
		}
		out := clip.Duration
		if remaining := cfg.Duration - acc; out > remaining {
			out = remaining
		}
		segments = append(segments, Segment{
			Name: clip.Name,
			Path: clip.Path,
			In:   0,
			Out:  out,
		})
		acc += out
	}

	return VideoPlan{Segments: segments, Transition: cfg.Transition}, nil
}

// planMusic lays the music tracks end to end with a crossfade overlap,
// loops the sequence until it spans T, and truncates the last segment.
// Edge fades are capped so they never exceed the target itself.
func planMusic(cfg Config, music []MediaFile, rng *rand.Rand) MusicTimeline {
	ordered := orderMedia(music, cfg.MusicShuffle, rng)

	var pool float64
	for _, m := range ordered {
		pool += m.Duration
	}
	if pool <= 0 {
		return MusicTimeline{}
	}

	const eps = 1e-9
	var segments []MusicSegment
	var end float64
	for i := 0; end < cfg.Duration-eps; i++ {
		track := ordered[i%len(ordered)]
		if track.Duration <= 0 {
			continue
		}
		seg := MusicSegment{
			Name:     track.Name,
			Path:     track.Path,
			Duration: track.Duration,
		}
		// Tracks shorter than the crossfade butt up against their
		// neighbor instead of overlapping it.
		if len(segments) > 0 && track.Duration > MusicCrossfade {
			seg.CrossfadePrev = MusicCrossfade
		}
		seg.Start = end - seg.CrossfadePrev
		if seg.Start+seg.Duration >= cfg.Duration {
			seg.Duration = cfg.Duration - seg.Start
			segments = append(segments, seg)
			break
		}
		segments = append(segments, seg)
		end = seg.Start + seg.Duration
	}

	fade := MusicFade
	if fade > cfg.Duration/2 {
		fade = cfg.Duration / 2
	}
	return MusicTimeline{
		Segments: segments,
		FadeIn:   fade,
		FadeOut:  fade,
		Volume:   cfg.MusicVolume,
	}
}

// planSounds gives every sound file its own full-length loop timeline.
func planSounds(cfg Config, sounds []MediaFile) []SoundLoop {
	var loops []SoundLoop
	for _, s := range sounds {
		if s.Duration <= 0 {
			continue
		}
		loops = append(loops, SoundLoop{
			Name:         s.Name,
			Path:         s.Path,
			ClipDuration: s.Duration,
			Volume:       cfg.SoundsVolume,
		})
	}
	return loops
}

// planQuotes walks a cursor through [0, T], drawing a uniform gap from
// [min, max] before each event and cycling through the quote list when it
// runs out. An event is only emitted when it fits entirely before T, so a
// gap window larger than T produces the empty schedule.
func planQuotes(cfg Config, quotes []string, rng *rand.Rand) []QuoteEvent {
	if len(quotes) == 0 || cfg.QuoteDuration <= 0 {
		return nil
	}

	ordered := quotes
	if cfg.QuotesShuffle {
		ordered = make([]string, len(quotes))
		copy(ordered, quotes)
		rng.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}

	var events []QuoteEvent
	cursor := drawGap(cfg, rng)
	for i := 0; cursor+cfg.QuoteDuration <= cfg.Duration; i++ {
		events = append(events, QuoteEvent{
			Text:     ordered[i%len(ordered)],
			Start:    cursor,
			Duration: cfg.QuoteDuration,
			Style:    cfg.QuoteStyle,
		})
		cursor += cfg.QuoteDuration + drawGap(cfg, rng)
	}
	return events
}

func drawGap(cfg Config, rng *rand.Rand) float64 {
	if cfg.QuoteMaxBetween == cfg.QuoteMinBetween {
		return cfg.QuoteMinBetween
	}
	return cfg.QuoteMinBetween + rng.Float64()*(cfg.QuoteMaxBetween-cfg.QuoteMinBetween)
}

// orderMedia returns files alphabetically by name, or uniformly shuffled
// when requested. The input slice is never mutated.
func orderMedia(files []MediaFile, shuffle bool, rng *rand.Rand) []MediaFile {
	out := make([]MediaFile, len(files))
	copy(out, files)
	if shuffle {
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out
}
