package plan

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func clip(name string, dur float64) MediaFile {
	return MediaFile{Name: name, Path: "/assets/" + name, Duration: dur}
}

func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.Duration = 25
	return cfg
}

func TestBuildRequiresVideoAssets(t *testing.T) {
	_, err := Build(baseConfig(), Inventory{}, testRNG())
	require.ErrorIs(t, err, ErrNoVideoAssets)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Duration = 0

	_, err := Build(cfg, Inventory{Clips: []MediaFile{clip("a.mp4", 10)}}, testRNG())
	require.ErrorIs(t, err, ErrInvalidDuration)
}

func TestVideoFillExactDuration(t *testing.T) {
	inv := Inventory{Clips: []MediaFile{
		clip("a.mp4", 10),
		clip("b.mp4", 10),
		clip("c.mp4", 10),
	}}

	p, err := Build(baseConfig(), inv, testRNG())
	require.NoError(t, err)

	require.Len(t, p.Video.Segments, 3)
	assert.Equal(t, "a.mp4", p.Video.Segments[0].Name)
	assert.Equal(t, "b.mp4", p.Video.Segments[1].Name)
	assert.Equal(t, "c.mp4", p.Video.Segments[2].Name)
	assert.InDelta(t, 10.0, p.Video.Segments[0].Out, 1e-9)
	assert.InDelta(t, 10.0, p.Video.Segments[1].Out, 1e-9)
	assert.InDelta(t, 5.0, p.Video.Segments[2].Out, 1e-9)
	assert.InDelta(t, 25.0, p.Video.TotalDuration(), 1e-9)
}

func TestVideoLoopsSingleClip(t *testing.T) {
	inv := Inventory{Clips: []MediaFile{clip("only.mp4", 10)}}

	p, err := Build(baseConfig(), inv, testRNG())
	require.NoError(t, err)

	require.Len(t, p.Video.Segments, 3)
	for _, seg := range p.Video.Segments {
		assert.Equal(t, "only.mp4", seg.Name)
		assert.Zero(t, seg.In)
	}
	assert.InDelta(t, 5.0, p.Video.Segments[2].Out, 1e-9)
	assert.InDelta(t, 25.0, p.Video.TotalDuration(), 1e-9)
}

func TestVideoSkipsZeroDurationClips(t *testing.T) {
	inv := Inventory{Clips: []MediaFile{
		clip("a.mp4", 0),
		clip("b.mp4", 30),
	}}

	p, err := Build(baseConfig(), inv, testRNG())
	require.NoError(t, err)

	require.Len(t, p.Video.Segments, 1)
	assert.Equal(t, "b.mp4", p.Video.Segments[0].Name)
	assert.InDelta(t, 25.0, p.Video.Segments[0].Out, 1e-9)
}

func TestVideoAllZeroDurationsFails(t *testing.T) {
	inv := Inventory{Clips: []MediaFile{clip("a.mp4", 0)}}

	_, err := Build(baseConfig(), inv, testRNG())
	require.ErrorIs(t, err, ErrNoVideoAssets)
}

func TestMusicCrossfadeOverlap(t *testing.T) {
	inv := Inventory{
		Clips: []MediaFile{clip("v.mp4", 30)},
		Music: []MediaFile{clip("m1.mp3", 10), clip("m2.mp3", 10)},
	}

	p, err := Build(baseConfig(), inv, testRNG())
	require.NoError(t, err)

	m := p.Audio.Music
	require.Len(t, m.Segments, 3)

	assert.InDelta(t, 0.0, m.Segments[0].Start, 1e-9)
	assert.Zero(t, m.Segments[0].CrossfadePrev)

	assert.InDelta(t, MusicCrossfade, m.Segments[1].CrossfadePrev, 1e-9)
	assert.InDelta(t, 9.0, m.Segments[1].Start, 1e-9)

	// Sequence loops back to the first track and is truncated on T.
	assert.Equal(t, "m1.mp3", m.Segments[2].Name)
	assert.InDelta(t, 18.0, m.Segments[2].Start, 1e-9)
	assert.InDelta(t, 7.0, m.Segments[2].Duration, 1e-9)

	last := m.Segments[2]
	assert.InDelta(t, 25.0, last.Start+last.Duration, 1e-9)
	assert.InDelta(t, MusicFade, m.FadeIn, 1e-9)
	assert.InDelta(t, MusicFade, m.FadeOut, 1e-9)
	assert.InDelta(t, 0.7, m.Volume, 1e-9)
}

func TestMusicShortTracksButtUp(t *testing.T) {
	cfg := baseConfig()
	cfg.Duration = 2

	inv := Inventory{
		Clips: []MediaFile{clip("v.mp4", 5)},
		Music: []MediaFile{clip("stinger.mp3", 0.5)},
	}

	p, err := Build(cfg, inv, testRNG())
	require.NoError(t, err)

	m := p.Audio.Music
	require.Len(t, m.Segments, 4)
	for i, seg := range m.Segments {
		assert.Zero(t, seg.CrossfadePrev, "segment %d", i)
		assert.InDelta(t, 0.5*float64(i), seg.Start, 1e-9)
	}

	// Edge fades never exceed half the target.
	assert.InDelta(t, 1.0, m.FadeIn, 1e-9)
	assert.InDelta(t, 1.0, m.FadeOut, 1e-9)
}

func TestNoMusicGivesEmptyTimeline(t *testing.T) {
	inv := Inventory{Clips: []MediaFile{clip("v.mp4", 30)}}

	p, err := Build(baseConfig(), inv, testRNG())
	require.NoError(t, err)

	assert.True(t, p.Audio.Music.Empty())
	assert.True(t, p.Audio.Empty())
}

func TestSoundLoops(t *testing.T) {
	inv := Inventory{
		Clips:  []MediaFile{clip("v.mp4", 30)},
		Sounds: []MediaFile{clip("rain.mp3", 12), clip("fire.mp3", 0)},
	}

	p, err := Build(baseConfig(), inv, testRNG())
	require.NoError(t, err)

	require.Len(t, p.Audio.Sounds, 1)
	assert.Equal(t, "rain.mp3", p.Audio.Sounds[0].Name)
	assert.InDelta(t, 12.0, p.Audio.Sounds[0].ClipDuration, 1e-9)
	assert.InDelta(t, 0.5, p.Audio.Sounds[0].Volume, 1e-9)
	assert.False(t, p.Audio.Empty())
}

func TestQuoteScheduleFixedGaps(t *testing.T) {
	cfg := baseConfig()
	cfg.Duration = 30
	cfg.QuoteDuration = 3
	cfg.QuoteMinBetween = 5
	cfg.QuoteMaxBetween = 5

	inv := Inventory{
		Clips:  []MediaFile{clip("v.mp4", 30)},
		Quotes: []string{"one", "two"},
	}

	p, err := Build(cfg, inv, testRNG())
	require.NoError(t, err)

	require.Len(t, p.Quotes, 3)
	assert.InDelta(t, 5.0, p.Quotes[0].Start, 1e-9)
	assert.InDelta(t, 13.0, p.Quotes[1].Start, 1e-9)
	assert.InDelta(t, 21.0, p.Quotes[2].Start, 1e-9)

	// Quotes cycle when the list runs out.
	assert.Equal(t, "one", p.Quotes[0].Text)
	assert.Equal(t, "two", p.Quotes[1].Text)
	assert.Equal(t, "one", p.Quotes[2].Text)

	for _, q := range p.Quotes {
		assert.InDelta(t, 3.0, q.Duration, 1e-9)
		assert.Equal(t, QuoteStyleCentered, q.Style)
		assert.LessOrEqual(t, q.Start+q.Duration, cfg.Duration)
	}
}

func TestQuoteGapLargerThanTarget(t *testing.T) {
	cfg := baseConfig()
	cfg.Duration = 30
	cfg.QuoteMinBetween = 40
	cfg.QuoteMaxBetween = 40

	inv := Inventory{
		Clips:  []MediaFile{clip("v.mp4", 30)},
		Quotes: []string{"never shown"},
	}

	p, err := Build(cfg, inv, testRNG())
	require.NoError(t, err)
	assert.Empty(t, p.Quotes)
}

func TestQuoteDurationZeroDisablesOverlays(t *testing.T) {
	cfg := baseConfig()
	cfg.QuoteDuration = 0

	inv := Inventory{
		Clips:  []MediaFile{clip("v.mp4", 30)},
		Quotes: []string{"quiet"},
	}

	p, err := Build(cfg, inv, testRNG())
	require.NoError(t, err)
	assert.Empty(t, p.Quotes)
}

func TestQuoteGapsStayInWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.Duration = 300
	cfg.QuoteDuration = 4
	cfg.QuoteMinBetween = 5
	cfg.QuoteMaxBetween = 15

	inv := Inventory{
		Clips:  []MediaFile{clip("v.mp4", 30)},
		Quotes: []string{"a", "b", "c"},
	}

	p, err := Build(cfg, inv, testRNG())
	require.NoError(t, err)
	require.NotEmpty(t, p.Quotes)

	prevEnd := 0.0
	for _, q := range p.Quotes {
		gap := q.Start - prevEnd
		assert.GreaterOrEqual(t, gap, cfg.QuoteMinBetween-1e-9)
		assert.LessOrEqual(t, gap, cfg.QuoteMaxBetween+1e-9)
		prevEnd = q.Start + q.Duration
	}
}

func TestShuffleIsDeterministicPerSeed(t *testing.T) {
	cfg := baseConfig()
	cfg.MusicShuffle = true
	cfg.QuotesShuffle = true

	inv := Inventory{
		Clips:  []MediaFile{clip("a.mp4", 7), clip("b.mp4", 9), clip("c.mp4", 11)},
		Music:  []MediaFile{clip("m1.mp3", 20), clip("m2.mp3", 25)},
		Quotes: []string{"q1", "q2", "q3"},
	}

	p1, err := Build(cfg, inv, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	p2, err := Build(cfg, inv, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
}

func TestOrderMediaDoesNotMutateInput(t *testing.T) {
	files := []MediaFile{clip("z.mp4", 1), clip("a.mp4", 1)}

	out := orderMedia(files, false, testRNG())

	assert.Equal(t, "a.mp4", out[0].Name)
	assert.Equal(t, "z.mp4", files[0].Name)
}

func TestPlanCarriesRenderParameters(t *testing.T) {
	cfg := baseConfig()
	cfg.Resolution = "1280x720"
	cfg.FPS = 24
	cfg.Transition = TransitionFade

	p, err := Build(cfg, Inventory{Clips: []MediaFile{clip("v.mp4", 30)}}, testRNG())
	require.NoError(t, err)

	assert.Equal(t, 1280, p.Width)
	assert.Equal(t, 720, p.Height)
	assert.Equal(t, 24, p.FPS)
	assert.Equal(t, TransitionFade, p.Video.Transition)
	assert.InDelta(t, 25.0, p.Duration, 1e-9)
}
