package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nwestra/loopmix/internal/logger"
	"github.com/nwestra/loopmix/internal/plan"
	"github.com/nwestra/loopmix/internal/util"
)

// Progress is one discrete progress report from the renderer.
type Progress struct {
	Percent int    `json:"percent"`
	Step    string `json:"step"`
}

// ProgressFunc receives progress reports. Percent is monotonically
// non-decreasing across one render.
type ProgressFunc func(Progress)

// Result describes a successful render.
type Result struct {
	OutputPath string
	OutputSize int64
	Elapsed    time.Duration
}

// Renderer executes a build plan as a sequence of ffmpeg invocations.
// Cancellation is cooperative: the context is checked between steps, and
// a cancelled step removes whatever partial output it produced.
type Renderer struct {
	ffmpegPath string

	// normalizeParallelism bounds concurrent ffmpeg processes during the
	// clip-normalize and sound-loop steps.
	normalizeParallelism int
}

// NewRenderer creates a Renderer using the given ffmpeg binary.
func NewRenderer(ffmpegPath string) *Renderer {
	return &Renderer{ffmpegPath: ffmpegPath, normalizeParallelism: 2}
}

// Step percent boundaries. Each step's reports stay inside its band so the
// overall sequence is monotonic.
const (
	pctNormalize = 35
	pctConcat    = 50
	pctMusic     = 62
	pctSounds    = 70
	pctMix       = 78
	pctFinal     = 100
)

// Render produces the single output file described by the plan, or a
// *RenderError. Partial output is never left at outputPath.
func (r *Renderer) Render(ctx context.Context, p *plan.Plan, scratch, outputPath string, report ProgressFunc) (*Result, error) {
	start := time.Now()
	prog := newProgressClamp(report)

	videoPath, err := r.renderVideo(ctx, p, scratch, prog)
	if err != nil {
		return nil, r.fail(outputPath, err)
	}

	audioPath, err := r.renderAudio(ctx, p, scratch, prog)
	if err != nil {
		return nil, r.fail(outputPath, err)
	}

	if err := r.checkpoint(ctx); err != nil {
		return nil, r.fail(outputPath, err)
	}

	prog.report(pctMix, "rendering final video")
	if err := r.finalMux(ctx, p, videoPath, audioPath, outputPath); err != nil {
		return nil, r.fail(outputPath, err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, r.fail(outputPath, &RenderError{
			Kind:   KindEncodingFailure,
			Detail: fmt.Sprintf("output file missing after render: %v", err),
			Err:    err,
		})
	}

	prog.report(pctFinal, "complete")
	return &Result{
		OutputPath: outputPath,
		OutputSize: info.Size(),
		Elapsed:    time.Since(start),
	}, nil
}

// renderVideo normalizes every planned segment and concatenates them,
// trimmed to the plan duration.
func (r *Renderer) renderVideo(ctx context.Context, p *plan.Plan, scratch string, prog *progressClamp) (string, error) {
	if err := r.checkpoint(ctx); err != nil {
		return "", err
	}
	prog.report(0, "processing video clips")

	segPaths := make([]string, len(p.Video.Segments))
	var done int
	var doneMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.normalizeParallelism)
	for i, seg := range p.Video.Segments {
		g.Go(func() error {
			out := filepath.Join(scratch, fmt.Sprintf("clip_%03d.mp4", i))
			args := []string{
				"-i", seg.Path,
				"-vf", scaleFilter(p.Width, p.Height),
				"-r", strconv.Itoa(p.FPS),
				"-t", util.FormatSeconds(seg.Out - seg.In),
				"-c:v", "libx264",
				"-preset", "medium",
				"-crf", "23",
				"-an",
				"-y", out,
			}
			if err := r.run(gctx, args); err != nil {
				return err
			}
			segPaths[i] = out

			doneMu.Lock()
			done++
			pct := pctNormalize * done / len(p.Video.Segments)
			doneMu.Unlock()
			prog.report(pct, "processing video clips")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if err := r.checkpoint(ctx); err != nil {
		return "", err
	}
	prog.report(pctNormalize, "concatenating video")

	listPath := filepath.Join(scratch, "concat.txt")
	var list strings.Builder
	for _, sp := range segPaths {
		fmt.Fprintf(&list, "file '%s'\n", sp)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return "", classify(err, err.Error())
	}

	videoPath := filepath.Join(scratch, "video.mp4")
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
	}
	// Normalized segments share codec and frame geometry, so a plain cut
	// sequence can be stream-copied. Fading transitions re-encode.
	if p.Video.Transition == plan.TransitionNone {
		args = append(args, "-c", "copy")
	} else {
		args = append(args, "-c:v", "libx264", "-preset", "medium", "-crf", "23")
	}
	args = append(args, "-t", util.FormatSeconds(p.Duration), "-y", videoPath)

	if err := r.run(ctx, args); err != nil {
		return "", err
	}
	prog.report(pctConcat, "concatenating video")
	return videoPath, nil
}

// renderAudio builds the music bed and sound loops and mixes them into a
// single track. Returns "" when the plan has no audio at all.
func (r *Renderer) renderAudio(ctx context.Context, p *plan.Plan, scratch string, prog *progressClamp) (string, error) {
	if p.Audio.Empty() {
		prog.report(pctMix, "mixing audio tracks")
		return "", nil
	}

	var tracks []string

	if !p.Audio.Music.Empty() {
		if err := r.checkpoint(ctx); err != nil {
			return "", err
		}
		prog.report(pctConcat, "building music track")

		musicPath := filepath.Join(scratch, "music.mp3")
		args := make([]string, 0, 2*len(p.Audio.Music.Segments)+10)
		for _, seg := range p.Audio.Music.Segments {
			args = append(args, "-i", seg.Path)
		}
		args = append(args,
			"-filter_complex", musicFilter(p.Audio.Music, p.Duration),
			"-map", "[aout]",
			"-c:a", "libmp3lame",
			"-b:a", "192k",
			"-t", util.FormatSeconds(p.Duration),
			"-y", musicPath,
		)
		if err := r.run(ctx, args); err != nil {
			return "", err
		}
		tracks = append(tracks, musicPath)
	}
	prog.report(pctMusic, "looping ambient sounds")

	if len(p.Audio.Sounds) > 0 {
		if err := r.checkpoint(ctx); err != nil {
			return "", err
		}

		soundPaths := make([]string, len(p.Audio.Sounds))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.normalizeParallelism)
		for i, loop := range p.Audio.Sounds {
			g.Go(func() error {
				out := filepath.Join(scratch, fmt.Sprintf("sound_%03d.mp3", i))
				args := []string{
					"-stream_loop", "-1",
					"-i", loop.Path,
					"-t", util.FormatSeconds(p.Duration),
					"-filter:a", "volume=" + strconv.FormatFloat(loop.Volume, 'f', -1, 64),
					"-c:a", "libmp3lame",
					"-b:a", "192k",
					"-y", out,
				}
				if err := r.run(gctx, args); err != nil {
					return err
				}
				soundPaths[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		tracks = append(tracks, soundPaths...)
	}

	if err := r.checkpoint(ctx); err != nil {
		return "", err
	}
	prog.report(pctSounds, "mixing audio tracks")

	if len(tracks) == 1 {
		return tracks[0], nil
	}

	mixPath := filepath.Join(scratch, "mix.mp3")
	args := make([]string, 0, 2*len(tracks)+10)
	for _, t := range tracks {
		args = append(args, "-i", t)
	}
	args = append(args,
		"-filter_complex", mixFilter(len(tracks)),
		"-map", "[aout]",
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		"-y", mixPath,
	)
	if err := r.run(ctx, args); err != nil {
		return "", err
	}
	return mixPath, nil
}

// finalMux overlays the quote schedule onto the video, muxes in the audio
// track, and writes the deliverable.
func (r *Renderer) finalMux(ctx context.Context, p *plan.Plan, videoPath, audioPath, outputPath string) error {
	args := []string{"-i", videoPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}

	if overlay := quoteOverlayFilter(p.Quotes); overlay != "" {
		args = append(args, "-vf", overlay)
	}

	args = append(args, "-map", "0:v")
	if audioPath != "" {
		args = append(args, "-map", "1:a")
	}

	args = append(args, "-c:v", "libx264", "-preset", "medium", "-crf", "23")
	if audioPath != "" {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}

	args = append(args, "-t", util.FormatSeconds(p.Duration), "-y", outputPath)
	return r.run(ctx, args)
}

// run executes one ffmpeg invocation, classifying any failure.
func (r *Renderer) run(ctx context.Context, args []string) error {
	logger.Debug("ffmpeg command", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return &RenderError{Kind: KindCancelled, Err: ctx.Err()}
		}
		return classify(fmt.Errorf("ffmpeg: %w", err), stderr.String())
	}
	return nil
}

// checkpoint is the cooperative cancellation check between render steps.
func (r *Renderer) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &RenderError{Kind: KindCancelled, Err: err}
	}
	return nil
}

// fail removes any partial deliverable and normalizes the error type.
func (r *Renderer) fail(outputPath string, err error) error {
	os.Remove(outputPath)
	if _, ok := err.(*RenderError); ok {
		return err
	}
	return &RenderError{Kind: KindEncodingFailure, Detail: err.Error(), Err: err}
}

// progressClamp keeps reported percentages monotonic even when parallel
// steps complete out of order.
type progressClamp struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func newProgressClamp(fn ProgressFunc) *progressClamp {
	return &progressClamp{fn: fn}
}

func (p *progressClamp) report(percent int, step string) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	if percent < p.last {
		percent = p.last
	}
	p.last = percent
	p.mu.Unlock()
	p.fn(Progress{Percent: percent, Step: step})
}
