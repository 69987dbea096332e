package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/nwestra/loopmix/internal/plan"
	"github.com/nwestra/loopmix/internal/util"
)

// quoteFadeRamp is the alpha fade applied at each edge of a quote overlay.
const quoteFadeRamp = 0.5

// quoteOverlayFilter builds the drawtext filter chain rendering every
// scheduled quote, each enabled only inside its own [start, end] window
// with a short alpha ramp at both edges.
func quoteOverlayFilter(events []plan.QuoteEvent) string {
	if len(events) == 0 {
		return ""
	}

	filters := make([]string, 0, len(events))
	for _, ev := range events {
		start := ev.Start
		end := ev.Start + ev.Duration
		fadeInEnd := start + quoteFadeRamp
		fadeOutStart := end - quoteFadeRamp

		var y string
		switch ev.Style {
		case plan.QuoteStyleTop:
			y = "h*0.1"
		case plan.QuoteStyleBottom:
			y = "h*0.8"
		default: // centered and minimal
			y = "(h-text_h)/2"
		}

		f := fmt.Sprintf(
			"drawtext=text='%s':fontsize=h/20:fontcolor=white:borderw=2:bordercolor=black:"+
				"x=(w-text_w)/2:y=%s:enable='between(t,%s,%s)':"+
				"alpha='if(lt(t,%s),(t-%s)/%s,if(gt(t,%s),(%s-t)/%s,1))'",
			escapeDrawText(ev.Text), y,
			util.FormatSeconds(start), util.FormatSeconds(end),
			util.FormatSeconds(fadeInEnd), util.FormatSeconds(start), util.FormatSeconds(quoteFadeRamp),
			util.FormatSeconds(fadeOutStart), util.FormatSeconds(end), util.FormatSeconds(quoteFadeRamp),
		)
		if ev.Style != plan.QuoteStyleMinimal {
			f += ":box=1:boxcolor=black@0.7:boxborderw=20"
		}
		filters = append(filters, f)
	}

	return strings.Join(filters, ",")
}

// escapeDrawText protects the characters drawtext treats specially.
// Backslashes must go first.
func escapeDrawText(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return r.Replace(text)
}

// scaleFilter normalizes a clip to the output frame: fit inside WxH
// preserving aspect, then pad to exactly WxH.
func scaleFilter(width, height int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		width, height, width, height,
	)
}

// musicFilter builds the filter_complex mixing the planned music segments
// into one timeline: per-input trims, crossfades (or hard concats for
// short tracks), then volume and edge fades.
func musicFilter(m plan.MusicTimeline, total float64) string {
	var b strings.Builder

	// Trim each input to its planned duration.
	for i, seg := range m.Segments {
		fmt.Fprintf(&b, "[%d:a]atrim=duration=%s,asetpts=PTS-STARTPTS[t%d];",
			i, util.FormatSeconds(seg.Duration), i)
	}

	// Chain the trimmed inputs left to right.
	prev := "[t0]"
	for i := 1; i < len(m.Segments); i++ {
		out := fmt.Sprintf("[c%d]", i)
		if cf := m.Segments[i].CrossfadePrev; cf > 0 {
			fmt.Fprintf(&b, "%s[t%d]acrossfade=d=%s%s;", prev, i, util.FormatSeconds(cf), out)
		} else {
			fmt.Fprintf(&b, "%s[t%d]concat=n=2:v=0:a=1%s;", prev, i, out)
		}
		prev = out
	}

	fadeOutStart := total - m.FadeOut
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}
	fmt.Fprintf(&b, "%svolume=%s,afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s[aout]",
		prev,
		util.FormatSeconds(m.Volume),
		util.FormatSeconds(m.FadeIn),
		util.FormatSeconds(fadeOutStart),
		util.FormatSeconds(m.FadeOut),
	)
	return b.String()
}

// mixFilter combines n audio inputs into one stream, music first.
func mixFilter(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%d:a]", i)
	}
	fmt.Fprintf(&b, "amix=inputs=%d:duration=first:dropout_transition=2[aout]", n)
	return b.String()
}
