package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kodapet/koda/internal/engine"
	"github.com/kodapet/koda/internal/model"
	"github.com/mattn/go-runewidth"
)

// contentWidth is the terminal cell budget for a fragment's text.
const contentWidth = 48

// cell pads or clips s to exactly width terminal cells. CJK runes count
// double.
func cell(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

func emotionLabel(e model.Emotion) string {
	if e == "" {
		return "-"
	}
	return string(e)
}

// printFragments writes one aligned row per fragment.
func printFragments(w io.Writer, frags []model.Fragment, now time.Time) {
	fmt.Fprintf(w, "%s  %s  %s  %s  %s\n",
		cell("ID", 26), cell("IMP", 4), cell("EMOTION", 7), cell("CONTENT", contentWidth), "WHEN")
	for _, f := range frags {
		fmt.Fprintf(w, "%s  %.2f  %s  %s  %s\n",
			cell(f.ID, 26), f.Importance, cell(emotionLabel(f.Emotion), 7),
			cell(f.Content, contentWidth), humanize.RelTime(f.Timestamp, now, "ago", "from now"))
	}
}

// printRanked writes recalled memories with their score breakdown.
func printRanked(w io.Writer, ranked []engine.Ranked, now time.Time) {
	for i, r := range ranked {
		fmt.Fprintf(w, "%d. [%.3f] %s  (%s)\n", i+1, r.Score,
			cell(r.Fragment.Content, contentWidth),
			humanize.RelTime(r.Fragment.Timestamp, now, "ago", "from now"))
		fmt.Fprintf(w, "   keyword %.2f  time %.2f  importance %.2f  %s\n",
			r.Keyword, r.Recency, r.Fragment.Importance, r.Fragment.ID)
	}
}
