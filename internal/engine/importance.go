package engine

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kodapet/koda/internal/model"
)

const (
	baseImportance     = 0.5
	fallbackImportance = 0.5
	emotionWeight      = 0.2
	salientKeywordBump = 0.1
	decayDays          = 365.0
)

// salientKeywords mark events worth remembering: firsts, illness, accidents,
// growth and milestones. Matching ignores case.
var salientKeywords = []string{
	"第一次", "生病", "手术", "事故", "成长",
	"里程碑", "变化", "异常", "重要", "特殊",
	"first time", "sick", "surgery", "accident", "growth",
	"milestone", "change", "abnormal", "important", "special",
}

// ScoreContext is the metadata importance scoring needs beyond the text.
type ScoreContext struct {
	Timestamp time.Time
	Sentiment *float64
}

// Scorer computes fragment importance.
type Scorer struct {
	Now func() time.Time
}

func NewScorer() *Scorer {
	return &Scorer{Now: time.Now}
}

// Score returns a value in [0,1]:
//
//	(0.5 + |sentiment|*0.2 [emotion and sentiment present] + 0.1*salient matches)
//	  * exp(-days/365), clamped
//
// A missing timestamp or a non-finite sentiment yields 0.5. The decay term is
// also applied when scoring a brand-new fragment, where it is ~1; this is a
// known quirk kept for compatibility with stored scores.
func (s *Scorer) Score(content string, sc ScoreContext, emotion model.Emotion) float64 {
	if sc.Timestamp.IsZero() {
		return fallbackImportance
	}
	if sc.Sentiment != nil && (math.IsNaN(*sc.Sentiment) || math.IsInf(*sc.Sentiment, 0)) {
		return fallbackImportance
	}

	score := baseImportance
	if emotion != "" && sc.Sentiment != nil {
		score += math.Abs(*sc.Sentiment) * emotionWeight
	}
	score += float64(salientMatches(content)) * salientKeywordBump
	score *= decay(model.DaysBetween(sc.Timestamp, s.Now()))

	return clamp01(score)
}

// salientMatches counts salient keywords in content. Chinese terms match as
// substrings, Latin terms only as whole words.
func salientMatches(content string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, kw := range salientKeywords {
		if kw[0] < utf8.RuneSelf {
			if containsWord(lower, kw) {
				n++
			}
			continue
		}
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

func containsWord(s, word string) bool {
	for i := 0; i <= len(s)-len(word); {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		i = start + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// decay is the one-year exponential time weight shared by scoring and ranking.
func decay(days int) float64 {
	return math.Exp(-float64(days) / decayDays)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return fallbackImportance
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 and the common ISO-8601 variants without a
// zone (read as local time). Unparseable input returns the zero time, which
// Score treats as a failure.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
