package engine

import (
	"context"
	"math"
	"strings"

	"github.com/kodapet/koda/internal/llm"
	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/model"
	"github.com/kodapet/koda/internal/transcript"
)

const (
	// SummaryFallback is the placeholder summary used when generation fails.
	SummaryFallback = "对话记录"
	// TopicFallback labels a conversation whose topic could not be generated.
	TopicFallback = "日常对话"

	// Windows longer than this many runes are condensed before prompting.
	condenseThreshold = 4000

	MaxKeyPoints = 5
)

// Summary is the rollup of one message window.
type Summary struct {
	Summary   string               `json:"summary"`
	KeyPoints []string             `json:"key_points"`
	Emotions  model.EmotionSummary `json:"emotions"`
}

// Summarizer collapses message windows into summaries, key points and topic
// labels.
type Summarizer struct {
	LLM llm.Client
}

func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{LLM: client}
}

// Summarize never fails: generation errors fall back to SummaryFallback and
// an empty key-point list. Emotions are always computed locally.
func (s *Summarizer) Summarize(ctx context.Context, messages []model.Message) Summary {
	out := Summary{
		Summary:   SummaryFallback,
		KeyPoints: []string{},
		Emotions:  SummarizeEmotions(messages),
	}
	if len(messages) == 0 {
		return out
	}
	window := windowText(messages)
	log := logging.From(ctx)

	if text, err := llm.GenerateText(ctx, s.LLM, llm.SummaryPrompt(window), llm.SummaryParams); err != nil {
		log.Warn("conversation summary failed", "error", err)
	} else {
		out.Summary = text
	}

	content, err := llm.GenerateText(ctx, s.LLM, llm.KeyPointsPrompt(window), llm.KeyPointsParams)
	if err != nil {
		log.Warn("key point extraction failed", "error", err)
		return out
	}
	points, err := llm.ParseStringList(content)
	if err != nil {
		log.Warn("key point extraction returned malformed output", "error", err)
		return out
	}
	for _, p := range points {
		if len(out.KeyPoints) == MaxKeyPoints {
			break
		}
		if p = strings.TrimSpace(p); p != "" {
			out.KeyPoints = append(out.KeyPoints, p)
		}
	}
	return out
}

// Topic returns a short label for the window, or TopicFallback.
func (s *Summarizer) Topic(ctx context.Context, messages []model.Message) string {
	if len(messages) == 0 {
		return TopicFallback
	}
	text, err := llm.GenerateText(ctx, s.LLM, llm.TopicPrompt(windowText(messages)), llm.TopicParams)
	if err != nil {
		logging.From(ctx).Warn("topic detection failed", "error", err)
		return TopicFallback
	}
	return strings.Trim(text, " \t\n\"'“”「」。.")
}

// windowText joins message contents in order, condensing long windows.
func windowText(messages []model.Message) string {
	total := 0
	for _, m := range messages {
		total += len([]rune(m.Content))
	}
	if total > condenseThreshold {
		return transcript.Condense(messages)
	}
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

// SummarizeEmotions computes the emotion distribution of a window. The main
// emotion is the mode, ties going to the emotion seen first. Sentiment
// statistics are zero when no message carries a sentiment.
func SummarizeEmotions(messages []model.Message) model.EmotionSummary {
	sum := model.EmotionSummary{EmotionCounts: map[model.Emotion]int{}}

	var order []model.Emotion
	var sentiments []float64
	for _, m := range messages {
		if m.Emotion != "" {
			if sum.EmotionCounts[m.Emotion] == 0 {
				order = append(order, m.Emotion)
			}
			sum.EmotionCounts[m.Emotion]++
		}
		if m.Sentiment != nil && !math.IsNaN(*m.Sentiment) {
			sentiments = append(sentiments, *m.Sentiment)
		}
	}

	best := 0
	for _, e := range order {
		if c := sum.EmotionCounts[e]; c > best {
			best = c
			sum.MainEmotion = e
		}
	}

	if len(sentiments) == 0 {
		return sum
	}
	total := 0.0
	sum.SentimentMin, sum.SentimentMax = sentiments[0], sentiments[0]
	for _, v := range sentiments {
		total += v
		sum.SentimentMin = math.Min(sum.SentimentMin, v)
		sum.SentimentMax = math.Max(sum.SentimentMax, v)
	}
	mean := total / float64(len(sentiments))
	variance := 0.0
	for _, v := range sentiments {
		variance += (v - mean) * (v - mean)
	}
	sum.AvgSentiment = mean
	sum.SentimentStd = math.Sqrt(variance / float64(len(sentiments)))
	return sum
}
