package llm

import (
	"context"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

// EmotionAnalyzer tags text with an emotion and a sentiment in [-1,1] using
// a text-generation client.
type EmotionAnalyzer struct {
	Client Client
}

func NewEmotionAnalyzer(c Client) *EmotionAnalyzer {
	return &EmotionAnalyzer{Client: c}
}

func (a *EmotionAnalyzer) Analyze(ctx context.Context, text string) (model.Emotion, float64, error) {
	content, err := GenerateText(ctx, a.Client, EmotionPrompt(text), EmotionParams)
	if err != nil {
		return "", 0, goerr.Wrap(err, "emotion analysis")
	}
	reading, err := ParseEmotionReading(content)
	if err != nil {
		return "", 0, goerr.Wrap(err, "emotion analysis")
	}
	emotion, err := model.ParseEmotion(reading.Emotion)
	if err != nil {
		return "", 0, err
	}
	return emotion, reading.Sentiment, nil
}
