package model

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Pet is the stored profile of a companion. It shapes the voice of replies.
type Pet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	Breed     string    `json:"breed,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Age       float64   `json:"age"`
	Size      string    `json:"size,omitempty"`
	Behavior  string    `json:"behavior,omitempty"`
	Diet      string    `json:"diet,omitempty"`
	Traits    []string  `json:"traits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogType is the kind of owner-logged event.
type LogType string

const (
	LogChat     LogType = "chat"
	LogEmotion  LogType = "emotion"
	LogBehavior LogType = "behavior"
	LogHealth   LogType = "health"
	LogDiet     LogType = "diet"
)

var LogTypes = []LogType{LogChat, LogEmotion, LogBehavior, LogHealth, LogDiet}

func (t LogType) Valid() bool {
	for _, v := range LogTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseLogType accepts a log type in any case.
func ParseLogType(s string) (LogType, error) {
	t := LogType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", goerr.New("unknown log type", goerr.V("type", s))
	}
	return t, nil
}

// Context maps a log type to the fragment context it is remembered under.
func (t LogType) Context() Context {
	switch t {
	case LogEmotion:
		return ContextEmotion
	case LogBehavior:
		return ContextBehavior
	case LogHealth:
		return ContextHealth
	case LogDiet:
		return ContextDiet
	case LogChat:
		return ContextConversation
	}
	return ContextOther
}

// LogEntry is one event the owner recorded outside a chat. FragmentID names
// the memory it produced.
type LogEntry struct {
	ID         string    `json:"id"`
	PetID      string    `json:"pet_id"`
	Type       LogType   `json:"type"`
	Summary    string    `json:"summary,omitempty"`
	Content    string    `json:"content"`
	Date       time.Time `json:"date"`
	Sentiment  *float64  `json:"sentiment,omitempty"`
	Emotion    Emotion   `json:"emotion,omitempty"`
	FragmentID string    `json:"fragment_id,omitempty"`
}

// DailyMood rolls up one calendar day of emotion logs.
type DailyMood struct {
	Date          string          `json:"date"`
	AvgSentiment  float64         `json:"avg_sentiment"`
	MainEmotion   Emotion         `json:"main_emotion,omitempty"`
	EmotionCounts map[Emotion]int `json:"emotion_counts"`
	Logs          int             `json:"logs"`
}
