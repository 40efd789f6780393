package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one chat turn inside a conversation window.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Emotion   Emotion   `json:"emotion,omitempty"`
	Sentiment *float64  `json:"sentiment,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// EmotionSummary aggregates the emotion tags and sentiment values observed
// across a message window.
type EmotionSummary struct {
	MainEmotion   Emotion         `json:"main_emotion,omitempty"`
	AvgSentiment  float64         `json:"avg_sentiment"`
	EmotionCounts map[Emotion]int `json:"emotion_counts"`
	SentimentStd  float64         `json:"sentiment_std"`
	SentimentMin  float64         `json:"sentiment_min"`
	SentimentMax  float64         `json:"sentiment_max"`
}

// Conversation is the rollup of a bounded window of chat turns.
// EndTime is nil exactly while the conversation is open.
type Conversation struct {
	ID        string         `json:"id"`
	PetID     string         `json:"pet_id"`
	Topic     string         `json:"topic"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time"`
	Messages  []Message      `json:"messages"`
	Summary   string         `json:"summary"`
	KeyPoints []string       `json:"key_points"`
	Emotions  EmotionSummary `json:"emotions"`
	Fragments []string       `json:"fragments"`
}

var (
	ErrConversationClosed = goerr.New("conversation is closed")
)

func (c *Conversation) IsOpen() bool { return c.EndTime == nil }

// Append adds a message to an open conversation.
func (c *Conversation) Append(m Message) error {
	if !c.IsOpen() {
		return goerr.Wrap(ErrConversationClosed, "append message", goerr.V("conversation_id", c.ID))
	}
	c.Messages = append(c.Messages, m)
	return nil
}

// AddFragment records a fragment id generated from this window.
func (c *Conversation) AddFragment(id string) error {
	if !c.IsOpen() {
		return goerr.Wrap(ErrConversationClosed, "add fragment", goerr.V("conversation_id", c.ID))
	}
	c.Fragments = append(c.Fragments, id)
	return nil
}

// Close stamps the end time. A closed conversation cannot be closed again.
func (c *Conversation) Close(at time.Time) error {
	if !c.IsOpen() {
		return goerr.Wrap(ErrConversationClosed, "close conversation", goerr.V("conversation_id", c.ID))
	}
	c.EndTime = &at
	return nil
}
