package model

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Emotion is a tag from the closed emotion vocabulary. The empty value means
// the fragment or message carries no emotion.
type Emotion string

const (
	EmotionHappy   Emotion = "happy"
	EmotionExcited Emotion = "excited"
	EmotionCalm    Emotion = "calm"
	EmotionNeutral Emotion = "neutral"
	EmotionAnxious Emotion = "anxious"
	EmotionSad     Emotion = "sad"
	EmotionAngry   Emotion = "angry"
)

// Emotions lists the vocabulary in display order.
var Emotions = []Emotion{
	EmotionHappy, EmotionExcited, EmotionCalm, EmotionNeutral,
	EmotionAnxious, EmotionSad, EmotionAngry,
}

// Valid reports whether e is a member of the vocabulary. The empty value is not.
func (e Emotion) Valid() bool {
	for _, v := range Emotions {
		if e == v {
			return true
		}
	}
	return false
}

// ParseEmotion accepts a vocabulary member in any case. An empty string
// parses to the empty Emotion.
func ParseEmotion(s string) (Emotion, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	e := Emotion(s)
	if !e.Valid() {
		return "", goerr.New("unknown emotion", goerr.V("emotion", s))
	}
	return e, nil
}

// Context is the closed category a fragment was recorded under.
type Context string

const (
	ContextConversation Context = "conversation"
	ContextBehavior     Context = "behavior"
	ContextEmotion      Context = "emotion"
	ContextHealth       Context = "health"
	ContextDiet         Context = "diet"
	ContextOther        Context = "other"
)

var Contexts = []Context{
	ContextConversation, ContextBehavior, ContextEmotion,
	ContextHealth, ContextDiet, ContextOther,
}

func (c Context) Valid() bool {
	for _, v := range Contexts {
		if c == v {
			return true
		}
	}
	return false
}

// ParseContext accepts a vocabulary member in any case.
func ParseContext(s string) (Context, error) {
	c := Context(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", goerr.New("unknown context", goerr.V("context", s))
	}
	return c, nil
}

// Fragment is an atomic remembered unit tied to one pet.
type Fragment struct {
	ID         string    `json:"id"`
	PetID      string    `json:"pet_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Emotion    Emotion   `json:"emotion,omitempty"`
	Importance float64   `json:"importance"`
	Context    Context   `json:"context"`
	References []string  `json:"references"`
}

// AgeDays returns whole days elapsed since the fragment was created,
// rounded toward negative infinity.
func (f Fragment) AgeDays(now time.Time) int {
	return DaysBetween(f.Timestamp, now)
}

// HasReference reports whether id is already linked from f.
func (f Fragment) HasReference(id string) bool {
	for _, r := range f.References {
		if r == id {
			return true
		}
	}
	return false
}

// Link is a resolved reference. Target is nil when the referenced fragment
// no longer exists.
type Link struct {
	ID     string    `json:"id"`
	Target *Fragment `json:"target,omitempty"`
}

// Available reports whether the link target could be loaded.
func (l Link) Available() bool { return l.Target != nil }

// Index is the denormalized keyword lookup for a fragment. Importance is a
// snapshot taken at index time and is never read back as truth.
type Index struct {
	MemoryID    string    `json:"memory_id"`
	Keywords    []string  `json:"keywords"`
	EmotionTags []string  `json:"emotion_tags"`
	Importance  float64   `json:"importance"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// DaysBetween counts whole days from -> to, flooring partial days.
func DaysBetween(from, to time.Time) int {
	d := to.Sub(from)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}
