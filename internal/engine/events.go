package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultMoodDays is the window MoodTrend covers when none is given.
const DefaultMoodDays = 7

// Event is something the owner logged outside a chat: a vet visit, a new
// food, a mood note.
type Event struct {
	PetID     string        `json:"pet_id"`
	Type      model.LogType `json:"type"`
	Summary   string        `json:"summary,omitempty"`
	Content   string        `json:"content"`
	Date      time.Time     `json:"date,omitempty"`
	Emotion   model.Emotion `json:"emotion,omitempty"`
	Sentiment *float64      `json:"sentiment,omitempty"`
}

// EventResult is the stored log and the memory it produced.
type EventResult struct {
	Log      *model.LogEntry `json:"log"`
	Fragment *model.Fragment `json:"fragment"`
}

func validateEvent(ev Event, now time.Time) (Event, error) {
	t, err := validateTurn(Turn{
		PetID:     ev.PetID,
		Content:   ev.Content,
		Emotion:   ev.Emotion,
		Sentiment: ev.Sentiment,
	})
	if err != nil {
		return ev, err
	}
	ev.PetID, ev.Content, ev.Sentiment = t.PetID, t.Content, t.Sentiment

	if !ev.Type.Valid() {
		return ev, goerr.Wrap(ErrInvalidInput, "invalid log type", goerr.V("type", ev.Type))
	}
	ev.Summary = truncateClean(strings.TrimSpace(ev.Summary), 200)
	if ev.Date.IsZero() || ev.Date.After(now) {
		ev.Date = now
	}
	return ev, nil
}

// RecordEvent remembers a logged event. The fragment is filed under the
// context of the log type and scored as of the event date. The open
// conversation is left alone.
func (e *Engine) RecordEvent(ctx context.Context, ev Event) (*EventResult, error) {
	ev, err := validateEvent(ev, e.now())
	if err != nil {
		return nil, err
	}
	log := logging.From(ctx).With("pet_id", ev.PetID, "type", ev.Type)

	if ev.Emotion == "" && e.emotions != nil {
		emotion, sentiment, err := e.emotions.Analyze(ctx, ev.Content)
		if err != nil {
			log.Warn("emotion analysis failed, storing untagged", "error", err)
		} else {
			ev.Emotion = emotion
			if ev.Sentiment == nil {
				ev.Sentiment = &sentiment
			}
		}
	}

	f := &model.Fragment{
		PetID:      ev.PetID,
		Content:    ev.Content,
		Timestamp:  ev.Date,
		Emotion:    ev.Emotion,
		Importance: e.Scorer.Score(ev.Content, ScoreContext{Timestamp: ev.Date, Sentiment: ev.Sentiment}, ev.Emotion),
		Context:    ev.Type.Context(),
	}
	if err := e.store.CreateFragment(ctx, f); err != nil {
		return nil, goerr.Wrap(err, "store event fragment")
	}
	e.index(ctx, f, nil)

	entry := &model.LogEntry{
		PetID:      ev.PetID,
		Type:       ev.Type,
		Summary:    ev.Summary,
		Content:    ev.Content,
		Date:       ev.Date,
		Sentiment:  ev.Sentiment,
		Emotion:    ev.Emotion,
		FragmentID: f.ID,
	}
	if err := e.store.CreateLog(ctx, entry); err != nil {
		return nil, goerr.Wrap(err, "store log entry")
	}

	log.Debug("event recorded", "fragment_id", f.ID, "importance", f.Importance)
	return &EventResult{Log: entry, Fragment: f}, nil
}

// MoodTrend rolls the emotion logs of the last days calendar days (UTC) into
// one entry per day, oldest first. Days with no emotion log are omitted.
func (e *Engine) MoodTrend(ctx context.Context, petID string, days int) ([]model.DailyMood, error) {
	if strings.TrimSpace(petID) == "" {
		return nil, ErrMissingPet
	}
	if days <= 0 {
		days = DefaultMoodDays
	}
	now := e.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -(days - 1))

	logs, err := e.store.ListLogs(ctx, petID, model.LogEmotion, from, time.Time{})
	if err != nil {
		return nil, goerr.Wrap(err, "load mood logs", goerr.V("pet_id", petID))
	}

	type day struct {
		mood  model.DailyMood
		order []model.Emotion
		sum   float64
		n     int
	}
	byDate := map[string]*day{}
	var dates []string

	// Logs arrive newest first.
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		key := l.Date.UTC().Format(time.DateOnly)
		d, ok := byDate[key]
		if !ok {
			d = &day{mood: model.DailyMood{Date: key, EmotionCounts: map[model.Emotion]int{}}}
			byDate[key] = d
			dates = append(dates, key)
		}
		d.mood.Logs++
		if l.Sentiment != nil {
			d.sum += *l.Sentiment
			d.n++
		}
		if l.Emotion != "" {
			if d.mood.EmotionCounts[l.Emotion] == 0 {
				d.order = append(d.order, l.Emotion)
			}
			d.mood.EmotionCounts[l.Emotion]++
		}
	}

	out := make([]model.DailyMood, 0, len(dates))
	for _, key := range dates {
		d := byDate[key]
		if d.n > 0 {
			d.mood.AvgSentiment = math.Round(d.sum/float64(d.n)*1000) / 1000
		}
		best := 0
		for _, em := range d.order {
			if c := d.mood.EmotionCounts[em]; c > best {
				best = c
				d.mood.MainEmotion = em
			}
		}
		out = append(out, d.mood)
	}
	return out, nil
}

// SavePet validates and stores a profile.
func (e *Engine) SavePet(ctx context.Context, p *model.Pet) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return ErrMissingPet
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return goerr.Wrap(ErrInvalidInput, "pet name is required", goerr.V("pet_id", p.ID))
	}
	if math.IsNaN(p.Age) || math.IsInf(p.Age, 0) || p.Age < 0 {
		return goerr.Wrap(ErrInvalidInput, "invalid age", goerr.V("age", p.Age))
	}
	if err := e.store.UpsertPet(ctx, p); err != nil {
		return goerr.Wrap(err, "save pet", goerr.V("pet_id", p.ID))
	}
	return nil
}
