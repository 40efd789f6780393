package engine

import (
	"context"
	"sort"

	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

// maxImportedFragments caps how many fragments one imported window keeps.
const maxImportedFragments = 5

// CloseConversation summarizes and closes the pet's open conversation. It
// returns nil when the pet has none open.
func (e *Engine) CloseConversation(ctx context.Context, petID string) (*model.Conversation, error) {
	e.convMu.Lock()
	defer e.convMu.Unlock()

	conv, err := e.store.OpenConversation(ctx, petID)
	if err != nil || conv == nil {
		return nil, err
	}
	if err := e.closeConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// closeConversation must be called with convMu held.
func (e *Engine) closeConversation(ctx context.Context, conv *model.Conversation) error {
	e.summarizeInto(ctx, conv)
	if err := conv.Close(e.now()); err != nil {
		return err
	}
	if err := e.store.UpdateConversation(ctx, conv); err != nil {
		return goerr.Wrap(err, "close conversation", goerr.V("id", conv.ID))
	}
	logging.From(ctx).Info("conversation closed",
		"id", conv.ID, "pet_id", conv.PetID, "topic", conv.Topic, "messages", len(conv.Messages))
	return nil
}

func (e *Engine) summarizeInto(ctx context.Context, conv *model.Conversation) {
	sum := e.Summarizer.Summarize(ctx, conv.Messages)
	conv.Summary = sum.Summary
	conv.KeyPoints = sum.KeyPoints
	conv.Emotions = sum.Emotions
	if conv.Topic == "" {
		conv.Topic = e.Summarizer.Topic(ctx, conv.Messages)
	}
}

// DetectTopicShift labels the last TopicWindow messages of the pet's open
// conversation. An unlabeled conversation takes the label. When the label
// differs from the current topic the conversation is closed and a new one is
// opened under the new topic. It reports whether a shift happened.
func (e *Engine) DetectTopicShift(ctx context.Context, petID string) (bool, string, error) {
	e.convMu.Lock()
	defer e.convMu.Unlock()

	conv, err := e.store.OpenConversation(ctx, petID)
	if err != nil {
		return false, "", goerr.Wrap(err, "load open conversation")
	}
	if conv == nil || len(conv.Messages) == 0 {
		return false, "", nil
	}

	window := conv.Messages
	if n := e.opts.TopicWindow; n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	topic := e.Summarizer.Topic(ctx, window)
	if topic == "" || topic == TopicFallback {
		return false, conv.Topic, nil
	}

	switch conv.Topic {
	case topic:
		return false, topic, nil
	case "":
		conv.Topic = topic
		if err := e.store.UpdateConversation(ctx, conv); err != nil {
			return false, "", goerr.Wrap(err, "label conversation", goerr.V("id", conv.ID))
		}
		return false, topic, nil
	}

	if err := e.closeConversation(ctx, conv); err != nil {
		return false, "", err
	}
	next := &model.Conversation{PetID: petID, Topic: topic, StartTime: e.now()}
	if err := e.store.CreateConversation(ctx, next); err != nil {
		return false, "", goerr.Wrap(err, "open conversation", goerr.V("pet_id", petID))
	}
	logging.From(ctx).Info("topic shift", "pet_id", petID, "from", conv.Topic, "to", topic)
	return true, topic, nil
}

// GenerateFragments scores every message of a window and returns the most
// important ones, highest first. Messages without a timestamp are stamped
// with the current time but scored at the fallback importance.
func (e *Engine) GenerateFragments(petID string, messages []model.Message) []model.Fragment {
	now := e.now()
	frags := make([]model.Fragment, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		ts := m.Timestamp
		importance := e.Scorer.Score(m.Content, ScoreContext{Timestamp: ts, Sentiment: m.Sentiment}, m.Emotion)
		if ts.IsZero() {
			ts = now
		}
		frags = append(frags, model.Fragment{
			PetID:      petID,
			Content:    m.Content,
			Timestamp:  ts,
			Emotion:    m.Emotion,
			Importance: importance,
			Context:    model.ContextConversation,
			References: []string{},
		})
	}

	sort.SliceStable(frags, func(i, j int) bool {
		return frags[i].Importance > frags[j].Importance
	})
	if len(frags) > maxImportedFragments {
		frags = frags[:maxImportedFragments]
	}
	return frags
}

// ImportConversation stores a finished chat window that never went through
// ProcessTurn: its most important messages become fragments and the window
// becomes a closed conversation referencing them.
func (e *Engine) ImportConversation(ctx context.Context, petID string, messages []model.Message) (*model.Conversation, error) {
	if petID == "" {
		return nil, ErrMissingPet
	}
	if len(messages) == 0 {
		return nil, goerr.Wrap(ErrInvalidInput, "nothing to import", goerr.V("pet_id", petID))
	}

	frags := e.GenerateFragments(petID, messages)
	conv := &model.Conversation{
		PetID:     petID,
		StartTime: e.now(),
		Messages:  messages,
		Fragments: make([]string, 0, len(frags)),
	}
	for i := range frags {
		if err := e.store.CreateFragment(ctx, &frags[i]); err != nil {
			return nil, goerr.Wrap(err, "store imported fragment", goerr.V("pet_id", petID))
		}
		e.index(ctx, &frags[i], nil)
		conv.Fragments = append(conv.Fragments, frags[i].ID)
	}

	first, last := messages[0].Timestamp, messages[len(messages)-1].Timestamp
	if !first.IsZero() {
		conv.StartTime = first
	}
	e.summarizeInto(ctx, conv)
	end := e.now()
	if !last.IsZero() {
		end = last
	}
	if err := conv.Close(end); err != nil {
		return nil, err
	}
	if err := e.store.CreateConversation(ctx, conv); err != nil {
		return nil, goerr.Wrap(err, "store imported conversation", goerr.V("pet_id", petID))
	}

	logging.From(ctx).Info("conversation imported",
		"id", conv.ID, "pet_id", petID, "messages", len(messages), "fragments", len(frags))
	return conv, nil
}
