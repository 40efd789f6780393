package engine

import (
	"math"
	"strings"
	"unicode"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

// maxContentRunes bounds a single turn. Longer content is truncated, not
// rejected.
const maxContentRunes = 4000

// ErrInvalidInput is the root of every error caused by bad caller input.
var ErrInvalidInput = goerr.New("invalid input")

var (
	ErrEmptyContent = goerr.Wrap(ErrInvalidInput, "content is empty")
	ErrMissingPet   = goerr.Wrap(ErrInvalidInput, "pet id is required")
)

// Turn is one chat message to be remembered.
type Turn struct {
	PetID     string        `json:"pet_id"`
	Role      model.Role    `json:"role"`
	Content   string        `json:"content"`
	Context   model.Context `json:"context,omitempty"`
	Emotion   model.Emotion `json:"emotion,omitempty"`
	Sentiment *float64      `json:"sentiment,omitempty"`
}

// validateTurn checks a turn for garbage and returns a normalized copy.
func validateTurn(t Turn) (Turn, error) {
	t.PetID = strings.TrimSpace(t.PetID)
	if t.PetID == "" {
		return t, ErrMissingPet
	}

	t.Content = strings.TrimSpace(t.Content)
	if t.Content == "" {
		return t, goerr.Wrap(ErrEmptyContent, "validate turn", goerr.V("pet_id", t.PetID))
	}
	t.Content = truncateClean(t.Content, maxContentRunes)

	switch t.Role {
	case "":
		t.Role = model.RoleUser
	case model.RoleUser, model.RoleAssistant, model.RoleSystem:
	default:
		return t, goerr.Wrap(ErrInvalidInput, "invalid role", goerr.V("role", t.Role))
	}

	if t.Context != "" && !t.Context.Valid() {
		return t, goerr.Wrap(ErrInvalidInput, "invalid context", goerr.V("context", t.Context))
	}
	if t.Emotion != "" && !t.Emotion.Valid() {
		return t, goerr.Wrap(ErrInvalidInput, "invalid emotion", goerr.V("emotion", t.Emotion))
	}

	if t.Sentiment != nil {
		v := *t.Sentiment
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return t, goerr.Wrap(ErrInvalidInput, "invalid sentiment", goerr.V("sentiment", v))
		}
		v = math.Max(-1, math.Min(1, v))
		t.Sentiment = &v
	}
	return t, nil
}

// truncateClean cuts s to at most maxRunes runes, backing up to the last
// whitespace when one is close to the cut.
func truncateClean(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}

	truncated := r[:maxRunes]
	for i := len(truncated) - 1; i > maxRunes-200 && i > 0; i-- {
		if unicode.IsSpace(truncated[i]) {
			truncated = truncated[:i]
			break
		}
	}
	return strings.TrimSpace(string(truncated))
}
