package llm

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/titanous/json5"
)

var (
	stringListSchema = jsonschema.MustCompileString("string-list.json", `{
		"type": "array",
		"items": {"type": "string"}
	}`)

	emotionSchema = jsonschema.MustCompileString("emotion.json", `{
		"type": "object",
		"required": ["sentiment", "emotion"],
		"properties": {
			"sentiment": {"type": "number", "minimum": -1, "maximum": 1},
			"emotion": {"enum": ["happy", "excited", "calm", "neutral", "anxious", "sad", "angry"]}
		}
	}`)
)

// extractJSON strips markdown fences and surrounding chatter, returning the
// outermost span delimited by open/close.
func extractJSON(content string, open, close byte) (string, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.IndexByte(content, open)
	end := strings.LastIndexByte(content, close)
	if start < 0 || end < 0 || end <= start {
		return "", goerr.New("no JSON value found in response", goerr.V("content", truncate(content, 120)))
	}
	return content[start : end+1], nil
}

// decodeValidated parses raw leniently (trailing commas, single quotes and
// comments are common in model output), validates it against schema, and
// decodes it into out.
func decodeValidated(raw string, schema *jsonschema.Schema, out any) error {
	var doc any
	if err := json5.Unmarshal([]byte(raw), &doc); err != nil {
		return goerr.Wrap(err, "parse model json")
	}
	if err := schema.Validate(doc); err != nil {
		return goerr.Wrap(err, "model json does not match schema")
	}
	if err := json5.Unmarshal([]byte(raw), out); err != nil {
		return goerr.Wrap(err, "decode model json")
	}
	return nil
}

// ParseStringList extracts a JSON array of strings from a model response.
func ParseStringList(content string) ([]string, error) {
	raw, err := extractJSON(content, '[', ']')
	if err != nil {
		return nil, err
	}
	var out []string
	if err := decodeValidated(raw, stringListSchema, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EmotionReading is the {sentiment, emotion} object produced by the
// emotion analysis prompt.
type EmotionReading struct {
	Sentiment float64 `json:"sentiment"`
	Emotion   string  `json:"emotion"`
}

// ParseEmotionReading extracts and validates an emotion analysis object.
func ParseEmotionReading(content string) (*EmotionReading, error) {
	raw, err := extractJSON(content, '{', '}')
	if err != nil {
		return nil, err
	}
	var out EmotionReading
	if err := decodeValidated(raw, emotionSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
