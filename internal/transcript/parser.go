package transcript

import (
	"bufio"
	"encoding/json"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

// line is one record of a JSONL chat log. Two shapes are accepted: a flat
// {"role","content",...} object, and the envelope {"type","message":{...}}
// that chat exports wrap each turn in.
type line struct {
	Type      string          `json:"type"`
	Message   *line           `json:"message"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"` // string or []contentItem
	Emotion   string          `json:"emotion"`
	Sentiment *float64        `json:"sentiment"`
	Timestamp string          `json:"timestamp"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ParseFile reads a JSONL chat log.
func ParseFile(path string) ([]model.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "open chat log", goerr.V("path", path))
	}
	defer f.Close()

	msgs, err := Parse(f)
	if err != nil {
		return nil, goerr.Wrap(err, "parse chat log", goerr.V("path", path))
	}
	return msgs, nil
}

// Parse reads JSONL messages from r. Malformed lines and lines without
// usable text are skipped.
func Parse(r io.Reader) ([]model.Message, error) {
	var msgs []model.Message
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		m, ok := parseLine(raw)
		if ok {
			msgs = append(msgs, m)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "scan chat log")
	}
	return msgs, nil
}

// ParseLines parses chat log content held in a string.
func ParseLines(content string) ([]model.Message, error) {
	return Parse(strings.NewReader(content))
}

func parseLine(raw []byte) (model.Message, bool) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return model.Message{}, false
	}
	if l.Message != nil {
		inner := *l.Message
		if inner.Role == "" {
			inner.Role = l.Type
		}
		if inner.Timestamp == "" {
			inner.Timestamp = l.Timestamp
		}
		l = inner
	}

	role := model.Role(strings.ToLower(strings.TrimSpace(l.Role)))
	switch role {
	case model.RoleUser, model.RoleAssistant, model.RoleSystem:
	default:
		return model.Message{}, false
	}

	text := strings.TrimSpace(extractText(l.Content))
	if text == "" {
		return model.Message{}, false
	}

	m := model.Message{
		Role:      role,
		Content:   text,
		Timestamp: parseTime(l.Timestamp),
	}
	if e, err := model.ParseEmotion(l.Emotion); err == nil {
		m.Emotion = e
	}
	if l.Sentiment != nil && !math.IsNaN(*l.Sentiment) {
		v := math.Max(-1, math.Min(1, *l.Sentiment))
		m.Sentiment = &v
	}
	return m, true
}

// extractText handles content given as a plain string or as an array of
// typed blocks, of which only text blocks are kept.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []contentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		var texts []string
		for _, item := range items {
			if item.Type == "text" && item.Text != "" {
				texts = append(texts, item.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// CountUserMessages returns the number of user messages.
func CountUserMessages(msgs []model.Message) int {
	count := 0
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			count++
		}
	}
	return count
}
