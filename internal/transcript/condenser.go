package transcript

import (
	"strings"

	"github.com/kodapet/koda/internal/model"
)

const (
	firstLastAssistantMax = 1000
	midAssistantMax       = 200
)

// Condense reduces a long window to the text worth summarizing, in order:
//   - every user message in full
//   - the first and last assistant message, up to 1000 characters
//   - other assistant messages, up to 200 characters
//   - system messages dropped
func Condense(msgs []model.Message) string {
	assistants := 0
	for _, m := range msgs {
		if m.Role == model.RoleAssistant {
			assistants++
		}
	}

	var b strings.Builder
	seen := 0
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			b.WriteString("[USER] ")
			b.WriteString(m.Content)
		case model.RoleAssistant:
			limit := midAssistantMax
			if seen == 0 || seen == assistants-1 {
				limit = firstLastAssistantMax
			}
			seen++
			b.WriteString("[ASSISTANT] ")
			b.WriteString(clip(m.Content, limit))
		default:
			continue
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// clip cuts s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
