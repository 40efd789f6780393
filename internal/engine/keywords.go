package engine

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kodapet/koda/internal/llm"
	"github.com/kodapet/koda/internal/logging"
)

// MaxKeywords caps how many terms Extract returns.
const MaxKeywords = 5

// KeywordExtractor turns free text into a small set of salient terms by
// asking the text-generation client. Results are memoized per input text.
type KeywordExtractor struct {
	llm   llm.Client
	cache *lru.Cache[string, []string]
}

// NewKeywordExtractor creates an extractor. cacheSize <= 0 disables the cache.
func NewKeywordExtractor(client llm.Client, cacheSize int) *KeywordExtractor {
	k := &KeywordExtractor{llm: client}
	if cacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		k.cache, _ = lru.New[string, []string](cacheSize)
	}
	return k
}

// Extract returns at most MaxKeywords distinct keywords. It never fails: an
// unavailable client or an unparseable answer yields an empty set, which is
// not cached so a later call can retry.
func (k *KeywordExtractor) Extract(ctx context.Context, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if k.cache != nil {
		if kw, ok := k.cache.Get(text); ok {
			return kw
		}
	}

	content, err := llm.GenerateText(ctx, k.llm, llm.KeywordPrompt(text), llm.KeywordParams)
	if err != nil {
		logging.From(ctx).Warn("keyword extraction failed", "error", err)
		return nil
	}
	raw, err := llm.ParseStringList(content)
	if err != nil {
		logging.From(ctx).Warn("keyword extraction returned malformed output", "error", err)
		return nil
	}

	kw := normalizeKeywords(raw)
	if k.cache != nil {
		k.cache.Add(text, kw)
	}
	return kw
}

// normalizeKeywords trims, drops blanks, dedupes case-insensitively keeping
// the first spelling, and caps the result at MaxKeywords.
func normalizeKeywords(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, MaxKeywords)
	for _, w := range raw {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		key := strings.ToLower(w)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, w)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}
