package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kodapet/koda/internal/model"
)

const (
	keywordWeight    = 0.4
	recencyWeight    = 0.3
	importanceWeight = 0.3
)

// Ranked is a fragment with its relevance breakdown. Relevance is computed
// per query and never persisted.
type Ranked struct {
	Fragment model.Fragment `json:"fragment"`
	Keyword  float64        `json:"keyword_score"`
	Recency  float64        `json:"time_score"`
	Score    float64        `json:"score"`
}

// Ranker orders candidate fragments against a query. It does not touch
// storage; callers supply the candidates.
type Ranker struct {
	Keywords *KeywordExtractor
	Now      func() time.Time
}

func NewRanker(k *KeywordExtractor) *Ranker {
	return &Ranker{Keywords: k, Now: time.Now}
}

// Retrieve returns at most topK candidates, most relevant first.
func (r *Ranker) Retrieve(ctx context.Context, query string, candidates []model.Fragment, topK int) []model.Fragment {
	ranked := r.Rank(ctx, query, candidates, topK, nil)
	out := make([]model.Fragment, len(ranked))
	for i, rk := range ranked {
		out[i] = rk.Fragment
	}
	return out
}

// Rank scores every candidate as 0.4*keyword + 0.3*time + 0.3*importance and
// returns the topK best, ties going to the more recent fragment. known maps
// fragment id to precomputed keywords; candidates missing from it are run
// through the extractor.
func (r *Ranker) Rank(ctx context.Context, query string, candidates []model.Fragment, topK int, known map[string][]string) []Ranked {
	if topK <= 0 || len(candidates) == 0 {
		return []Ranked{}
	}

	queryKW := r.Keywords.Extract(ctx, query)
	now := r.Now()

	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		kw, ok := known[c.ID]
		if !ok {
			kw = r.Keywords.Extract(ctx, c.Content)
		}
		ks := keywordOverlap(queryKW, kw)
		ts := decay(model.DaysBetween(c.Timestamp, now))
		ranked = append(ranked, Ranked{
			Fragment: c,
			Keyword:  ks,
			Recency:  ts,
			Score:    keywordWeight*ks + recencyWeight*ts + importanceWeight*c.Importance,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Fragment.Timestamp.Equal(b.Fragment.Timestamp) {
			return a.Fragment.Timestamp.After(b.Fragment.Timestamp)
		}
		return a.Fragment.ID < b.Fragment.ID
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// keywordOverlap is |Q ∩ C| / max(|Q|, 1), compared case-insensitively.
func keywordOverlap(query, candidate []string) float64 {
	q := lowerSet(query)
	c := lowerSet(candidate)
	shared := 0
	for w := range q {
		if c[w] {
			shared++
		}
	}
	denom := len(q)
	if denom < 1 {
		denom = 1
	}
	return float64(shared) / float64(denom)
}

func lowerSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			m[w] = true
		}
	}
	return m
}
