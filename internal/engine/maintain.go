package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kodapet/koda/internal/llm"
	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/model"
)

const (
	// MergeFailed is returned by Merge when generation fails.
	MergeFailed = "记忆合并失败"

	nearDuplicateThreshold = 0.95
)

// Maintainer reinforces, prunes and merges fragments. Reinforce, Prune and
// Duplicates are pure; Merge calls the text-generation client.
type Maintainer struct {
	LLM llm.Client
	Now func() time.Time
}

func NewMaintainer(client llm.Client) *Maintainer {
	return &Maintainer{LLM: client, Now: time.Now}
}

// Reinforce returns a copy of f with importance
//
//	old*0.5 + min(count/10, 1)*0.2 + min(|impact|, 1)*0.3
//
// clamped to [0,1]. Negative counts count as zero. A NaN impact leaves the
// fragment unchanged.
func (m *Maintainer) Reinforce(f model.Fragment, interactionCount int, emotionalImpact float64) model.Fragment {
	if math.IsNaN(emotionalImpact) {
		return f
	}
	if interactionCount < 0 {
		interactionCount = 0
	}
	interaction := math.Min(float64(interactionCount)/10, 1.0)
	impact := math.Min(math.Abs(emotionalImpact), 1.0)

	f.Importance = clamp01(f.Importance*0.5 + interaction*0.2 + impact*0.3)
	return f
}

// Prune keeps a fragment iff it is young enough or important enough:
// age_days <= maxAgeDays || importance >= minImportance. Order is preserved.
func (m *Maintainer) Prune(fragments []model.Fragment, maxAgeDays int, minImportance float64) []model.Fragment {
	now := m.Now()
	kept := make([]model.Fragment, 0, len(fragments))
	for _, f := range fragments {
		if f.AgeDays(now) <= maxAgeDays || f.Importance >= minImportance {
			kept = append(kept, f)
		}
	}
	return kept
}

// DuplicateGroup is a set of near-identical fragments of one pet. Keep
// survives and absorbs the references of Drop.
type DuplicateGroup struct {
	Keep model.Fragment
	Drop []model.Fragment
}

// Duplicates clusters fragments whose contents are near-identical, per pet.
// The survivor is the most important fragment, then the newest.
func (m *Maintainer) Duplicates(fragments []model.Fragment) []DuplicateGroup {
	byPet := make(map[string][]model.Fragment)
	var pets []string
	for _, f := range fragments {
		if _, ok := byPet[f.PetID]; !ok {
			pets = append(pets, f.PetID)
		}
		byPet[f.PetID] = append(byPet[f.PetID], f)
	}

	var groups []DuplicateGroup
	for _, pet := range pets {
		frags := byPet[pet]
		claimed := make(map[int]bool)

		for i := range frags {
			if claimed[i] {
				continue
			}
			cluster := []int{i}
			for j := i + 1; j < len(frags); j++ {
				if !claimed[j] && textNearIdentical(frags[i].Content, frags[j].Content) {
					cluster = append(cluster, j)
				}
			}
			if len(cluster) <= 1 {
				continue
			}

			best := cluster[0]
			for _, idx := range cluster[1:] {
				if betterSurvivor(frags[idx], frags[best]) {
					best = idx
				}
			}

			g := DuplicateGroup{Keep: frags[best]}
			refs := append([]string(nil), frags[best].References...)
			dropped := make(map[string]bool)
			for _, idx := range cluster {
				claimed[idx] = true
				if idx == best {
					continue
				}
				g.Drop = append(g.Drop, frags[idx])
				dropped[frags[idx].ID] = true
			}
			for _, d := range g.Drop {
				for _, r := range d.References {
					if r != g.Keep.ID && !dropped[r] && !containsString(refs, r) {
						refs = append(refs, r)
					}
				}
			}
			kept := refs[:0]
			for _, r := range refs {
				if !dropped[r] {
					kept = append(kept, r)
				}
			}
			g.Keep.References = kept
			groups = append(groups, g)
		}
	}
	return groups
}

func betterSurvivor(a, b model.Fragment) bool {
	if a.Importance != b.Importance {
		return a.Importance > b.Importance
	}
	return a.Timestamp.After(b.Timestamp)
}

// Merge asks the client to weave fragments into one narrative of at most
// maxLen characters, oldest first. Empty input gives "" and a failed call
// gives MergeFailed.
func (m *Maintainer) Merge(ctx context.Context, fragments []model.Fragment, maxLen int) string {
	if len(fragments) == 0 {
		return ""
	}
	sorted := append([]model.Fragment(nil), fragments...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	contents := make([]string, len(sorted))
	for i, f := range sorted {
		contents[i] = f.Content
	}

	text, err := llm.GenerateText(ctx, m.LLM, llm.MergePrompt(contents, maxLen), llm.MergeParams(maxLen))
	if err != nil {
		logging.From(ctx).Warn("memory merge failed", "error", err, "fragments", len(fragments))
		return MergeFailed
	}
	return text
}

// textNearIdentical reports whether two strings are >95% similar by rune
// bigram Jaccard index.
func textNearIdentical(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return false
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}
	union := len(bigramsA) + len(bigramsB) - shared
	return float64(shared)/float64(union) > nearDuplicateThreshold
}

// bigrams works on runes so CJK text is compared by character.
func bigrams(s string) map[string]bool {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	m := make(map[string]bool, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		m[string(r[i:i+2])] = true
	}
	return m
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
