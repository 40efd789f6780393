package engine

import (
	"context"
	"sync"
	"time"

	"github.com/kodapet/koda/internal/llm"
	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

// Store is the persistence the engine needs. *store.DB satisfies it.
type Store interface {
	CreateFragment(ctx context.Context, f *model.Fragment) error
	GetFragment(ctx context.Context, id string) (*model.Fragment, error)
	GetFragments(ctx context.Context, ids []string) ([]model.Fragment, error)
	ListFragments(ctx context.Context, petID string, from, to time.Time) ([]model.Fragment, error)
	UpdateImportance(ctx context.Context, id string, importance float64) (bool, error)
	UpdateReferences(ctx context.Context, id string, refs []string) error
	DeleteFragment(ctx context.Context, id string) (bool, error)
	PetIDs(ctx context.Context) ([]string, error)

	UpsertIndex(ctx context.Context, idx model.Index) error
	GetIndexes(ctx context.Context, ids []string) (map[string]model.Index, error)

	CreateConversation(ctx context.Context, c *model.Conversation) error
	UpdateConversation(ctx context.Context, c *model.Conversation) error
	OpenConversation(ctx context.Context, petID string) (*model.Conversation, error)

	UpsertPet(ctx context.Context, p *model.Pet) error
	GetPet(ctx context.Context, id string) (*model.Pet, error)
	CreateLog(ctx context.Context, l *model.LogEntry) error
	ListLogs(ctx context.Context, petID string, typ model.LogType, from, to time.Time) ([]model.LogEntry, error)
}

// EmotionAnalyzer tags text with an emotion and a sentiment in [-1,1].
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, text string) (model.Emotion, float64, error)
}

// Options tunes recall and maintenance.
type Options struct {
	TopK               int
	PruneMaxAgeDays    int
	PruneMinImportance float64
	TopicWindow        int
	KeywordCacheSize   int
}

func DefaultOptions() Options {
	return Options{
		TopK:               3,
		PruneMaxAgeDays:    365,
		PruneMinImportance: 0.3,
		TopicWindow:        6,
		KeywordCacheSize:   1024,
	}
}

// Engine ties the memory components to storage and the text-generation
// client.
type Engine struct {
	Keywords   *KeywordExtractor
	Scorer     *Scorer
	Ranker     *Ranker
	Maintainer *Maintainer
	Summarizer *Summarizer

	store    Store
	llm      llm.Client
	emotions EmotionAnalyzer
	opts     Options
	now      func() time.Time

	// convMu serializes read-modify-write of open conversations.
	convMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an Engine. A nil client disables generation; every component
// then falls back to its documented default.
func New(s Store, client llm.Client, opts Options) *Engine {
	if client == nil {
		client = llm.Disabled{}
	}
	kw := NewKeywordExtractor(client, opts.KeywordCacheSize)
	return &Engine{
		Keywords:   kw,
		Scorer:     NewScorer(),
		Ranker:     NewRanker(kw),
		Maintainer: NewMaintainer(client),
		Summarizer: NewSummarizer(client),
		store:      s,
		llm:        client,
		emotions:   llm.NewEmotionAnalyzer(client),
		opts:       opts,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// SetEmotionAnalyzer replaces the analyzer used when a turn arrives untagged.
func (e *Engine) SetEmotionAnalyzer(a EmotionAnalyzer) {
	e.emotions = a
}

// SetClock replaces the time source of the engine and its components.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.Scorer.Now = now
	e.Ranker.Now = now
	e.Maintainer.Now = now
}

func (e *Engine) Options() Options { return e.opts }

// ProcessTurn remembers one chat turn: it tags, classifies and scores the
// message, persists it as a fragment with its index row, and appends it to
// the pet's open conversation.
func (e *Engine) ProcessTurn(ctx context.Context, t Turn) (*model.Fragment, error) {
	t, err := validateTurn(t)
	if err != nil {
		return nil, err
	}
	log := logging.From(ctx).With("pet_id", t.PetID)

	if t.Emotion == "" && t.Role == model.RoleUser && e.emotions != nil {
		emotion, sentiment, err := e.emotions.Analyze(ctx, t.Content)
		if err != nil {
			log.Warn("emotion analysis failed, storing untagged", "error", err)
		} else {
			t.Emotion = emotion
			if t.Sentiment == nil {
				t.Sentiment = &sentiment
			}
		}
	}
	if t.Context == "" {
		t.Context = Classify(t.Content)
	}

	now := e.now()
	importance := e.Scorer.Score(t.Content, ScoreContext{Timestamp: now, Sentiment: t.Sentiment}, t.Emotion)
	f := &model.Fragment{
		PetID:      t.PetID,
		Content:    t.Content,
		Timestamp:  now,
		Emotion:    t.Emotion,
		Importance: importance,
		Context:    t.Context,
	}
	if err := e.store.CreateFragment(ctx, f); err != nil {
		return nil, goerr.Wrap(err, "store turn fragment")
	}
	e.index(ctx, f, nil)

	msg := model.Message{
		Role:      t.Role,
		Content:   t.Content,
		Emotion:   t.Emotion,
		Sentiment: t.Sentiment,
		Timestamp: now,
	}
	count, err := e.appendToConversation(ctx, t.PetID, msg, f.ID)
	if err != nil {
		return f, err
	}

	if e.opts.TopicWindow > 0 && count%e.opts.TopicWindow == 0 {
		if _, _, err := e.DetectTopicShift(ctx, t.PetID); err != nil {
			log.Warn("topic shift detection failed", "error", err)
		}
	}

	log.Debug("turn remembered", "fragment_id", f.ID, "importance", f.Importance, "context", f.Context)
	return f, nil
}

// appendToConversation adds msg to the pet's open conversation, opening one
// when needed, and returns the new message count.
func (e *Engine) appendToConversation(ctx context.Context, petID string, msg model.Message, fragmentID string) (int, error) {
	e.convMu.Lock()
	defer e.convMu.Unlock()

	conv, err := e.store.OpenConversation(ctx, petID)
	if err != nil {
		return 0, goerr.Wrap(err, "load open conversation")
	}
	fresh := conv == nil
	if fresh {
		conv = &model.Conversation{PetID: petID, StartTime: msg.Timestamp}
	}
	if err := conv.Append(msg); err != nil {
		return 0, err
	}
	if err := conv.AddFragment(fragmentID); err != nil {
		return 0, err
	}

	if fresh {
		err = e.store.CreateConversation(ctx, conv)
	} else {
		err = e.store.UpdateConversation(ctx, conv)
	}
	if err != nil {
		return 0, goerr.Wrap(err, "save conversation", goerr.V("pet_id", petID))
	}
	return len(conv.Messages), nil
}

// index writes the keyword index row for f. kw is extracted when nil. An
// empty keyword set is not stored so a later recall can retry.
func (e *Engine) index(ctx context.Context, f *model.Fragment, kw []string) []string {
	if kw == nil {
		kw = e.Keywords.Extract(ctx, f.Content)
	}
	if len(kw) == 0 {
		return kw
	}
	idx := model.Index{
		MemoryID:   f.ID,
		Keywords:   kw,
		Importance: f.Importance,
		IndexedAt:  e.now(),
	}
	if f.Emotion != "" {
		idx.EmotionTags = []string{string(f.Emotion)}
	}
	if err := e.store.UpsertIndex(ctx, idx); err != nil {
		logging.From(ctx).Warn("index write failed", "error", err, "fragment_id", f.ID)
	}
	return kw
}

// RecallOptions narrows a recall. TopK 0 uses the configured default; zero
// times leave the range open.
type RecallOptions struct {
	TopK  int
	Since time.Time
	Until time.Time
}

// Recall ranks a pet's fragments against query. Storage failures produce an
// empty result.
func (e *Engine) Recall(ctx context.Context, petID, query string, opts RecallOptions) []Ranked {
	log := logging.From(ctx).With("pet_id", petID)
	topK := opts.TopK
	if topK == 0 {
		topK = e.opts.TopK
	}

	candidates, err := e.store.ListFragments(ctx, petID, opts.Since, opts.Until)
	if err != nil {
		log.Warn("recall candidates unavailable", "error", err)
		return []Ranked{}
	}
	if topK <= 0 || len(candidates) == 0 {
		return []Ranked{}
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	indexes, err := e.store.GetIndexes(ctx, ids)
	if err != nil {
		log.Warn("keyword index unavailable", "error", err)
		indexes = map[string]model.Index{}
	}

	known := make(map[string][]string, len(candidates))
	for i := range candidates {
		if idx, ok := indexes[candidates[i].ID]; ok {
			known[candidates[i].ID] = idx.Keywords
			continue
		}
		known[candidates[i].ID] = e.index(ctx, &candidates[i], nil)
	}

	return e.Ranker.Rank(ctx, query, candidates, topK, known)
}

// Reinforce re-scores a fragment from new interaction evidence. It returns
// nil when the fragment does not exist.
func (e *Engine) Reinforce(ctx context.Context, id string, interactionCount int, emotionalImpact float64) (*model.Fragment, error) {
	f, err := e.store.GetFragment(ctx, id)
	if err != nil || f == nil {
		return nil, err
	}
	updated := e.Maintainer.Reinforce(*f, interactionCount, emotionalImpact)
	if updated.Importance == f.Importance {
		return &updated, nil
	}
	if _, err := e.store.UpdateImportance(ctx, id, updated.Importance); err != nil {
		return nil, goerr.Wrap(err, "reinforce fragment")
	}

	if idx, err := e.store.GetIndexes(ctx, []string{id}); err == nil {
		if row, ok := idx[id]; ok {
			row.Importance = updated.Importance
			row.IndexedAt = e.now()
			if err := e.store.UpsertIndex(ctx, row); err != nil {
				logging.From(ctx).Warn("index importance refresh failed", "error", err, "fragment_id", id)
			}
		}
	}
	return &updated, nil
}

var (
	ErrSelfReference = goerr.Wrap(ErrInvalidInput, "a fragment cannot reference itself")
	ErrUnknownTarget = goerr.Wrap(ErrInvalidInput, "reference target does not exist")
	ErrCrossPetLink  = goerr.Wrap(ErrInvalidInput, "fragments belong to different pets")
)

// Link adds to to the references of from. It returns nil when from does not
// exist. Linking twice is a no-op.
func (e *Engine) Link(ctx context.Context, from, to string) (*model.Fragment, error) {
	if from == to {
		return nil, goerr.Wrap(ErrSelfReference, "link", goerr.V("id", from))
	}
	src, err := e.store.GetFragment(ctx, from)
	if err != nil || src == nil {
		return nil, err
	}
	dst, err := e.store.GetFragment(ctx, to)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		return nil, goerr.Wrap(ErrUnknownTarget, "link", goerr.V("target", to))
	}
	if dst.PetID != src.PetID {
		return nil, goerr.Wrap(ErrCrossPetLink, "link", goerr.V("from", from), goerr.V("to", to))
	}
	if src.HasReference(to) {
		return src, nil
	}

	src.References = append(src.References, to)
	if err := e.store.UpdateReferences(ctx, from, src.References); err != nil {
		return nil, goerr.Wrap(err, "link")
	}
	return src, nil
}

// References resolves a fragment's references in order. Targets that no
// longer exist resolve to a Link with a nil Target. It returns nil when the
// fragment itself does not exist.
func (e *Engine) References(ctx context.Context, id string) ([]model.Link, error) {
	f, err := e.store.GetFragment(ctx, id)
	if err != nil || f == nil {
		return nil, err
	}
	targets, err := e.store.GetFragments(ctx, f.References)
	if err != nil {
		return nil, goerr.Wrap(err, "resolve references", goerr.V("id", id))
	}
	byID := make(map[string]*model.Fragment, len(targets))
	for i := range targets {
		byID[targets[i].ID] = &targets[i]
	}

	links := make([]model.Link, len(f.References))
	for i, ref := range f.References {
		links[i] = model.Link{ID: ref, Target: byID[ref]}
	}
	return links, nil
}

// Delete removes a fragment and every reference to it.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	return e.store.DeleteFragment(ctx, id)
}

// Merge weaves the pet's fragments with the given ids into one narrative.
// Ids that are missing or belong to another pet are ignored.
func (e *Engine) Merge(ctx context.Context, petID string, ids []string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = 200
	}
	frags, err := e.store.GetFragments(ctx, ids)
	if err != nil {
		return "", goerr.Wrap(err, "load fragments to merge")
	}
	own := frags[:0]
	for _, f := range frags {
		if f.PetID == petID {
			own = append(own, f)
		}
	}
	return e.Maintainer.Merge(ctx, own, maxLen), nil
}
