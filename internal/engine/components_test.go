package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kodapet/koda/internal/llm"
	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/gt"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func daysAgo(n int) time.Time { return testNow.Add(-time.Duration(n) * 24 * time.Hour) }

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func ptr(v float64) *float64 { return &v }

// keywordMock answers keyword prompts from a table keyed by the exact text
// being analyzed. Unknown texts get an empty list.
func keywordMock(table map[string][]string) *llm.MockClient {
	return &llm.MockClient{Handler: func(prompt string, p llm.Params) (*llm.Response, error) {
		if !strings.Contains(prompt, "关键词") {
			return nil, errors.New("unexpected prompt")
		}
		for key, kw := range table {
			if strings.Contains(prompt, "\n\n"+key+"\n\n") {
				return llm.Text(`["` + strings.Join(kw, `","`) + `"]`), nil
			}
		}
		return llm.Text("[]"), nil
	}}
}

func TestKeywordExtract(t *testing.T) {
	ctx := context.Background()
	mock := &llm.MockClient{Response: llm.Text("关键词如下：[\"散步\", \"公园\", \"散步\", \"PARK\", \"park\", \"  \", \"小白\", \"晴天\", \"开心\"]")}
	k := NewKeywordExtractor(mock, 16)

	kw := k.Extract(ctx, "今天带小白去公园散步")
	gt.Equal(t, kw, []string{"散步", "公园", "PARK", "小白", "晴天"})

	// cached
	again := k.Extract(ctx, "今天带小白去公园散步")
	gt.Equal(t, again, kw)
	gt.Equal(t, mock.CallCount(), 1)
}

func TestKeywordExtractFallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("empty text skips the client", func(t *testing.T) {
		mock := &llm.MockClient{Response: llm.Text(`["x"]`)}
		k := NewKeywordExtractor(mock, 16)
		gt.A(t, k.Extract(ctx, "   ")).Length(0)
		gt.Equal(t, mock.CallCount(), 0)
	})

	t.Run("client failure is not cached", func(t *testing.T) {
		mock := &llm.MockClient{Err: errors.New("offline")}
		k := NewKeywordExtractor(mock, 16)
		gt.A(t, k.Extract(ctx, "小白咳嗽")).Length(0)
		gt.A(t, k.Extract(ctx, "小白咳嗽")).Length(0)
		gt.Equal(t, mock.CallCount(), 2)
	})

	t.Run("malformed answer", func(t *testing.T) {
		mock := &llm.MockClient{Response: llm.Text("我不知道")}
		k := NewKeywordExtractor(mock, 0)
		gt.A(t, k.Extract(ctx, "小白咳嗽")).Length(0)
	})

	t.Run("disabled client", func(t *testing.T) {
		k := NewKeywordExtractor(llm.Disabled{}, 16)
		gt.A(t, k.Extract(ctx, "小白咳嗽")).Length(0)
	})
}

func TestScore(t *testing.T) {
	s := &Scorer{Now: fixedClock}

	approx(t, s.Score("今天天气不错", ScoreContext{Timestamp: testNow}, ""), 0.5)
	approx(t, s.Score("今天天气不错", ScoreContext{Timestamp: testNow, Sentiment: ptr(-0.8)}, model.EmotionSad), 0.66)
	// sentiment without an emotion tag does not count
	approx(t, s.Score("今天天气不错", ScoreContext{Timestamp: testNow, Sentiment: ptr(0.8)}, ""), 0.5)
	approx(t, s.Score("小白第一次做手术", ScoreContext{Timestamp: testNow}, ""), 0.7)
	approx(t, s.Score("Our FIRST TIME at the beach", ScoreContext{Timestamp: testNow}, ""), 0.6)
	approx(t, s.Score("今天天气不错", ScoreContext{Timestamp: daysAgo(365)}, ""), 0.5*math.Exp(-1))
	approx(t, s.Score("第一次生病，手术后出了事故，成长的里程碑", ScoreContext{Timestamp: testNow}, ""), 1.0)
}

func TestScoreLatinWholeWords(t *testing.T) {
	s := &Scorer{Now: fixedClock}
	at := ScoreContext{Timestamp: testNow}

	for _, text := range []string{"we exchanged toys", "the specialist said nothing", "he is homesick"} {
		approx(t, s.Score(text, at, ""), 0.5)
	}
	approx(t, s.Score("he was sick, then had surgery.", at, ""), 0.7)
	approx(t, s.Score("小白sick了", at, ""), 0.6)
}

func TestScoreFallbacks(t *testing.T) {
	s := &Scorer{Now: fixedClock}

	approx(t, s.Score("小白第一次做手术", ScoreContext{}, model.EmotionHappy), 0.5)
	approx(t, s.Score("小白第一次做手术", ScoreContext{Timestamp: testNow, Sentiment: ptr(math.NaN())}, model.EmotionHappy), 0.5)
	approx(t, s.Score("小白第一次做手术", ScoreContext{Timestamp: testNow, Sentiment: ptr(math.Inf(1))}, model.EmotionHappy), 0.5)
	approx(t, s.Score("x", ScoreContext{Timestamp: ParseTimestamp("not a time")}, ""), 0.5)
}

func TestScoreProperties(t *testing.T) {
	s := &Scorer{Now: fixedClock}
	contents := []string{"", "今天天气不错", "第一次 sick surgery accident growth milestone change"}
	sentiments := []float64{-1, -0.3, 0, 0.5, 1}

	for _, c := range contents {
		for _, sv := range sentiments {
			prev := math.Inf(1)
			for _, days := range []int{0, 1, 30, 365, 1000, 5000} {
				got := s.Score(c, ScoreContext{Timestamp: daysAgo(days), Sentiment: ptr(sv)}, model.EmotionExcited)
				gt.True(t, got >= 0 && got <= 1)
				gt.True(t, got <= prev)
				prev = got
			}
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	gt.False(t, ParseTimestamp("2024-05-30T08:00:00Z").IsZero())
	gt.False(t, ParseTimestamp("2024-05-30T08:00:00.123456").IsZero())
	gt.False(t, ParseTimestamp("2024-05-30 08:00:00").IsZero())
	gt.False(t, ParseTimestamp("2024-05-30").IsZero())
	gt.True(t, ParseTimestamp("yesterday").IsZero())
	gt.True(t, ParseTimestamp("").IsZero())
}

func TestRetrieveWorkedExample(t *testing.T) {
	ctx := context.Background()
	k := NewKeywordExtractor(keywordMock(map[string][]string{
		"今天很开心": {"今天", "开心"},
		"检查身体":  {"检查", "身体"},
		"开心":    {"开心"},
	}), 16)
	r := &Ranker{Keywords: k, Now: fixedClock}

	candidates := []model.Fragment{
		{ID: "1", Content: "今天很开心", Importance: 0.8, Timestamp: daysAgo(2)},
		{ID: "2", Content: "检查身体", Importance: 0.3, Timestamp: daysAgo(200)},
	}
	got := r.Retrieve(ctx, "开心", candidates, 1)
	gt.A(t, got).Length(1)
	gt.Equal(t, got[0].ID, "1")
}

func TestRankOrderAndCap(t *testing.T) {
	ctx := context.Background()
	r := &Ranker{Keywords: NewKeywordExtractor(llm.Disabled{}, 0), Now: fixedClock}

	candidates := []model.Fragment{
		{ID: "a", Importance: 0.2, Timestamp: daysAgo(10)},
		{ID: "b", Importance: 0.9, Timestamp: daysAgo(10)},
		{ID: "c", Importance: 0.5, Timestamp: testNow.Add(-30 * time.Hour)},
		{ID: "d", Importance: 0.5, Timestamp: testNow.Add(-25 * time.Hour)},
		{ID: "e", Importance: 0.5, Timestamp: testNow.Add(-30 * time.Hour)},
	}
	known := map[string][]string{"a": {"散步"}, "b": nil, "c": nil, "d": nil, "e": nil}

	ranked := r.Rank(ctx, "散步", candidates, 10, known)
	gt.A(t, ranked).Length(5)
	for i := 1; i < len(ranked); i++ {
		gt.True(t, ranked[i-1].Score >= ranked[i].Score)
	}
	gt.Equal(t, ranked[0].Fragment.ID, "b")
	// c, d and e score the same: newer first, then lower id
	gt.Equal(t, ranked[1].Fragment.ID, "d")
	gt.Equal(t, ranked[2].Fragment.ID, "c")
	gt.Equal(t, ranked[3].Fragment.ID, "e")
	gt.Equal(t, ranked[4].Fragment.ID, "a")

	gt.A(t, r.Rank(ctx, "散步", candidates, 2, known)).Length(2)
	gt.A(t, r.Rank(ctx, "散步", candidates, 0, known)).Length(0)
	gt.A(t, r.Rank(ctx, "散步", candidates, -1, known)).Length(0)
	gt.A(t, r.Rank(ctx, "散步", nil, 3, known)).Length(0)
}

func TestRankKnownKeywords(t *testing.T) {
	ctx := context.Background()
	mock := keywordMock(map[string][]string{"去公园": {"公园"}, "公园": {"公园"}})
	r := &Ranker{Keywords: NewKeywordExtractor(mock, 16), Now: fixedClock}

	candidates := []model.Fragment{{ID: "x", Content: "去公园", Importance: 0.5, Timestamp: testNow}}
	ranked := r.Rank(ctx, "公园", candidates, 1, map[string][]string{"x": {"公园"}})
	gt.A(t, ranked).Length(1)
	approx(t, ranked[0].Keyword, 1.0)
	approx(t, ranked[0].Recency, 1.0)
	approx(t, ranked[0].Score, 0.4+0.3+0.15)
	// only the query went through the client
	gt.Equal(t, mock.CallCount(), 1)
}

func TestKeywordOverlap(t *testing.T) {
	approx(t, keywordOverlap([]string{"Park", "dog"}, []string{"park"}), 0.5)
	approx(t, keywordOverlap(nil, []string{"park"}), 0)
	approx(t, keywordOverlap([]string{"a", "b"}, []string{"a", "b", "c"}), 1)
}

func TestReinforce(t *testing.T) {
	m := &Maintainer{Now: fixedClock}

	got := m.Reinforce(model.Fragment{Importance: 0.4}, 10, 0.9)
	approx(t, got.Importance, 0.67)

	approx(t, m.Reinforce(model.Fragment{Importance: 1}, 50, -3).Importance, 1.0)
	approx(t, m.Reinforce(model.Fragment{Importance: 0.4}, -5, 0).Importance, 0.2)

	unchanged := m.Reinforce(model.Fragment{ID: "n", Importance: 0.4}, 3, math.NaN())
	gt.Equal(t, unchanged.Importance, 0.4)
}

func TestReinforceMonotonic(t *testing.T) {
	m := &Maintainer{Now: fixedClock}
	f := model.Fragment{Importance: 0.5}

	prev := -1.0
	for count := 0; count <= 15; count++ {
		got := m.Reinforce(f, count, 0.3).Importance
		gt.True(t, got >= prev)
		prev = got
	}
	prev = -1.0
	for _, impact := range []float64{0, -0.2, 0.4, -0.7, 1, 2} {
		got := m.Reinforce(f, 2, impact).Importance
		gt.True(t, got >= prev)
		prev = got
	}
}

func TestPruneWorkedExample(t *testing.T) {
	m := &Maintainer{Now: fixedClock}
	frags := []model.Fragment{
		{ID: "old-weak", Importance: 0.25, Timestamp: daysAgo(400)},
		{ID: "old-strong", Importance: 0.35, Timestamp: daysAgo(400)},
		{ID: "young-weak", Importance: 0.1, Timestamp: daysAgo(30)},
		{ID: "boundary", Importance: 0.1, Timestamp: daysAgo(365)},
		{ID: "threshold", Importance: 0.3, Timestamp: daysAgo(900)},
	}

	kept := m.Prune(frags, 365, 0.3)
	ids := make([]string, len(kept))
	for i, f := range kept {
		ids[i] = f.ID
	}
	gt.Equal(t, ids, []string{"old-strong", "young-weak", "boundary", "threshold"})
	gt.A(t, m.Prune(nil, 365, 0.3)).Length(0)
}

func TestDuplicates(t *testing.T) {
	m := &Maintainer{Now: fixedClock}
	frags := []model.Fragment{
		{ID: "a", PetID: "p1", Content: "小白今天第一次学会了握手", Importance: 0.6, Timestamp: daysAgo(3), References: []string{"z"}},
		{ID: "b", PetID: "p1", Content: "小白今天第一次学会了握手", Importance: 0.8, Timestamp: daysAgo(2)},
		{ID: "c", PetID: "p1", Content: "  小白今天第一次学会了握手 ", Importance: 0.8, Timestamp: daysAgo(1), References: []string{"a", "y"}},
		{ID: "d", PetID: "p1", Content: "小白今天去打疫苗了", Importance: 0.9, Timestamp: daysAgo(1)},
		{ID: "e", PetID: "p2", Content: "小白今天第一次学会了握手", Importance: 0.9, Timestamp: daysAgo(1)},
	}

	groups := m.Duplicates(frags)
	gt.A(t, groups).Length(1)
	g := groups[0]
	// equal importance: newer wins
	gt.Equal(t, g.Keep.ID, "c")
	gt.A(t, g.Drop).Length(2)
	gt.Equal(t, g.Keep.References, []string{"y", "z"})
}

func TestTextNearIdentical(t *testing.T) {
	gt.True(t, textNearIdentical("same", " same "))
	gt.False(t, textNearIdentical("", "x"))
	gt.False(t, textNearIdentical("小白喜欢吃苹果", "小白讨厌洗澡"))
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteRune(rune(0x4e00 + i))
	}
	long := b.String()
	gt.True(t, textNearIdentical(long+"。", long+"！"))
	gt.False(t, textNearIdentical(long[:30]+"。", long[:30]+"！"))
}

func TestMerge(t *testing.T) {
	ctx := context.Background()

	mock := &llm.MockClient{Response: llm.Text("小白从小到大的故事")}
	m := &Maintainer{LLM: mock, Now: fixedClock}
	frags := []model.Fragment{
		{Content: "后来", Timestamp: daysAgo(1)},
		{Content: "起初", Timestamp: daysAgo(10)},
	}
	gt.Equal(t, m.Merge(ctx, frags, 120), "小白从小到大的故事")
	gt.A(t, mock.Calls).Length(1)
	gt.True(t, strings.Index(mock.Calls[0], "起初") < strings.Index(mock.Calls[0], "后来"))
	gt.Equal(t, mock.Params[0].MaxTokens, 120)

	gt.Equal(t, m.Merge(ctx, nil, 120), "")

	failing := &Maintainer{LLM: &llm.MockClient{Err: errors.New("down")}, Now: fixedClock}
	gt.Equal(t, failing.Merge(ctx, frags, 120), MergeFailed)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	mock := &llm.MockClient{Handler: func(prompt string, p llm.Params) (*llm.Response, error) {
		switch {
		case strings.Contains(prompt, "一句话总结"):
			return llm.Text("聊了小白的感冒"), nil
		case strings.Contains(prompt, "关键信息点"):
			return llm.Text(`["小白感冒了", " ", "需要多喝水"]`), nil
		}
		return nil, errors.New("unexpected prompt")
	}}
	s := NewSummarizer(mock)

	msgs := []model.Message{
		{Role: model.RoleUser, Content: "小白感冒了", Emotion: model.EmotionAnxious, Sentiment: ptr(-0.6)},
		{Role: model.RoleAssistant, Content: "多喝水多休息"},
	}
	sum := s.Summarize(ctx, msgs)
	gt.Equal(t, sum.Summary, "聊了小白的感冒")
	gt.Equal(t, sum.KeyPoints, []string{"小白感冒了", "需要多喝水"})
	gt.Equal(t, sum.Emotions.MainEmotion, model.EmotionAnxious)
}

func TestSummarizeFallbacks(t *testing.T) {
	ctx := context.Background()
	s := NewSummarizer(&llm.MockClient{Err: errors.New("down")})

	msgs := []model.Message{{Role: model.RoleUser, Content: "你好", Emotion: model.EmotionHappy, Sentiment: ptr(0.4)}}
	sum := s.Summarize(ctx, msgs)
	gt.Equal(t, sum.Summary, SummaryFallback)
	gt.A(t, sum.KeyPoints).Length(0)
	gt.NotNil(t, sum.KeyPoints)
	gt.Equal(t, sum.Emotions.EmotionCounts[model.EmotionHappy], 1)

	gt.Equal(t, s.Topic(ctx, msgs), TopicFallback)
	gt.Equal(t, s.Topic(ctx, nil), TopicFallback)

	malformed := NewSummarizer(&llm.MockClient{Response: llm.Text("没有列表")})
	gt.A(t, malformed.Summarize(ctx, msgs).KeyPoints).Length(0)
}

func TestSummarizeCapsKeyPoints(t *testing.T) {
	mock := &llm.MockClient{Handler: func(prompt string, p llm.Params) (*llm.Response, error) {
		if strings.Contains(prompt, "关键信息点") {
			return llm.Text(`["一", "二", " ", "三", "四", "五", "六", "七"]`), nil
		}
		return llm.Text("总结"), nil
	}}
	sum := NewSummarizer(mock).Summarize(context.Background(), []model.Message{{Role: model.RoleUser, Content: "今天很忙"}})
	gt.Equal(t, sum.KeyPoints, []string{"一", "二", "三", "四", "五"})
}

func TestTopicTrimsDecoration(t *testing.T) {
	s := NewSummarizer(&llm.MockClient{Response: llm.Text(" “健康问题”。\n")})
	gt.Equal(t, s.Topic(context.Background(), []model.Message{{Content: "小白咳嗽"}}), "健康问题")
}

func TestSummarizeEmotions(t *testing.T) {
	msgs := []model.Message{
		{Emotion: model.EmotionCalm, Sentiment: ptr(0.2)},
		{Emotion: model.EmotionHappy, Sentiment: ptr(0.8)},
		{Emotion: model.EmotionHappy},
		{Emotion: model.EmotionCalm, Sentiment: ptr(-0.4)},
		{Sentiment: ptr(0.6)},
	}
	sum := SummarizeEmotions(msgs)

	// calm and happy tie at 2; calm was seen first
	gt.Equal(t, sum.MainEmotion, model.EmotionCalm)
	gt.Equal(t, sum.EmotionCounts, map[model.Emotion]int{model.EmotionCalm: 2, model.EmotionHappy: 2})
	approx(t, sum.AvgSentiment, 0.3)
	approx(t, sum.SentimentMin, -0.4)
	approx(t, sum.SentimentMax, 0.8)
	// population std of {0.2, 0.8, -0.4, 0.6}
	approx(t, sum.SentimentStd, math.Sqrt((0.01+0.25+0.49+0.09)/4))

	empty := SummarizeEmotions(nil)
	gt.Equal(t, empty.MainEmotion, model.Emotion(""))
	approx(t, empty.AvgSentiment, 0)
	approx(t, empty.SentimentStd, 0)
	gt.Equal(t, len(empty.EmotionCounts), 0)
}

func TestClassify(t *testing.T) {
	gt.Equal(t, Classify("小白今天有点发烧"), model.ContextHealth)
	gt.Equal(t, Classify("它不肯吃狗粮"), model.ContextDiet)
	gt.Equal(t, Classify("我今天好难过"), model.ContextEmotion)
	gt.Equal(t, Classify("我们去散步吧"), model.ContextBehavior)
	gt.Equal(t, Classify("你好呀"), model.ContextConversation)
	// health is checked before diet
	gt.Equal(t, Classify("吃了东西就呕吐"), model.ContextHealth)
}

func TestValidateTurn(t *testing.T) {
	got, err := validateTurn(Turn{PetID: " p1 ", Content: "  你好  ", Sentiment: ptr(4)})
	gt.NoError(t, err)
	gt.Equal(t, got.PetID, "p1")
	gt.Equal(t, got.Content, "你好")
	gt.Equal(t, got.Role, model.RoleUser)
	gt.Equal(t, *got.Sentiment, 1.0)

	_, err = validateTurn(Turn{PetID: "p1", Content: "   "})
	gt.True(t, errors.Is(err, ErrEmptyContent))
	_, err = validateTurn(Turn{Content: "hi"})
	gt.True(t, errors.Is(err, ErrMissingPet))
	_, err = validateTurn(Turn{PetID: "p1", Content: "hi", Role: "narrator"})
	gt.Error(t, err)
	_, err = validateTurn(Turn{PetID: "p1", Content: "hi", Context: "weather"})
	gt.Error(t, err)
	_, err = validateTurn(Turn{PetID: "p1", Content: "hi", Emotion: "bored"})
	gt.Error(t, err)
	_, err = validateTurn(Turn{PetID: "p1", Content: "hi", Sentiment: ptr(math.NaN())})
	gt.Error(t, err)
}

func TestTruncateClean(t *testing.T) {
	gt.Equal(t, truncateClean("short", 10), "short")

	cjk := strings.Repeat("汪", 30)
	gt.Equal(t, truncateClean(cjk, 10), strings.Repeat("汪", 10))

	words := strings.Repeat("woof ", 10)
	got := truncateClean(words, 12)
	gt.Equal(t, got, "woof woof")
}
