package llm

import (
	"fmt"
	"strings"

	"github.com/kodapet/koda/internal/model"
)

// Generation settings used by the memory engine. Each pair mirrors what the
// prompt asks for: short labels get a small budget, narrative gets more room.
var (
	KeywordParams   = Params{Temperature: 0.5, MaxTokens: 100}
	SummaryParams   = Params{Temperature: 0.5, MaxTokens: 100}
	KeyPointsParams = Params{Temperature: 0.5, MaxTokens: 200}
	TopicParams     = Params{Temperature: 0.5, MaxTokens: 10}
	EmotionParams   = Params{Temperature: 0.3, MaxTokens: 100}
	ReplyParams     = Params{Temperature: 0.7, MaxTokens: 500}
)

// MergeParams returns the settings for a narrative merge capped at maxLen.
func MergeParams(maxLen int) Params {
	return Params{Temperature: 0.7, MaxTokens: maxLen}
}

// KeywordPrompt asks for 3-5 short keywords as a JSON array.
func KeywordPrompt(text string) string {
	return fmt.Sprintf(`请从以下文本中提取3-5个关键词（每个词不超过4个字）：

%s

请用JSON数组格式返回，只包含关键词，不要有其他内容。`, text)
}

// SummaryPrompt asks for a one-sentence summary of a conversation window.
func SummaryPrompt(conversation string) string {
	return fmt.Sprintf(`请用一句话总结以下对话的主要内容（不超过50个字）：

%s

只返回总结，不要有其他文字。`, conversation)
}

func KeyPointsPrompt(conversation string) string {
	return fmt.Sprintf(`请从以下对话中提取3-5个关键信息点（每点不超过20字）：

%s

请用JSON数组格式返回，只包含关键点文本，不要有其他内容。`, conversation)
}

func TopicPrompt(conversation string) string {
	return fmt.Sprintf(`请分析以下对话的主题，用一个简短的短语概括（不超过5个字）：

%s

只返回主题短语，不要有其他文字。`, conversation)
}

// MergePrompt lists the fragments in the order given; callers sort them by
// time first.
func MergePrompt(contents []string, maxLen int) string {
	var b strings.Builder
	for _, c := range contents {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return fmt.Sprintf(`请将以下记忆片段合并为一段连贯的叙述（不超过%d字）：

%s
只返回合并后的文本，不要有其他内容。`, maxLen, b.String())
}

func EmotionPrompt(text string) string {
	return fmt.Sprintf(`分析以下文本的情感倾向和情绪类型：

文本：%s

请以 JSON 格式返回：
{
    "sentiment": -1到1之间的浮点数,
    "emotion": "happy/excited/calm/anxious/sad/angry/neutral"
}`, text)
}

// Persona describes the pet the assistant speaks as.
type Persona struct {
	Name    string   `json:"name"`
	Species string   `json:"species"`
	Breed   string   `json:"breed"`
	Age     float64  `json:"age"`
	Traits  []string `json:"traits"`
}

// IsZero reports whether no field of the persona is set.
func (p Persona) IsZero() bool {
	return p.Name == "" && p.Species == "" && p.Breed == "" && p.Age == 0 && len(p.Traits) == 0
}

// PersonaFromPet speaks as a stored profile.
func PersonaFromPet(pet *model.Pet) Persona {
	if pet == nil {
		return Persona{}
	}
	return Persona{
		Name:    pet.Name,
		Species: pet.Species,
		Breed:   pet.Breed,
		Age:     pet.Age,
		Traits:  pet.Traits,
	}
}

// ReplySystemPrompt builds the system prompt for a chat reply, including the
// recalled memories and the user's current emotion when known.
func ReplySystemPrompt(p Persona, memories []string, emotion string) string {
	var b strings.Builder

	name := p.Name
	if name == "" {
		name = "Koda"
	}
	if p.Species != "" || p.Breed != "" {
		fmt.Fprintf(&b, "你是%s，一只%g岁的%s%s。\n", name, p.Age, p.Breed, p.Species)
	} else {
		fmt.Fprintf(&b, "你是%s，一个温柔、专业的宠物伙伴。\n", name)
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "你的性格特征是: %s。\n", strings.Join(p.Traits, ", "))
	}

	if len(memories) > 0 {
		b.WriteString("\n你记得这些和主人有关的事：\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	b.WriteString(`
你应该温柔、真诚、有情感地回应用户，就像真正的宠物一样。
不要使用"作为AI，我不能..."这类生硬的语句。`)

	if emotion != "" {
		fmt.Fprintf(&b, "\n用户当前的情绪是: %s，请根据这个情绪调整你的回复。", emotion)
	}
	return b.String()
}
