package engine

import (
	"strings"

	"github.com/kodapet/koda/internal/model"
)

// contextKeywords is checked in order; the first category with a match wins.
var contextKeywords = []struct {
	context  model.Context
	keywords []string
}{
	{model.ContextHealth, []string{"健康", "生病", "不舒服", "疼", "发烧", "呕吐", "拉肚子", "打喷嚏", "咳嗽"}},
	{model.ContextDiet, []string{"吃", "喝", "食物", "饭", "零食", "饮水", "饿", "口渴"}},
	{model.ContextEmotion, []string{"开心", "难过", "焦虑", "兴奋", "生气", "害怕", "紧张", "放松"}},
	{model.ContextBehavior, []string{"散步", "玩", "睡", "叫", "咬", "跑"}},
}

// Classify picks the context category a message belongs to. Messages that
// match no category are plain conversation.
func Classify(text string) model.Context {
	for _, c := range contextKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.context
			}
		}
	}
	return model.ContextConversation
}
