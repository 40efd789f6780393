package engine

import (
	"context"

	"github.com/kodapet/koda/internal/llm"
	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/model"
)

// FallbackReply is what the pet says when no reply can be generated.
const FallbackReply = "抱歉，我现在有点累，稍后再聊吧～"

// ReplyRequest asks the pet to answer one message.
type ReplyRequest struct {
	PetID   string        `json:"pet_id"`
	Message string        `json:"message"`
	Persona llm.Persona   `json:"persona"`
	Emotion model.Emotion `json:"emotion,omitempty"`
	// Exclude lists fragment ids that must not be recalled, such as the
	// fragment of the message being answered.
	Exclude []string `json:"-"`
}

// ReplyResult is the pet's answer and the memories it drew on.
type ReplyResult struct {
	Reply    string   `json:"reply"`
	Memories []Ranked `json:"memories"`
	Fallback bool     `json:"fallback,omitempty"`
}

// Reply recalls the memories most relevant to the message and answers in
// the persona's voice, or the stored profile's when the request names none.
// It never fails: generation errors give FallbackReply.
func (e *Engine) Reply(ctx context.Context, req ReplyRequest) ReplyResult {
	topK := e.opts.TopK
	recalled := e.Recall(ctx, req.PetID, req.Message, RecallOptions{TopK: topK + len(req.Exclude)})
	memories := make([]Ranked, 0, len(recalled))
	for _, m := range recalled {
		if !containsString(req.Exclude, m.Fragment.ID) && len(memories) < topK {
			memories = append(memories, m)
		}
	}
	contents := make([]string, len(memories))
	for i, m := range memories {
		contents[i] = m.Fragment.Content
	}

	persona := req.Persona
	if persona.IsZero() {
		persona = e.storedPersona(ctx, req.PetID)
	}
	params := llm.ReplyParams
	params.System = llm.ReplySystemPrompt(persona, contents, string(req.Emotion))

	text, err := llm.GenerateText(ctx, e.llm, req.Message, params)
	if err != nil {
		logging.From(ctx).Warn("reply generation failed", "pet_id", req.PetID, "error", err)
		return ReplyResult{Reply: FallbackReply, Memories: memories, Fallback: true}
	}
	return ReplyResult{Reply: text, Memories: memories}
}

// ChatResult is one full exchange: the user's turn, the reply, and both
// stored fragments.
type ChatResult struct {
	ReplyResult
	UserFragment  *model.Fragment `json:"user_fragment"`
	ReplyFragment *model.Fragment `json:"reply_fragment,omitempty"`
}

// Chat remembers the user's message, replies, and remembers the reply.
func (e *Engine) Chat(ctx context.Context, petID, text string, persona llm.Persona) (*ChatResult, error) {
	userFrag, err := e.ProcessTurn(ctx, Turn{PetID: petID, Role: model.RoleUser, Content: text})
	if err != nil {
		return nil, err
	}

	res := &ChatResult{
		ReplyResult: e.Reply(ctx, ReplyRequest{
			PetID:   petID,
			Message: userFrag.Content,
			Persona: persona,
			Emotion: userFrag.Emotion,
			Exclude: []string{userFrag.ID},
		}),
		UserFragment: userFrag,
	}
	if res.Fallback {
		return res, nil
	}

	replyFrag, err := e.ProcessTurn(ctx, Turn{PetID: petID, Role: model.RoleAssistant, Content: res.Reply})
	if err != nil {
		return res, err
	}
	res.ReplyFragment = replyFrag
	return res, nil
}

func (e *Engine) storedPersona(ctx context.Context, petID string) llm.Persona {
	pet, err := e.store.GetPet(ctx, petID)
	if err != nil {
		logging.From(ctx).Warn("pet profile unavailable", "pet_id", petID, "error", err)
		return llm.Persona{}
	}
	return llm.PersonaFromPet(pet)
}
