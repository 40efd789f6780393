package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	openAIBase  = "https://api.openai.com/v1"
	openAIModel = "gpt-4-turbo"
)

// OpenAI calls any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAI creates a chat completions client. Empty baseURL and model fall
// back to the public API and gpt-4-turbo.
func NewOpenAI(apiKey, baseURL, model string, timeout time.Duration) *OpenAI {
	if baseURL == "" {
		baseURL = openAIBase
	}
	if model == "" {
		model = openAIModel
	}
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends the prompt as a user message, preceded by p.System when set.
func (o *OpenAI) Generate(ctx context.Context, prompt string, p Params) (*Response, error) {
	var msgs []oaiMessage
	if p.System != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: p.System})
	}
	msgs = append(msgs, oaiMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(oaiRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "marshal openai request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "create openai request")
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "openai api")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "read openai response")
	}

	var result oaiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, goerr.Wrap(err, "decode openai response",
			goerr.V("status", resp.StatusCode), goerr.V("body", truncate(string(respBody), 200)))
	}
	if result.Error != nil {
		return nil, goerr.New("openai api error",
			goerr.V("status", resp.StatusCode), goerr.V("type", result.Error.Type), goerr.V("message", result.Error.Message))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("openai api status", goerr.V("status", resp.StatusCode))
	}
	if len(result.Choices) == 0 {
		return nil, goerr.New("openai returned no choices")
	}

	return &Response{
		Content:    strings.TrimSpace(result.Choices[0].Message.Content),
		Provider:   "openai",
		TokensUsed: result.Usage.TotalTokens,
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
