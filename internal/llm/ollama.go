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

// Ollama calls a local Ollama instance.
type Ollama struct {
	url    string
	model  string
	client *http.Client
}

// NewOllama creates a new Ollama client.
func NewOllama(url, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Generate sends a prompt to Ollama's generate endpoint.
func (o *Ollama) Generate(ctx context.Context, prompt string, p Params) (*Response, error) {
	options := map[string]any{"temperature": p.Temperature}
	if p.MaxTokens > 0 {
		options["num_predict"] = p.MaxTokens
	}
	reqBody := map[string]any{
		"model":   o.model,
		"prompt":  prompt,
		"stream":  false,
		"options": options,
	}
	if p.System != "" {
		reqBody["system"] = p.System
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, goerr.Wrap(err, "marshal ollama request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "create ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "ollama api")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "read ollama response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("ollama api status",
			goerr.V("status", resp.StatusCode), goerr.V("body", truncate(string(respBody), 200)))
	}

	var result struct {
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, goerr.Wrap(err, "decode ollama response")
	}

	return &Response{
		Content:    strings.TrimSpace(result.Response),
		Provider:   "ollama",
		TokensUsed: result.PromptEvalCount + result.EvalCount,
	}, nil
}
