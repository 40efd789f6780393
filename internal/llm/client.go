package llm

import (
	"context"
	"strings"
	"time"

	"github.com/kodapet/koda/internal/config"
	"github.com/m-mizutani/goerr/v2"
)

// Client is the interface for text-generation providers.
type Client interface {
	Generate(ctx context.Context, prompt string, p Params) (*Response, error)
}

// Params tunes a single generation call.
type Params struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// Response holds the result of a generation call.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

const (
	defaultTimeout = 120 * time.Second
	anthropicModel = "claude-haiku-4-5-20251001"
	ollamaModel    = "llama3.2"
)

// NewClient creates a client for the configured provider, wrapped in a rate
// limiter when cfg.RateLimit is set.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var c Client
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, goerr.New("openai provider requires OPENAI_API_KEY or llm.base_url")
		}
		c = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, timeout)
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, goerr.New("anthropic provider requires ANTHROPIC_API_KEY or llm.api_key")
		}
		model := cfg.Model
		if model == "" {
			model = anthropicModel
		}
		c = NewAnthropic(cfg.APIKey, model, timeout)
	case "ollama":
		url := cfg.BaseURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = ollamaModel
		}
		c = NewOllama(url, model, timeout)
	case "gemini":
		if cfg.APIKey == "" {
			return nil, goerr.New("gemini provider requires GEMINI_API_KEY or llm.api_key")
		}
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		c = g
	case "none":
		return Disabled{}, nil
	default:
		return nil, goerr.New("unknown LLM provider", goerr.V("provider", cfg.Provider))
	}

	if cfg.RateLimit > 0 {
		c = NewLimited(c, cfg.RateLimit, cfg.Burst)
	}
	return c, nil
}

// ErrDisabled is returned by Disabled for every call.
var ErrDisabled = goerr.New("text generation is disabled")

// Disabled always fails, which drives every caller onto its fallback path.
type Disabled struct{}

func (Disabled) Generate(ctx context.Context, prompt string, p Params) (*Response, error) {
	return nil, ErrDisabled
}

// ErrEmptyResponse is returned by GenerateText when the provider answered
// with nothing usable.
var ErrEmptyResponse = goerr.New("empty llm response")

// GenerateText runs a single call and returns the trimmed content. A nil or
// blank response counts as a failure.
func GenerateText(ctx context.Context, c Client, prompt string, p Params) (string, error) {
	resp, err := c.Generate(ctx, prompt, p)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", goerr.Wrap(ErrEmptyResponse, "generate", goerr.V("provider", resp.Provider))
	}
	return text, nil
}
