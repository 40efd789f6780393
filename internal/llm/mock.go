package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the Client interface.
// Handler, when set, takes precedence over Response/Err.
type MockClient struct {
	Response *Response
	Err      error
	Handler  func(prompt string, p Params) (*Response, error)

	mu     sync.Mutex
	Calls  []string // records prompts sent
	Params []Params
}

// Generate records the call and returns the scripted response.
func (m *MockClient) Generate(ctx context.Context, prompt string, p Params) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	m.Params = append(m.Params, p)
	m.mu.Unlock()

	if m.Handler != nil {
		return m.Handler(prompt, p)
	}
	return m.Response, m.Err
}

// CallCount returns how many prompts were sent.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Text is shorthand for a successful mock response.
func Text(content string) *Response {
	return &Response{Content: content, Provider: "mock"}
}
