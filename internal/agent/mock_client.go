package agent

import (
	"context"
	"fmt"
	"sync"
)

// MockReply is one scripted answer; a non-nil Err is returned instead of Text.
type MockReply struct {
	Text string
	Err  error
}

// MockCall records a call made against a MockGateway.
type MockCall struct {
	Stage   string
	Prompt  string
	Attempt int
}

// MockGateway answers from per-stage queues, then from a handler, then from
// a default text. Safe for concurrent use.
type MockGateway struct {
	mu       sync.Mutex
	scripts  map[string][]MockReply
	handler  func(stage, prompt string) (string, error)
	fallback *MockReply
	calls    []MockCall
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		scripts: make(map[string][]MockReply),
	}
}

// Script queues text replies for stage, consumed in order.
func (m *MockGateway) Script(stage string, replies ...string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range replies {
		m.scripts[stage] = append(m.scripts[stage], MockReply{Text: r})
	}
	return m
}

// Fail queues an error reply for stage.
func (m *MockGateway) Fail(stage string, err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[stage] = append(m.scripts[stage], MockReply{Err: err})
	return m
}

// Handle answers every call whose stage queue is empty.
func (m *MockGateway) Handle(fn func(stage, prompt string) (string, error)) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// Default answers anything the queues and handler do not.
func (m *MockGateway) Default(text string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &MockReply{Text: text}
	return m
}

func (m *MockGateway) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Stage: opts.Stage, Prompt: prompt, Attempt: opts.Attempt})
	if queue := m.scripts[opts.Stage]; len(queue) > 0 {
		reply := queue[0]
		m.scripts[opts.Stage] = queue[1:]
		m.mu.Unlock()
		return reply.Text, reply.Err
	}
	handler := m.handler
	fallback := m.fallback
	m.mu.Unlock()

	if handler != nil {
		return handler(opts.Stage, prompt)
	}
	if fallback != nil {
		return fallback.Text, fallback.Err
	}
	return "", fmt.Errorf("mock gateway: no reply scripted for stage %q", opts.Stage)
}

func (m *MockGateway) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the calls made for one stage, in order.
func (m *MockGateway) CallsFor(stage string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}
