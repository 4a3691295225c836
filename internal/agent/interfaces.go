package agent

import (
	"context"
	"time"
)

// Gateway is the single entry point for text generation.
type Gateway interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions describes one call. Stage selects the model route and
// labels logs; zero values fall back to the client's defaults. Attempt
// numbers a repeated request for the same unit; anything above 1 must
// reach the model.
type GenerateOptions struct {
	Stage       string
	Attempt     int
	System      string
	Temperature *float64
	MaxTokens   int
	Seed        *int64
	Timeout     time.Duration
}

// Provider is a concrete backend reached through a URI scheme such as
// anthropic:// or ollama://.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int
	Seed        *int64
}

// Resolver is implemented by gateways that can name the model a stage is
// routed to.
type Resolver interface {
	Resolve(stage string) string
}
