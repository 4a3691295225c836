package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Agent is one stage of the pipeline: a prompt template, a system persona and
// the gateway route for that stage.
type Agent struct {
	gateway      Gateway
	prompts      *PromptCache
	stage        string
	template     string
	systemPrompt string
	logger       *slog.Logger
}

func New(gateway Gateway, prompts *PromptCache, stage, template string) *Agent {
	return &Agent{
		gateway:  gateway,
		prompts:  prompts,
		stage:    stage,
		template: template,
		logger:   slog.Default().With("component", "agent", "stage", stage),
	}
}

// NewWithSystem creates an agent that sends a system prompt with every call.
func NewWithSystem(gateway Gateway, prompts *PromptCache, stage, template, systemPrompt string) *Agent {
	a := New(gateway, prompts, stage, template)
	a.systemPrompt = systemPrompt
	return a
}

// WithLogger sets a custom logger for the agent
func (a *Agent) WithLogger(logger *slog.Logger) *Agent {
	a.logger = logger.With("component", "agent", "stage", a.stage)
	return a
}

func (a *Agent) Stage() string {
	return a.stage
}

// Prompt renders the agent's template with data.
func (a *Agent) Prompt(data any) (string, error) {
	prompt, err := a.prompts.Render(a.template, data)
	if err != nil {
		return "", fmt.Errorf("%s prompt: %w", a.stage, err)
	}
	return prompt, nil
}

// Send delivers an already rendered prompt as a first attempt.
func (a *Agent) Send(ctx context.Context, prompt string) (string, error) {
	return a.SendAttempt(ctx, prompt, 1)
}

// SendAttempt delivers prompt as the given attempt for its unit.
func (a *Agent) SendAttempt(ctx context.Context, prompt string, attempt int) (string, error) {
	startTime := time.Now()
	a.logger.Debug("starting agent execution",
		"template", a.template,
		"attempt", attempt,
		"prompt_length", len(prompt))

	response, err := a.gateway.Generate(ctx, prompt, GenerateOptions{
		Stage:   a.stage,
		System:  a.systemPrompt,
		Attempt: attempt,
	})
	if err != nil {
		a.logger.Debug("agent execution failed",
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		return "", err
	}

	a.logger.Debug("agent execution completed",
		"duration_ms", time.Since(startTime).Milliseconds(),
		"response_length", len(response))
	return response, nil
}

// Execute renders and sends in one step.
func (a *Agent) Execute(ctx context.Context, data any) (prompt, response string, err error) {
	prompt, err = a.Prompt(data)
	if err != nil {
		return "", "", err
	}
	response, err = a.Send(ctx, prompt)
	return prompt, response, err
}
