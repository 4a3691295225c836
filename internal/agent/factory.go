package agent

import "strings"

const (
	architectPersona = `You are a senior narrative architect. You design novels that hold together:
every chapter causes the next, every thread that opens closes, and escalation never stalls.
When asked for JSON you answer with JSON only.`

	editorPersona = `You are an exacting developmental editor. You find the specific problems in a
draft and say exactly what is wrong and where. You never pad feedback with praise.`

	novelistPersona = `You are a novelist writing publishable prose. You show rather than tell,
keep continuity exact, and write only the text asked for.`

	repairPersona = `You fix malformed output. You keep the content and correct only the structure,
answering in exactly the requested format.`
)

// AgentFactory hands out stage agents with the persona suited to the stage.
type AgentFactory struct {
	gateway Gateway
	prompts *PromptCache
}

func NewAgentFactory(gateway Gateway, prompts *PromptCache) *AgentFactory {
	return &AgentFactory{
		gateway: gateway,
		prompts: prompts,
	}
}

// Agent returns the agent for stage ("<scope>.<action>") rendering template.
func (f *AgentFactory) Agent(stage, template string) *Agent {
	return NewWithSystem(f.gateway, f.prompts, stage, template, personaFor(stage))
}

func (f *AgentFactory) Prompts() *PromptCache {
	return f.prompts
}

func personaFor(stage string) string {
	scope, action, _ := strings.Cut(stage, ".")
	switch action {
	case "critique":
		return editorPersona
	case "repair":
		return repairPersona
	}
	switch scope {
	case "scene_text":
		return novelistPersona
	default:
		return architectPersona
	}
}
