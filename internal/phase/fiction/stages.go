package fiction

// Stage names double as model routes: the router tries the full name, then
// the action, then the scope before falling back to the default model.
const (
	StageOutlineDraft    = "outline.draft"
	StageOutlineAppend   = "outline.append"
	StageSceneOutline    = "scene_outline.draft"
	StageSceneText       = "scene_text.draft"
	StageSceneCarry      = "scene_text.carry"
	actionCritique       = "critique"
	actionRevise         = "revise"
	actionRepair         = "repair"
	templateRepair       = "repair"
	templateOutlineDraft = "outline_draft"
	templateAppend       = "outline_append"
	templateScenes       = "scene_outline_draft"
	templateSceneText    = "scene_text_draft"
	templateCarry        = "scene_carry"
)

func stageFor(kind Kind, action string) string {
	return kind.String() + "." + action
}

// PromptPair names the critique and revise templates for one unit kind.
type PromptPair struct {
	Critique string `json:"critique" yaml:"critique"`
	Revise   string `json:"revise" yaml:"revise"`
}

// DefaultPromptPairs maps every kind to its <kind>_critique and
// <kind>_revise templates.
func DefaultPromptPairs() map[Kind]PromptPair {
	pairs := make(map[Kind]PromptPair, len(kindNames))
	for i := range kindNames {
		k := Kind(i)
		pairs[k] = PromptPair{Critique: k.String() + "_critique", Revise: k.String() + "_revise"}
	}
	return pairs
}
