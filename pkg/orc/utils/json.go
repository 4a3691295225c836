package utils

import (
	"strings"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase"
)

// CleanJSONResponse removes markdown fences and chatter around the JSON
// payload of a model response.
func CleanJSONResponse(response string) string {
	return phase.CleanJSONResponse(response)
}

// ParseJSONResponse parses a potentially messy model JSON response
func ParseJSONResponse(response string, target any) error {
	return phase.DecodeJSON(response, target)
}

// LooksLikeJSON reports whether a response carries a JSON object or array
// once cleaned.
func LooksLikeJSON(response string) bool {
	cleaned := CleanJSONResponse(response)
	if !strings.HasPrefix(cleaned, "{") && !strings.HasPrefix(cleaned, "[") {
		return false
	}
	var v any
	return ParseJSONResponse(cleaned, &v) == nil
}
