package phase

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	bareKey       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// CleanJSONResponse strips markdown fences and surrounding chatter from a
// model response and returns the first balanced JSON object or array in it.
// If nothing parseable is found the trimmed input is returned unchanged.
func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") && strings.HasSuffix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		// drop the info string, e.g. ```json
		if i := strings.IndexByte(response, '\n'); i >= 0 && !strings.ContainsAny(response[:i], "{[") {
			response = response[i+1:]
		}
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}

	return extractJSON(response)
}

// DecodeJSON cleans response and unmarshals it into target.
func DecodeJSON(response string, target any) error {
	return json.Unmarshal([]byte(CleanJSONResponse(response)), target)
}

func extractJSON(response string) string {
	if isValidJSON(response) {
		return response
	}

	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return response
	}
	openCh, closeCh := response[start], byte('}')
	if openCh == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	end := 0
	for i := start; i < len(response) && end == 0; i++ {
		ch := response[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == openCh:
			depth++
		case ch == closeCh:
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
	}
	if end == 0 {
		return response
	}

	candidate := response[start:end]
	if isValidJSON(candidate) {
		return candidate
	}
	if fixed := fixJSONString(candidate); isValidJSON(fixed) {
		return fixed
	}
	return response
}

// fixJSONString repairs the two mistakes models make most: trailing commas
// and unquoted object keys.
func fixJSONString(s string) string {
	s = trailingComma.ReplaceAllString(s, "$1")
	s = bareKey.ReplaceAllString(s, `$1"$2":`)
	return s
}

func isValidJSON(str string) bool {
	var js any
	return json.Unmarshal([]byte(str), &js) == nil
}
