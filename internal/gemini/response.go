package gemini

import (
	"encoding/json"
	"strings"

	"github.com/harrison/agentd/internal/models"
)

// jsonEnvelope matches the top-level shape of `gemini --output-format json`.
type jsonEnvelope struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// ParseResponse extracts the agent's natural-language answer from raw stdout.
// JSON output is unwrapped to its response field; anything that does not
// parse (or any non-JSON format) is returned as-is, trimmed. The engine
// treats the value as opaque either way.
func ParseResponse(raw string, format models.OutputFormat) string {
	trimmed := strings.TrimSpace(raw)
	if format != models.OutputJSON || trimmed == "" {
		return trimmed
	}

	var env jsonEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err == nil && env.Response != "" {
		return env.Response
	}

	// Some CLI versions emit log lines before the JSON document. Fall back
	// to parsing from the first opening brace.
	if idx := strings.Index(trimmed, "{"); idx > 0 {
		if err := json.Unmarshal([]byte(trimmed[idx:]), &env); err == nil && env.Response != "" {
			return env.Response
		}
	}

	return trimmed
}
