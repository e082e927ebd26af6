package planner

import (
	"encoding/json"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/coriolis-labs/agentrun/internal/runmodel"
)

// actionPayload is the loosely-typed shape of an LLM action response.
// Models are inconsistent about whether numeric-looking fields come back as
// JSON numbers or strings, so the JSON block is decoded into a generic map
// first and then coerced into this struct with mapstructure's weak typing
// rather than a strict json.Unmarshal.
type actionPayload struct {
	Action    string         `mapstructure:"action"`
	ServerID  string         `mapstructure:"server_id"`
	ToolName  string         `mapstructure:"tool_name"`
	Arguments map[string]any `mapstructure:"arguments"`
	Answer    string         `mapstructure:"answer"`
}

func decodeActionPayload(block string) (actionPayload, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return actionPayload{}, false
	}

	var decoded actionPayload
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &decoded,
	})
	if err != nil {
		return actionPayload{}, false
	}
	if err := decoder.Decode(raw); err != nil {
		return actionPayload{}, false
	}
	return decoded, true
}

// parseAction scans response for the first balanced {...} block and decodes
// it as either a tool_call or finish action. A response with no balanced
// JSON object falls back to a bare "FINISH" keyword, then to an unknown
// action carrying the raw text. Parse once, switch once: the caller never
// re-inspects response after this returns.
func parseAction(response string) runmodel.Action {
	response = strings.TrimSpace(response)

	if block := firstBalancedObject(response); block != "" {
		if decoded, ok := decodeActionPayload(block); ok {
			switch decoded.Action {
			case "tool_call":
				if decoded.ServerID != "" && decoded.ToolName != "" {
					arguments := decoded.Arguments
					if arguments == nil {
						arguments = map[string]any{}
					}
					return runmodel.Action{
						Kind:      runmodel.ActionToolCall,
						ServerID:  decoded.ServerID,
						ToolName:  decoded.ToolName,
						Arguments: arguments,
						Raw:       response,
					}
				}
			case "finish":
				return runmodel.Action{Kind: runmodel.ActionFinish, Answer: decoded.Answer, Raw: response}
			}
		}
	}

	if idx := strings.Index(strings.ToUpper(response), "FINISH"); idx >= 0 {
		rest := strings.TrimSpace(response[idx+len("FINISH"):])
		if rest == "" {
			rest = response
		}
		return runmodel.Action{Kind: runmodel.ActionFinish, Answer: rest, Raw: response}
	}

	return runmodel.Action{Kind: runmodel.ActionUnknown, Raw: response}
}

// firstBalancedObject returns the text of the first top-level {...} block in
// s, honoring nested braces and braces embedded in string literals, or ""
// if s contains no balanced object.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
