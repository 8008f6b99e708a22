package transform

import (
	"encoding/json"

	"github.com/plexusgw/plexus/internal/unified"
)

// parseToolArgsJSON decodes a tool-call's argument string into a
// json.RawMessage object. Per spec §4.4: "JSON-string arguments parsed to
// objects (invalid JSON -> {_raw: original} + warning)."
func parseToolArgsJSON(raw string) (json.RawMessage, bool, *unified.TransformWarning) {
	if raw == "" {
		return json.RawMessage("{}"), false, nil
	}
	var probe json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		wrapped, marshalErr := json.Marshal(map[string]string{"_raw": raw})
		if marshalErr != nil {
			wrapped = []byte(`{"_raw":""}`)
		}
		return wrapped, true, &unified.TransformWarning{
			Code:    "tool_args_unparsable",
			Message: "tool call arguments were not valid JSON; wrapped as {_raw: original}",
		}
	}
	return probe, false, nil
}

// marshalToolArgsString renders tool-call arguments back to a JSON string
// for dialects (OpenAI, Gemini) that carry arguments as a string rather than
// a nested object. A raw-wrapped part unwraps back to the original string.
func marshalToolArgsString(p unified.ContentPart) string {
	if p.ToolArgsRaw {
		var wrapper struct {
			Raw string `json:"_raw"`
		}
		if err := json.Unmarshal(p.ToolArgsJSON, &wrapper); err == nil {
			return wrapper.Raw
		}
	}
	if len(p.ToolArgsJSON) == 0 {
		return "{}"
	}
	return string(p.ToolArgsJSON)
}

// toolResultText renders a ContentPart of Kind PartToolResult back to a
// single string payload, the shape most dialects (chat, messages, gemini)
// expect for a tool/function response. The spec's {type:json,value} and
// {type:content,value:[...]} encodings are reconstructed losslessly enough
// to round-trip through re-serialization.
func toolResultText(p unified.ContentPart) string {
	switch {
	case len(p.ResultJSON) > 0:
		return string(p.ResultJSON)
	case len(p.ResultParts) > 0:
		var texts []byte
		texts, _ = json.Marshal(p.ResultParts)
		return string(texts)
	default:
		return p.ResultText
	}
}

// toolResultFromText parses a tool/function result payload into the parsed
// ResultJSON form when it is valid JSON, else keeps it as ResultText.
func toolResultFromText(raw string) unified.ContentPart {
	p := unified.ContentPart{Kind: unified.PartToolResult}
	trimmed := raw
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var probe json.RawMessage
		if err := json.Unmarshal([]byte(raw), &probe); err == nil {
			p.ResultJSON = probe
			return p
		}
	}
	p.ResultText = raw
	return p
}

// addWarning appends w to warnings if w is non-nil; a small convenience
// since most callers build a warning conditionally.
func addWarning(warnings []unified.TransformWarning, w *unified.TransformWarning) []unified.TransformWarning {
	if w == nil {
		return warnings
	}
	return append(warnings, *w)
}
