// Package unified defines the canonical request/response model that every
// wire-protocol transformer converts to and from (spec §3). It is
// protocol-agnostic: nothing here knows about OpenAI/Anthropic/Gemini JSON
// shapes, only about roles, content parts, tool schemas and generation
// parameters.
package unified

import "encoding/json"

// Role mirrors the teacher's types.Role; kept as its own type here since
// unified is a standalone package with no dependency on the teacher's types
// package — the old framework's Message shape is a flat string-content
// struct, while spec §3 requires role-tagged content *parts*.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleDeveloper is OpenAI's newer role; parseRequest maps it to
	// RoleSystem with a warning, per spec §4.4's content mapping rules.
	RoleDeveloper Role = "developer"
)

// ContentPartKind discriminates the ContentPart sum type (spec §3).
type ContentPartKind string

const (
	PartText       ContentPartKind = "text"
	PartToolCall   ContentPartKind = "tool_call"
	PartToolResult ContentPartKind = "tool_result"
	PartFile       ContentPartKind = "file"
	PartReasoning  ContentPartKind = "reasoning"
	PartImage      ContentPartKind = "image"
)

// ContentPart is the closed sum type behind spec §3's "role-tagged parts".
// Exactly the fields relevant to Kind are populated; transformers must
// switch on Kind rather than guess from which fields are non-zero.
type ContentPart struct {
	Kind ContentPartKind `json:"kind"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartToolCall
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolArgsJSON json.RawMessage `json:"tool_args_json,omitempty"`
	ToolArgsRaw  bool            `json:"tool_args_raw,omitempty"` // true if ToolArgsJSON wraps {_raw: original}

	// PartToolResult
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	// ResultJSON holds the JSON-parsed form when the upstream output was a
	// JSON string (spec §4.4: "JSON string outputs are parsed to
	// {type: json, value}"). ResultParts holds the part-by-part mapping
	// when the upstream output was itself a content array
	// ({type: content, value: [...]}). At most one of the two is populated;
	// an output that is not JSON is kept in ResultText instead.
	ResultJSON  json.RawMessage `json:"result_json,omitempty"`
	ResultParts []ContentPart   `json:"result_parts,omitempty"`
	ResultText  string          `json:"result_text,omitempty"`
	IsError     bool            `json:"is_error,omitempty"`

	// PartFile / PartImage
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"` // base64, when no URL

	// PartReasoning
	ReasoningText      string `json:"reasoning_text,omitempty"`
	ReasoningSignature string `json:"reasoning_signature,omitempty"`
	ReasoningEncrypted string `json:"reasoning_encrypted,omitempty"` // base64 redacted_thinking payload
}

// Message is one turn in UnifiedRequest.Messages.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
	// Name optionally labels a tool/function message (OpenAI "name" field).
	Name string `json:"name,omitempty"`
}

// Text concatenates all text parts, a convenience for components (cost
// estimation, the heuristic classifier) that just want the prose content.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolChoiceMode is spec §3's {auto|none|required|tool:name}.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	// ToolChoiceNamed values are rendered "tool:<name>"; use ParseToolChoice.
)

// ToolChoice is either one of the fixed modes or a specific tool name.
type ToolChoice struct {
	Mode ToolChoiceMode
	Tool string // populated when Mode is not one of the fixed modes
}

// ParseToolChoice decodes the wire form "auto"|"none"|"required"|"tool:<name>".
func ParseToolChoice(s string) ToolChoice {
	switch ToolChoiceMode(s) {
	case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return ToolChoice{Mode: ToolChoiceMode(s)}
	}
	const prefix = "tool:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return ToolChoice{Mode: "tool", Tool: s[len(prefix):]}
	}
	return ToolChoice{Mode: ToolChoiceAuto}
}

// ToolDefinition is spec §3's tool entry: {name, description, JSON schema}.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponseFormat models OpenAI-style {type: text|json_object|json_schema, json_schema?}.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// UnifiedRequest is spec §3's canonical, protocol-agnostic request.
type UnifiedRequest struct {
	Model    string    `json:"model"` // alias name as given by the client
	Messages []Message `json:"messages"`

	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice *ToolChoice      `json:"tool_choice,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxOutputTokens  *int     `json:"max_output_tokens,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`

	// IncomingAPIType names the client dialect this request was parsed
	// from: chat, messages, gemini, responses, embeddings, images, speech,
	// transcriptions.
	IncomingAPIType string `json:"incoming_api_type"`

	// OriginalBody is the raw, unparsed client payload, retained for the
	// pass-through fast path (spec §4.4/§4.6).
	OriginalBody json.RawMessage `json:"-"`

	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	// User is the OpenAI "user" field / Anthropic metadata.user_id,
	// carried for usage attribution (SPEC_FULL §3 supplement).
	User string `json:"user,omitempty"`
}

// Clone returns a deep-enough copy for safe mutation (used by the
// dispatcher when forking a request across failover attempts that need
// per-target model rewrites).
func (r *UnifiedRequest) Clone() *UnifiedRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		m.Parts = append([]ContentPart(nil), m.Parts...)
		cp.Messages[i] = m
	}
	cp.Tools = append([]ToolDefinition(nil), r.Tools...)
	cp.Stop = append([]string(nil), r.Stop...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
