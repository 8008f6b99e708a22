package unified

import "io"

// FinishReason is the canonical finish-reason set; each transformer maps it
// to/from its own dialect's closed table (spec §4.4).
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength         FinishReason = "length"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishContentFilter  FinishReason = "content_filter"
	FinishError          FinishReason = "error"
)

// TransformWarning is the sink for lossy-conversion notices (SPEC_FULL §3
// supplement): "developer role -> system with a warning", "encrypted
// reasoning blocks dropped with a warning", etc.
type TransformWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// Usage is the token/cost accounting attached to a completed response.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CachedTokens    int `json:"cached_tokens,omitempty"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens"`
	// Estimated is not set by the dispatcher or plexus.Application; a
	// tokenizer estimate (internal/cost's tiktoken-go estimator) is
	// recorded on usage.UsageRow.EstimatedUsage instead.
	Estimated bool `json:"estimated,omitempty"`
}

// PlexusMeta is the `plexus` block attached to every UnifiedResponse (spec
// §3/§9): a value copy of the resolved routing decision, never a live
// pointer into the mutable config snapshot.
type PlexusMeta struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	CanonicalModel   string  `json:"canonical_model"`
	APIType          string  `json:"api_type"`
	Pricing          Pricing `json:"pricing"`
	ProviderDiscount float64 `json:"provider_discount"`
}

// Pricing is a value-copied snapshot of the resolved ModelConfig.pricing at
// response time (see config.Pricing for the configuration-side shape;
// unified does not import internal/config to keep this package leaf-level,
// so the dispatcher/cost packages populate this by field copy).
type Pricing struct {
	InputPer1M     float64 `json:"input_per_1m"`
	OutputPer1M    float64 `json:"output_per_1m"`
	CachedPer1M    float64 `json:"cached_per_1m,omitempty"`
	ReasoningPer1M float64 `json:"reasoning_per_1m,omitempty"`
}

// UnifiedResponse is spec §3's canonical response: either a completed
// response (Parts/Usage/FinishReason populated) or a streaming envelope
// (Stream populated, BypassTransformation possibly set).
type UnifiedResponse struct {
	ID    string `json:"id,omitempty"`
	Model string `json:"model"`

	Parts        []ContentPart `json:"parts,omitempty"`
	Usage        Usage         `json:"usage"`
	FinishReason FinishReason  `json:"finish_reason,omitempty"`
	Sources      []string      `json:"sources,omitempty"`

	// Stream, when non-nil, carries the opaque upstream byte stream for
	// the streaming case. Parts/Usage/FinishReason of such an envelope stay
	// empty; the final snapshot reconstructed from the stream (see
	// internal/transform's stream codec) is a separate UnifiedResponse,
	// returned by dispatcher.Outcome.StreamSnapshot.
	Stream               io.Reader `json:"-"`
	BypassTransformation bool      `json:"-"`
	// RawResponseSnapshot is an optional opaque copy of the raw upstream
	// payload retained for debugging/usage reconciliation.
	RawResponseSnapshot []byte `json:"-"`

	Plexus   PlexusMeta         `json:"plexus"`
	Warnings []TransformWarning `json:"warnings,omitempty"`
}

// IsStreaming reports whether this envelope wraps a live stream rather than
// a completed response.
func (r *UnifiedResponse) IsStreaming() bool { return r.Stream != nil }
