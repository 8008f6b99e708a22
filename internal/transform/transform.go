// Package transform implements spec §4.4's transformer layer: per-dialect
// parseRequest/transformRequest/transformResponse/transformStream/
// getEndpoint, registered by API type so the dispatcher and router can look
// one up without a type switch.
package transform

import (
	"fmt"

	"github.com/plexusgw/plexus/internal/unified"
)

// APIType names one of spec §4.4's supported client/provider dialects.
type APIType string

const (
	APIChat           APIType = "chat"
	APIMessages       APIType = "messages"
	APIGemini         APIType = "gemini"
	APIResponses      APIType = "responses"
	APIEmbeddings     APIType = "embeddings"
	APIImages         APIType = "images"
	APISpeech         APIType = "speech"
	APITranscriptions APIType = "transcriptions"
	APIOAuth          APIType = "oauth"
)

// Transformer is spec §4.4's per-dialect contract.
type Transformer interface {
	// ParseRequest decodes a client's raw wire payload into a UnifiedRequest,
	// collecting TransformWarnings for lossy/unsupported constructs.
	ParseRequest(rawBody []byte) (*unified.UnifiedRequest, []unified.TransformWarning, error)

	// TransformRequest renders a UnifiedRequest into this dialect's outgoing
	// wire payload.
	TransformRequest(req *unified.UnifiedRequest) ([]byte, error)

	// TransformResponse parses a provider's unary response payload into a
	// UnifiedResponse.
	TransformResponse(providerPayload []byte) (*unified.UnifiedResponse, error)

	// DefaultEndpoint is the path appended to the provider's resolved base
	// URL when no per-request override applies.
	DefaultEndpoint(req *unified.UnifiedRequest) string
}

// StreamTransformer is implemented by dialects that support SSE streaming
// (spec §4.4's transformStream). Not every Transformer needs one (e.g.
// embeddings never streams).
type StreamTransformer interface {
	// TransformStream wraps the raw upstream SSE byte stream, relaying
	// chunks in providerAPIType's framing while feeding a StreamAccumulator
	// so the dispatcher can recover a final UnifiedResponse snapshot for
	// usage accounting once the stream ends. The built-in implementations do
	// not re-encode chunks into clientAPIType's framing.
	TransformStream(upstream []byte, clientAPIType, providerAPIType APIType, acc *StreamAccumulator) ([]byte, error)
}

// Registry maps APIType to its Transformer, per spec §9's "transformer
// registry keyed by api-type."
type Registry struct {
	transformers map[APIType]Transformer
}

// NewRegistry builds an empty registry; call Register for each dialect.
func NewRegistry() *Registry {
	return &Registry{transformers: make(map[APIType]Transformer)}
}

// Register installs t for apiType, overwriting any existing entry.
func (r *Registry) Register(apiType APIType, t Transformer) {
	r.transformers[apiType] = t
}

// Get looks up the transformer for apiType.
func (r *Registry) Get(apiType APIType) (Transformer, error) {
	t, ok := r.transformers[apiType]
	if !ok {
		return nil, fmt.Errorf("transform: no transformer registered for api type %q", apiType)
	}
	return t, nil
}

// NewDefaultRegistry builds a Registry with every built-in Transformer spec
// §4.4 names, wired to their concrete implementations in this package.
// images/speech/transcriptions register as pass-through heavy (the dialect
// is proxied byte-for-byte, not reshaped); oauth registers as a no-op
// pass-through too, purely so Registry.Get never fails for it.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(APIChat, NewChatTransformer())
	r.Register(APIMessages, NewMessagesTransformer())
	r.Register(APIGemini, NewGeminiTransformer())
	r.Register(APIResponses, NewResponsesTransformer())
	r.Register(APIEmbeddings, NewEmbeddingsTransformer())
	r.Register(APIImages, NewPassThroughTransformer(APIImages, "/v1/images/generations"))
	r.Register(APISpeech, NewPassThroughTransformer(APISpeech, "/v1/audio/speech"))
	r.Register(APITranscriptions, NewPassThroughTransformer(APITranscriptions, "/v1/audio/transcriptions"))
	r.Register(APIOAuth, NewPassThroughTransformer(APIOAuth, "/oauth/token"))
	return r
}
