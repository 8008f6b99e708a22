package transform

import (
	"encoding/json"

	"github.com/plexusgw/plexus/internal/unified"
)

// BuildPassThroughPayload implements spec §4.6's fast path: when the
// incoming and target api types match and no force_transformer override
// applies, the dispatcher skips transformRequest entirely and instead
// clones the client's original body, overwrites the model field, and merges
// any provider-level extraBody overrides.
func BuildPassThroughPayload(originalBody []byte, modelOverride string, extraBody map[string]any) ([]byte, error) {
	var doc map[string]any
	if len(originalBody) > 0 {
		if err := json.Unmarshal(originalBody, &doc); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if modelOverride != "" {
		doc["model"] = modelOverride
	}
	for k, v := range extraBody {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// MergeExtraBody overlays extraBody's keys onto an already-rendered wire
// payload, used by the dispatcher to apply a provider's configured extraBody
// after transformRequest (spec §4.6 step 3: "merge extraBody" applies
// whether or not the pass-through fast path was taken). A nil/empty
// extraBody returns payload unchanged.
func MergeExtraBody(payload []byte, extraBody map[string]any) ([]byte, error) {
	if len(extraBody) == 0 {
		return payload, nil
	}
	var doc map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	for k, v := range extraBody {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// PassThroughTransformer is a Transformer for dialects this gateway forwards
// byte-for-byte instead of reshaping: ParseRequest/TransformRequest keep the
// client's original body as-is (the dispatcher's own pass-through fast path
// still applies the model-override/extraBody merge), and TransformResponse
// wraps the provider's payload as an opaque snapshot rather than decoding a
// dialect it doesn't understand. Registered for images/speech/
// transcriptions/oauth, the dialects spec §4.4 names without giving a
// bespoke wire shape.
type PassThroughTransformer struct {
	apiType  APIType
	endpoint string
}

// NewPassThroughTransformer builds a pass-through Transformer for apiType,
// hitting endpoint on the provider's resolved base URL.
func NewPassThroughTransformer(apiType APIType, endpoint string) *PassThroughTransformer {
	return &PassThroughTransformer{apiType: apiType, endpoint: endpoint}
}

func (t *PassThroughTransformer) DefaultEndpoint(req *unified.UnifiedRequest) string {
	return t.endpoint
}

func (t *PassThroughTransformer) ParseRequest(rawBody []byte) (*unified.UnifiedRequest, []unified.TransformWarning, error) {
	return &unified.UnifiedRequest{
		IncomingAPIType: string(t.apiType),
		OriginalBody:    append(json.RawMessage(nil), rawBody...),
	}, nil, nil
}

func (t *PassThroughTransformer) TransformRequest(req *unified.UnifiedRequest) ([]byte, error) {
	if len(req.OriginalBody) > 0 {
		return BuildPassThroughPayload(req.OriginalBody, req.Model, nil)
	}
	return json.Marshal(map[string]any{"model": req.Model})
}

func (t *PassThroughTransformer) TransformResponse(providerPayload []byte) (*unified.UnifiedResponse, error) {
	return &unified.UnifiedResponse{
		RawResponseSnapshot:  providerPayload,
		BypassTransformation: true,
	}, nil
}
