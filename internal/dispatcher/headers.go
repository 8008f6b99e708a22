package dispatcher

import (
	"net/http"
	"strings"

	"github.com/plexusgw/plexus/internal/transform"
)

// anthropicVersion is the header value spec §4.6 requires on every egress
// call to the Anthropic messages dialect.
const anthropicVersion = "2023-06-01"

// buildHeaders implements spec §4.6 step 4's merge order: built-in headers,
// then the api-type's auth header, then the provider's configured headers,
// then request-scoped metadata (SPEC_FULL [EXPANSION 4.6a]) — each tier
// overwriting a same-named key from the tier before it.
func buildHeaders(targetAPIType transform.APIType, apiKey string, stream bool, providerHeaders map[string]string, metadata map[string]string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if stream {
		h.Set("Accept", "text/event-stream")
	}

	switch targetAPIType {
	case transform.APIMessages:
		h.Set("x-api-key", apiKey)
		h.Set("anthropic-version", anthropicVersion)
	case transform.APIGemini:
		h.Set("x-goog-api-key", apiKey)
	default:
		h.Set("Authorization", "Bearer "+apiKey)
	}

	for k, v := range providerHeaders {
		h.Set(k, v)
	}
	for k, v := range metadata {
		h.Set(k, v)
	}
	return h
}

func applyHeaders(req *http.Request, h http.Header) {
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
}

// sensitiveHeaders is the set spec §4.6 names for log masking.
var sensitiveHeaders = map[string]bool{
	"x-api-key":      true,
	"authorization":  true,
	"x-goog-api-key": true,
}

// sanitizeHeaders renders h into a plain map with sensitive values masked to
// "<first4>...<last4>" (Bearer prefix preserved), for attaching to a
// routingContext on failure without leaking credentials into logs.
func sanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		v := h.Get(k)
		if sensitiveHeaders[strings.ToLower(k)] {
			v = maskSecret(v)
		}
		out[k] = v
	}
	return out
}

func maskSecret(v string) string {
	const bearer = "Bearer "
	if strings.HasPrefix(v, bearer) {
		return bearer + maskTail(strings.TrimPrefix(v, bearer))
	}
	return maskTail(v)
}

func maskTail(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}
