package unified

import "time"

// RequestContext is spec §3's per-request state: created at ingress, owned
// exclusively by the handling goroutine, mutated by router/dispatcher,
// consumed by the usage logger, then discarded.
type RequestContext struct {
	ID       string
	StartTime time.Time
	ClientIP string
	APIKeyName string

	ClientAPIType string // dialect the request arrived in
	AliasUsed     string

	ActualProvider string
	ActualModel    string
	TargetAPIType  string

	Passthrough bool
	Streaming   bool

	// ProviderFirstTokenTime is when the first byte arrived from upstream;
	// ClientFirstTokenTime is when the dispatcher forwarded the first byte
	// to the client. Both zero-value until set.
	ProviderFirstTokenTime time.Time
	ClientFirstTokenTime   time.Time
}

// NewRequestContext starts a RequestContext at ingress time.
func NewRequestContext(id, clientIP, apiKeyName, clientAPIType string) *RequestContext {
	return &RequestContext{
		ID:            id,
		StartTime:     time.Now(),
		ClientIP:      clientIP,
		APIKeyName:    apiKeyName,
		ClientAPIType: clientAPIType,
	}
}

// ProviderTTFT returns provider time-to-first-token, or 0 if not yet recorded.
func (c *RequestContext) ProviderTTFT() time.Duration {
	if c.ProviderFirstTokenTime.IsZero() {
		return 0
	}
	return c.ProviderFirstTokenTime.Sub(c.StartTime)
}

// ClientTTFT returns client-observed time-to-first-token, or 0 if not yet recorded.
func (c *RequestContext) ClientTTFT() time.Duration {
	if c.ClientFirstTokenTime.IsZero() {
		return 0
	}
	return c.ClientFirstTokenTime.Sub(c.StartTime)
}

// TransformationOverhead is spec §4.8's clientTtftMs - providerTtftMs, valid
// only once both timestamps are present.
func (c *RequestContext) TransformationOverhead() (time.Duration, bool) {
	if c.ProviderFirstTokenTime.IsZero() || c.ClientFirstTokenTime.IsZero() {
		return 0, false
	}
	return c.ClientFirstTokenTime.Sub(c.ProviderFirstTokenTime), true
}
