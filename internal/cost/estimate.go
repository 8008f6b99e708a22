package cost

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens for providers/dialects that omit a usage block in
// their response, so the usage logger can still populate InputTokens/
// OutputTokens for cost calculation (SPEC_FULL §3/§6 supplement: "token
// estimation fallback when a provider omits usage").
type Estimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the cl100k_base encoding, the closest general-purpose
// approximation across the gateway's supported dialects; provider-exact
// tokenizers are out of scope, this exists only to produce a usable cost
// estimate, not a billing-accurate count.
func NewEstimator() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Estimator{enc: enc}, nil
}

// Count returns the estimated token count of text. Safe for concurrent use.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enc.Encode(text, nil, nil))
}

// EstimateUsage fills in Usage fields that are zero, given the rendered
// prompt text and completion text. Fields the caller already populated from
// a real provider usage block are left untouched.
func (e *Estimator) EstimateUsage(u Usage, promptText, completionText string) Usage {
	if u.InputTokens == 0 && promptText != "" {
		u.InputTokens = e.Count(promptText)
	}
	if u.OutputTokens == 0 && completionText != "" {
		u.OutputTokens = e.Count(completionText)
	}
	return u
}
