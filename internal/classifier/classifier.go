// Package classifier defines the Classifier contract spec §6 names for the
// "auto" model alias, and ships HeuristicClassifier, a trivial deterministic
// default used when no external classifier is wired. Per spec §1, the
// complexity-classifier itself is an external collaborator whose quality is
// out of scope here — only the interface and a bounded-latency default
// implementation belong to this repo.
package classifier

import "github.com/plexusgw/plexus/internal/unified"

// Tier is spec §6's closed classification tier set.
type Tier string

const (
	TierHeartbeat Tier = "HEARTBEAT"
	TierSimple    Tier = "SIMPLE"
	TierMedium    Tier = "MEDIUM"
	TierComplex   Tier = "COMPLEX"
	TierReasoning Tier = "REASONING"
)

// tierOrder is the promotion ladder the agentic boost climbs one rung on.
var tierOrder = []Tier{TierHeartbeat, TierSimple, TierMedium, TierComplex, TierReasoning}

// Promote returns the next tier up the ladder, or t unchanged if already at
// the top (spec §4.3: "promote one tier if agenticScore > threshold").
func (t Tier) Promote() Tier {
	for i, cur := range tierOrder {
		if cur == t && i+1 < len(tierOrder) {
			return tierOrder[i+1]
		}
	}
	return t
}

// Input is what the classifier contract (spec §6) receives: "given
// {messages, tools?, response_format?}".
type Input struct {
	Messages       []unified.Message
	Tools          []unified.ToolDefinition
	ResponseFormat *unified.ResponseFormat
}

// Result is spec §6's classifier output: "{tier, score, confidence,
// agenticScore, hasStructuredOutput, signals, reasoning}".
type Result struct {
	Tier                Tier
	Score               float64
	Confidence          float64
	AgenticScore        float64
	HasStructuredOutput bool
	Signals             []string
	Reasoning           string
}

// Classifier is spec §6's synchronous, I/O-free, bounded-microsecond-latency
// scorer. Implementations must not perform network or disk I/O.
type Classifier interface {
	Classify(in Input) Result
}
