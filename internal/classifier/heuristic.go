package classifier

// HeuristicClassifier is SPEC_FULL's trivial built-in default: it scores
// purely on message count, total character length, and presence of
// tools/response_format, with no learned weights and no I/O — adequate for
// tests and standalone operation, not a production quality bar (spec §9).
type HeuristicClassifier struct {
	// Thresholds are exported so a caller can tune them without forking the
	// type; zero-value HeuristicClassifier uses DefaultThresholds.
	Thresholds Thresholds
}

// Thresholds configures where HeuristicClassifier's char-length buckets fall.
type Thresholds struct {
	SimpleMaxChars  int
	MediumMaxChars  int
	ComplexMaxChars int
}

// DefaultThresholds are the buckets used when Thresholds is the zero value.
var DefaultThresholds = Thresholds{
	SimpleMaxChars:  200,
	MediumMaxChars:  2000,
	ComplexMaxChars: 8000,
}

// NewHeuristicClassifier builds a HeuristicClassifier with DefaultThresholds.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{Thresholds: DefaultThresholds}
}

func (h *HeuristicClassifier) thresholds() Thresholds {
	if h.Thresholds == (Thresholds{}) {
		return DefaultThresholds
	}
	return h.Thresholds
}

// Classify implements Classifier.
func (h *HeuristicClassifier) Classify(in Input) Result {
	t := h.thresholds()

	totalChars := 0
	for _, m := range in.Messages {
		totalChars += len(m.Text())
	}

	var signals []string

	tier := TierHeartbeat
	switch {
	case len(in.Messages) == 0 || totalChars == 0:
		tier = TierHeartbeat
		signals = append(signals, "empty_or_no_text")
	case totalChars <= t.SimpleMaxChars:
		tier = TierSimple
	case totalChars <= t.MediumMaxChars:
		tier = TierMedium
	case totalChars <= t.ComplexMaxChars:
		tier = TierComplex
	default:
		tier = TierReasoning
		signals = append(signals, "long_context")
	}

	hasStructured := in.ResponseFormat != nil && in.ResponseFormat.Type != "" && in.ResponseFormat.Type != "text"
	if hasStructured {
		signals = append(signals, "structured_output")
	}

	agenticScore := 0.0
	if len(in.Tools) > 0 {
		agenticScore = 0.5 + 0.1*float64(min(len(in.Tools), 5))
		signals = append(signals, "tools_present")
		if tier == TierHeartbeat || tier == TierSimple {
			tier = TierMedium
		}
	}

	return Result{
		Tier:                tier,
		Score:               float64(totalChars),
		Confidence:          0.5,
		AgenticScore:        agenticScore,
		HasStructuredOutput: hasStructured,
		Signals:             signals,
		Reasoning:           "heuristic: message-count/char-length/tool-presence buckets, no learned weights",
	}
}
