package transform

import (
	"strings"
	"sync"

	"github.com/plexusgw/plexus/internal/unified"
)

// StreamAccumulator collects incremental deltas as a streamed response is
// relayed to the client, so that once the upstream stream ends the
// dispatcher can recover a final UnifiedResponse snapshot for usage
// accounting and logging (spec §4.4's transformStream contract: "must
// reconstruct a final UnifiedResponse snapshot").
//
// It is safe for a single producer (the SSE relay goroutine) to call Append*
// repeatedly and a single consumer to call Snapshot once EOF is observed.
type StreamAccumulator struct {
	mu sync.Mutex

	id           string
	model        string
	textByIndex  map[int]*strings.Builder
	toolCalls    map[int]*accumulatingToolCall
	finishReason unified.FinishReason
	usage        unified.Usage
	firstByteSet bool
}

type accumulatingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// NewStreamAccumulator returns an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{
		textByIndex: make(map[int]*strings.Builder),
		toolCalls:   make(map[int]*accumulatingToolCall),
	}
}

// SetIdentity records the response id/model once seen (most dialects send
// these on the first chunk only).
func (a *StreamAccumulator) SetIdentity(id, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id != "" {
		a.id = id
	}
	if model != "" {
		a.model = model
	}
}

// AppendText appends a text delta for content-block index.
func (a *StreamAccumulator) AppendText(index int, delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.textByIndex[index]
	if !ok {
		b = &strings.Builder{}
		a.textByIndex[index] = b
	}
	b.WriteString(delta)
}

// StartToolCall registers a tool call beginning at content-block index.
func (a *StreamAccumulator) StartToolCall(index int, id, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.toolCalls[index] = &accumulatingToolCall{id: id, name: name}
}

// AppendToolArgs appends a partial-JSON delta to the tool call at index.
func (a *StreamAccumulator) AppendToolArgs(index int, delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tc, ok := a.toolCalls[index]
	if !ok {
		tc = &accumulatingToolCall{}
		a.toolCalls[index] = tc
	}
	tc.args.WriteString(delta)
}

// SetFinishReason records the terminal finish reason, canonicalized by the
// calling transformer before this is invoked.
func (a *StreamAccumulator) SetFinishReason(r unified.FinishReason) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finishReason = r
}

// SetUsage records the usage block, typically seen only on the terminal
// chunk.
func (a *StreamAccumulator) SetUsage(u unified.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = u
}

// MarkFirstByte is a no-op state flag the dispatcher can use to avoid timing
// the same stream twice; the actual client-first-byte-time measurement
// happens in the dispatcher, which owns the wall clock.
func (a *StreamAccumulator) MarkFirstByte() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.firstByteSet = true
}

// Snapshot renders the accumulated deltas into a final UnifiedResponse, for
// usage accounting once the stream completes. Call only after the upstream
// stream has been fully drained.
func (a *StreamAccumulator) Snapshot() *unified.UnifiedResponse {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp := &unified.UnifiedResponse{
		ID:           a.id,
		Model:        a.model,
		Usage:        a.usage,
		FinishReason: a.finishReason,
	}

	indices := make([]int, 0, len(a.textByIndex)+len(a.toolCalls))
	seen := make(map[int]bool)
	for idx := range a.textByIndex {
		if !seen[idx] {
			indices = append(indices, idx)
			seen[idx] = true
		}
	}
	for idx := range a.toolCalls {
		if !seen[idx] {
			indices = append(indices, idx)
			seen[idx] = true
		}
	}
	sortInts(indices)

	for _, idx := range indices {
		if b, ok := a.textByIndex[idx]; ok && b.Len() > 0 {
			resp.Parts = append(resp.Parts, unified.ContentPart{Kind: unified.PartText, Text: b.String()})
		}
		if tc, ok := a.toolCalls[idx]; ok {
			argsJSON, raw, _ := parseToolArgsJSON(tc.args.String())
			resp.Parts = append(resp.Parts, unified.ContentPart{
				Kind:         unified.PartToolCall,
				ToolCallID:   tc.id,
				ToolName:     tc.name,
				ToolArgsJSON: argsJSON,
				ToolArgsRaw:  raw,
			})
		}
	}
	return resp
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
