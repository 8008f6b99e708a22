package unified

import (
	"encoding/json"
	"fmt"
)

// ClientError is spec §7's "client errors (4xx to caller)": authentication,
// invalid request, unknown model, disabled targets, body too large.
type ClientError struct {
	Kind    string // "authentication_error" | "invalid_request_error"
	Message string
	Param   string
}

func (e *ClientError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param=%s)", e.Kind, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AttemptRecord is one entry of an ExhaustionError's routingContext, per
// spec §4.6 step 5 and §7's "Exhaustion" taxonomy entry.
type AttemptRecord struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	TargetAPIType string `json:"target_api_type"`
	URL          string `json:"url"`
	StatusCode   int    `json:"status_code,omitempty"`
	ProviderBody string `json:"provider_response,omitempty"`
	Err          string `json:"error,omitempty"`
}

// UpstreamError is an upstream failure (spec §7's upstream entries).
// Retryable reports whether the dispatcher moves on to the next candidate;
// a non-retryable one is propagated as 4xx/5xx with a dialect-specific
// envelope and no failover. Cooldown marking is decided by status code,
// separately from Retryable.
type UpstreamError struct {
	Status    int
	Body      string
	Retryable bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// ExhaustionError is spec §7's "Exhaustion": all candidates failed.
type ExhaustionError struct {
	Attempts []AttemptRecord
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("all %d candidate(s) failed", len(e.Attempts))
}

// InternalError is spec §7's "Internal": config missing, transformer
// missing, no api-type could be chosen — 5xx, no retry.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string { return "internal error: " + e.Reason }

// --- Router errors named in spec §4.3 ---

// RouterError enumerates the named router failure modes.
type RouterError struct {
	Kind  string // AliasNotFound | AllDisabled | AllOnCooldown | NoCompatibleTarget
	Alias string
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Alias)
}

const (
	ErrAliasNotFound     = "AliasNotFound"
	ErrAllDisabled       = "AllDisabled"
	ErrAllOnCooldown     = "AllOnCooldown"
	ErrNoCompatibleTarget = "NoCompatibleTarget"
)

// --- Dialect envelope rendering (spec §7: "always in the client's dialect") ---

type openAIErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Param   string `json:"param,omitempty"`
	} `json:"error"`
}

type anthropicErrorEnvelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type geminiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// DialectEnvelope renders err as the JSON error body appropriate to
// apiType, per spec §6 ("OpenAI {error:{message,type,code,param}} vs.
// Anthropic {type:"error", error:{type,message}}") and §9's rule that
// selection must consult the ingress dialect.
func DialectEnvelope(apiType string, status int, err error) []byte {
	msg, kind := messageAndKind(err)
	switch apiType {
	case "messages":
		env := anthropicErrorEnvelope{Type: "error"}
		env.Error.Type = kind
		env.Error.Message = msg
		b, _ := json.Marshal(env)
		return b
	case "gemini":
		env := geminiErrorEnvelope{}
		env.Error.Code = status
		env.Error.Message = msg
		env.Error.Status = kind
		b, _ := json.Marshal(env)
		return b
	default: // chat, responses, embeddings, images, speech, transcriptions
		env := openAIErrorEnvelope{}
		env.Error.Message = msg
		env.Error.Type = kind
		b, _ := json.Marshal(env)
		return b
	}
}

func messageAndKind(err error) (message, kind string) {
	switch e := err.(type) {
	case *ClientError:
		return e.Message, e.Kind
	case *UpstreamError:
		return e.Body, "upstream_error"
	case *ExhaustionError:
		return e.Error(), "exhaustion_error"
	case *InternalError:
		return e.Reason, "internal_error"
	case *RouterError:
		return e.Error(), "invalid_request_error"
	default:
		return err.Error(), "internal_error"
	}
}
