// Package chatapi defines the OpenAI-compatible wire types shared by the
// HTTP surface, the dispatch engine, and the backend client.
package chatapi

import "encoding/json"

// Message is one turn of a conversation. Role is one of system, user,
// assistant, or tool. Order is significant and preserved verbatim through
// the pipeline except where the dispatch engine injects or mutates a
// system message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Route is a tagged value identifying which backend handles a request.
// It is a closed set — anything else is a bug, not a valid route.
type Route string

const (
	RoutePrimary Route = "primary"
	RouteXAI     Route = "xai"
	RouteEnrich  Route = "enrich"
	RouteMeta    Route = "meta"
)

// ChatRequest is the client's submitted chat-completions payload. The
// `model` field is intentionally not represented here: it is always
// overwritten per backend and never forwarded from the client.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`

	// route is attached for observability only; it is stripped before any
	// request is marshaled for an outbound call.
	route Route
}

// SetRoute attaches the internal route tag for observability.
func (r *ChatRequest) SetRoute(route Route) { r.route = route }

// Route returns the attached route tag, if any.
func (r *ChatRequest) Route() Route { return r.route }

// Clone returns a deep copy of the request, including its message slice,
// so a caller can mutate the copy (e.g. injecting a system prompt) without
// the original observing the change. This is the mechanism behind the
// dispatch engine's "speculative branch mutates a deep copy" discipline.
func (r *ChatRequest) Clone() *ChatRequest {
	out := &ChatRequest{
		Stream: r.Stream,
		route:  r.route,
	}
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	if r.Temperature != nil {
		v := *r.Temperature
		out.Temperature = &v
	}
	if r.TopP != nil {
		v := *r.TopP
		out.TopP = &v
	}
	if r.MaxTokens != nil {
		v := *r.MaxTokens
		out.MaxTokens = &v
	}
	return out
}

// MarshalOutbound serializes the request for an outbound backend call
// with the given model id substituted, omitting the internal route tag
// and any fields the caller has already stripped (e.g. max_tokens set to
// nil).
func (r *ChatRequest) MarshalOutbound(model string) ([]byte, error) {
	payload := map[string]any{
		"model":    model,
		"messages": r.Messages,
		"stream":   r.Stream,
	}
	if r.Temperature != nil {
		payload["temperature"] = *r.Temperature
	}
	if r.TopP != nil {
		payload["top_p"] = *r.TopP
	}
	if r.MaxTokens != nil {
		payload["max_tokens"] = *r.MaxTokens
	}
	return json.Marshal(payload)
}

// FirstSystemIndex returns the index of the first system-role message, or
// -1 if there is none.
func (r *ChatRequest) FirstSystemIndex() int {
	for i, m := range r.Messages {
		if m.Role == "system" {
			return i
		}
	}
	return -1
}

// LastUserContent returns the content of the last user-role message, or
// empty string if there is none.
func (r *ChatRequest) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}
