package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nominalgeek/ai-router/internal/backend"
	"github.com/nominalgeek/ai-router/internal/chatapi"
	"github.com/nominalgeek/ai-router/internal/config"
	"github.com/nominalgeek/ai-router/internal/temporal"
)

// Result is the outcome of a Classify call: the resolved route, the raw
// decision text recorded for the session trace, and the time it took.
type Result struct {
	Route      chatapi.Route
	RawText    string
	DurationMs int64
}

// Classifier calls the local-fast backend with a classification prompt
// and parses its answer into a Route. On any failure (non-2xx, timeout,
// transport error) it defaults to RoutePrimary and records a diagnostic
// marker as the raw decision, matching determine_route's failure policy:
// classification is a hint, never a hard dependency.
type Classifier struct {
	client  *backend.Client
	cfg     config.Config
	prompts config.Prompts
}

// New builds a Classifier against cfg's router backend.
func New(client *backend.Client, cfg config.Config, prompts config.Prompts) *Classifier {
	return &Classifier{client: client, cfg: cfg, prompts: prompts}
}

// Classify builds the routing prompt from the request's last user
// message plus a context prefix of prior turns, and asks the local-fast
// model to classify it. dateCtx is prepended to the routing system
// prompt so the classifier reasons with the same notion of "now" as
// every other backend call.
func (c *Classifier) Classify(ctx context.Context, req *chatapi.ChatRequest, dateCtx string) Result {
	start := time.Now()

	query := req.LastUserContent()
	truncationNote := ""
	if len(query) > c.cfg.ClassifierContextBudget {
		query = TruncateMetaContent(query, c.cfg.ClassifierContextBudget)
		truncationNote = c.prompts.RoutingTruncation
	}

	userPrompt := BuildContextPrefix(req.Messages) + c.prompts.FormatRoutingRequest(query, truncationNote)

	classifyReq := &chatapi.ChatRequest{
		Messages: []chatapi.Message{
			{Role: "system", Content: temporal.Prepend(dateCtx, c.prompts.RoutingSystem)},
			{Role: "user", Content: userPrompt},
		},
	}
	temp := 0.0
	maxTok := c.cfg.ClassifierMaxTokens
	classifyReq.Temperature = &temp
	classifyReq.MaxTokens = &maxTok

	callCtx, cancel := context.WithTimeout(ctx, backend.ClassifierTimeout)
	defer cancel()

	resp, err := c.client.Dispatch(callCtx, c.cfg.RouterURL, "/v1/chat/completions", c.cfg.RouterModel, classifyReq, "")
	if err != nil {
		return c.failure(start, err)
	}
	defer resp.Close()

	if resp.HTTP.StatusCode < 200 || resp.HTTP.StatusCode >= 300 {
		return c.failure(start, fmt.Errorf("status %d", resp.HTTP.StatusCode))
	}

	body, err := io.ReadAll(resp.HTTP.Body)
	if err != nil {
		return c.failure(start, err)
	}

	raw := extractContent(body)
	route, stripped := ParseDecision(raw)
	return Result{
		Route:      route,
		RawText:    stripped,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func (c *Classifier) failure(start time.Time, err error) Result {
	marker := fmt.Sprintf("[error: %v]", err)
	if strings.Contains(err.Error(), "timeout") {
		marker = "[timeout]"
	}
	return Result{
		Route:      chatapi.RoutePrimary,
		RawText:    marker,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// extractContent pulls choices[0].message.content, falling back to
// reasoning_content when content is empty — some local reasoning models
// emit their answer in the latter field.
func extractContent(body []byte) string {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return ""
	}
	if c := parsed.Choices[0].Message.Content; c != "" {
		return c
	}
	return parsed.Choices[0].Message.ReasoningContent
}
