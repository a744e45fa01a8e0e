// Package enrich implements the cloud retrieval hop of the two-hop
// enrichment pipeline: a short-lived call to the cloud model's responses
// endpoint with web-search tooling enabled, producing a context string
// to inject into the primary model's system message.
package enrich

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/nominalgeek/ai-router/internal/backend"
	"github.com/nominalgeek/ai-router/internal/chatapi"
	"github.com/nominalgeek/ai-router/internal/config"
	"github.com/nominalgeek/ai-router/internal/temporal"
)

// Enricher calls the cloud backend's /v1/responses endpoint with the
// conversation's user/assistant turns and search tools enabled, and
// extracts a plain-text retrieval context.
type Enricher struct {
	client  *backend.Client
	cfg     config.Config
	prompts config.Prompts
}

// New builds an Enricher against cfg's cloud backend.
func New(client *backend.Client, cfg config.Config, prompts config.Prompts) *Enricher {
	return &Enricher{client: client, cfg: cfg, prompts: prompts}
}

// Fetch asks the cloud model to retrieve current real-world context
// relevant to the conversation. Only user/assistant turns are forwarded
// (system and tool messages are dropped — the enrichment call gets its
// own system prompt). Returns "" on any failure: enrichment is a
// best-effort enhancement, never a hard dependency of the primary
// answer.
func (e *Enricher) Fetch(ctx context.Context, messages []chatapi.Message, dateCtx string) string {
	input := e.buildInput(messages, dateCtx)

	payload := map[string]any{
		"model":             e.cfg.XAIModel,
		"input":             input,
		"max_output_tokens": 1024,
		"temperature":       0,
	}
	if tools := e.toolDefs(); len(tools) > 0 {
		payload["tools"] = tools
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ""
	}

	callCtx, cancel := context.WithTimeout(ctx, backend.EnrichmentTimeout)
	defer cancel()

	resp, err := e.client.DispatchRaw(callCtx, e.cfg.XAIURL, "/v1/responses", body, e.cfg.XAIAPIKey)
	if err != nil {
		return ""
	}
	defer resp.Close()

	if resp.HTTP.StatusCode < 200 || resp.HTTP.StatusCode >= 300 {
		return ""
	}

	respBody, err := io.ReadAll(resp.HTTP.Body)
	if err != nil {
		return ""
	}

	text := extractOutputText(respBody)
	return strings.TrimSpace(text)
}

// buildInput renders the enrichment-system prompt plus every
// user/assistant turn as role/content input items, matching the
// responses-API input array shape.
func (e *Enricher) buildInput(messages []chatapi.Message, dateCtx string) []map[string]string {
	input := make([]map[string]string, 0, len(messages)+1)
	input = append(input, map[string]string{
		"role":    "system",
		"content": temporal.Prepend(dateCtx, e.prompts.EnrichmentSystem),
	})
	for _, m := range messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		input = append(input, map[string]string{"role": m.Role, "content": m.Content})
	}
	return input
}

func (e *Enricher) toolDefs() []map[string]string {
	names := e.cfg.SearchTools()
	tools := make([]map[string]string, 0, len(names))
	for _, n := range names {
		tools = append(tools, map[string]string{"type": n})
	}
	return tools
}

// extractOutputText walks the responses-API output array, concatenating
// every output_text content block of every message-typed output item.
func extractOutputText(body []byte) string {
	var parsed struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	var b strings.Builder
	for _, item := range parsed.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				b.WriteString(c.Text)
			}
		}
	}
	return b.String()
}

// Injection renders the enrichment-injection template with the fetched
// context and the current temporal context for insertion into the
// primary request.
func (e *Enricher) Injection(contextText, dateCtx string) string {
	if contextText == "" {
		return ""
	}
	return e.prompts.FormatEnrichmentInjection(contextText, dateCtx)
}
