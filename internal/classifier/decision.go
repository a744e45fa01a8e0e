// Package classifier parses the local-fast model's free-text output into
// a closed Route, and detects the meta fast path that bypasses
// classification entirely for client-generated embedded-history prompts.
package classifier

import (
	"strings"

	"github.com/nominalgeek/ai-router/internal/chatapi"
)

// ParseDecision strips <think>...</think> reasoning (including an
// unclosed trailing <think> the model ran out of budget inside),
// uppercases, and maps the remaining text to a Route by substring in
// priority order. Think-block content never influences the outcome even
// if it contains route keywords — this is the one place classifier
// free text becomes a typed decision, and it is exhaustively tested on
// recorded outputs.
func ParseDecision(raw string) (chatapi.Route, string) {
	stripped := stripThink(raw)
	upper := strings.ToUpper(stripped)

	switch {
	case strings.Contains(upper, "ENRICH"):
		return chatapi.RouteEnrich, stripped
	case strings.Contains(upper, "MODERATE"):
		return chatapi.RoutePrimary, stripped
	case strings.Contains(upper, "COMPLEX"):
		return chatapi.RouteXAI, stripped
	default:
		return chatapi.RoutePrimary, stripped
	}
}

// stripThink removes every closed <think>...</think> span, then removes
// an unclosed trailing <think> onward if one remains.
func stripThink(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end < 0 {
			// Unclosed: drop from <think> to the end of the string.
			return strings.TrimSpace(s[:start])
		}
		end += start + len("</think>")
		s = s[:start] + s[end:]
	}
	return strings.TrimSpace(s)
}
