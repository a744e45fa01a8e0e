package config

import (
	"log/slog"
	"os"
	"strings"
)

// Prompts holds the eight prompt templates (one file each — routing
// splits into system/request/truncation-note) loaded at startup. Each
// field falls back to a hardcoded default when its file cannot be read,
// so the service stays up when the prompts/ volume isn't mounted.
type Prompts struct {
	RoutingSystem      string
	RoutingRequest     string
	RoutingTruncation  string
	PrimarySystem      string
	XAISystem          string
	EnrichmentSystem   string
	EnrichmentInjected string
	MetaSystem         string
}

// LoadPrompts reads every prompt template named in cfg, logging an error
// and substituting the built-in fallback for any file that can't be read.
func LoadPrompts(cfg Config, logger *slog.Logger) Prompts {
	return Prompts{
		RoutingSystem: loadPromptFile(cfg.RoutingSystemPromptPath,
			"You are a query classifier. Respond with ONLY ONE WORD: SIMPLE, MODERATE, or COMPLEX.",
			"routing system prompt", logger),

		RoutingRequest: loadPromptFile(cfg.RoutingRequestPromptPath,
			"Classify this query as SIMPLE, MODERATE, COMPLEX, or ENRICH.\n"+
				"User query: \"{query}\"\n"+
				"{truncation_note}\n"+
				"Respond with ONLY ONE WORD: SIMPLE, MODERATE, COMPLEX, or ENRICH",
			"routing prompt", logger),

		RoutingTruncation: loadPromptFile(cfg.RoutingTruncationNotePath,
			"Note: The above query was truncated. Classify based on what you can see.",
			"routing truncation note", logger),

		PrimarySystem: loadPromptFile(cfg.PrimarySystemPromptPath,
			"Use this as background context only — do not repeat or display it in your response.",
			"primary system prompt", logger),

		XAISystem: loadPromptFile(cfg.XAISystemPromptPath,
			"Be direct and concise. Lead with the answer, then provide supporting detail only if it adds clear value.",
			"xai system prompt", logger),

		EnrichmentSystem: loadPromptFile(cfg.EnrichmentSystemPromptPath,
			"You are a real-time information retrieval assistant. Provide concise, factual, current information relevant to the user's query. Do not answer the question directly — your output will be used as context for another model.",
			"enrichment system prompt", logger),

		EnrichmentInjected: loadPromptFile(cfg.EnrichmentInjectionPath,
			"The following is supplementary real-time context retrieved from an external source:\n\n---\n{context}\n---",
			"enrichment injection prompt", logger),

		MetaSystem: loadPromptFile(cfg.MetaSystemPromptPath,
			"You are processing a structured task about a prior conversation. Follow the task instructions exactly. Be concise.",
			"meta system prompt", logger),
	}
}

// loadPromptFile reads a prompt template from disk, logging an error and
// returning fallback when the file is missing. The fallback keeps the
// router functional without the prompts volume mounted; the log line
// makes prompt drift (fallback silently in use) detectable in production.
func loadPromptFile(path, fallback, label string, logger *slog.Logger) string {
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Error("prompt file not found, using fallback", "label", label, "path", path)
		return fallback
	}
	return strings.TrimSpace(string(b))
}

// FormatRoutingRequest fills the routing-request template's {query} and
// {truncation_note} placeholders.
func (p Prompts) FormatRoutingRequest(query, truncationNote string) string {
	s := strings.ReplaceAll(p.RoutingRequest, "{query}", query)
	s = strings.ReplaceAll(s, "{truncation_note}", truncationNote)
	return s
}

// FormatEnrichmentInjection fills the enrichment-injection template's
// {context} and {date} placeholders.
func (p Prompts) FormatEnrichmentInjection(context, date string) string {
	s := strings.ReplaceAll(p.EnrichmentInjected, "{context}", context)
	s = strings.ReplaceAll(s, "{date}", date)
	return s
}
