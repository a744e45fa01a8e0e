// Package config centralizes environment-derived configuration for the
// router service. A single Config value is built once at startup and
// injected into every component constructor — no package-level globals.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-tunable value the gateway needs. Every
// field has a documented default so the service degrades gracefully when
// deployed with a minimal environment.
type Config struct {
	// Backend endpoints.
	RouterURL  string // local-fast classifier backend base URL
	PrimaryURL string // local-reasoning backend base URL
	XAIURL     string // cloud backend base URL (answers + enrichment)

	// Model identifiers sent to each backend.
	RouterModel  string
	PrimaryModel string
	XAIModel     string

	// VirtualModel is the single model id advertised to callers.
	VirtualModel string

	// XAIAPIKey authenticates outbound calls to the cloud backend.
	XAIAPIKey string

	// XAISearchTools is the comma-separated tool list for enrichment
	// (empty string disables tools entirely).
	XAISearchTools string

	// XAIMinMaxTokens is the floor enforced on xai-route requests.
	XAIMinMaxTokens int

	// ClassifierContextBudget bounds the meta fast-path's embedded-history
	// truncation (characters).
	ClassifierContextBudget int

	// ClassifierMaxTokens bounds the classifier's own completion length.
	ClassifierMaxTokens int

	// Timezone used for all temporal-context computations.
	Location *time.Location

	// LogDir is the root directory for the rotating app log and the
	// sessions/ subdirectory.
	LogDir string

	// Session retention.
	SessionMaxAgeDays int
	SessionMaxCount   int

	// Prompt file paths, one per named template (see internal/config/prompts.go).
	RoutingSystemPromptPath     string
	RoutingRequestPromptPath    string
	RoutingTruncationNotePath   string
	PrimarySystemPromptPath     string
	XAISystemPromptPath         string
	EnrichmentSystemPromptPath  string
	EnrichmentInjectionPath     string
	MetaSystemPromptPath        string

	// Port is the HTTP listen port.
	Port string

	// OTLPEndpoint, when set, is the OTLP/gRPC collector the tracer
	// exports to. Empty disables export (spans are created and discarded
	// — see internal/tracing).
	OTLPEndpoint string
}

// Load builds a Config from the process environment, applying the same
// defaults as the original Python service (src/config.py).
func Load() Config {
	cfg := Config{
		RouterURL:    getenv("ROUTER_URL", "http://router:8001"),
		PrimaryURL:   getenv("PRIMARY_URL", "http://primary:8000"),
		XAIURL:       getenv("XAI_API_URL", "https://api.x.ai"),
		RouterModel:  getenv("ROUTER_MODEL", "cyankiwi/Nemotron-Orchestrator-8B-AWQ-4bit"),
		PrimaryModel: getenv("PRIMARY_MODEL", "unsloth/NVIDIA-Nemotron-3-Nano-30B-A3B-NVFP4"),
		XAIModel:     getenv("XAI_MODEL", "grok-4-1-fast-reasoning"),
		VirtualModel: getenv("VIRTUAL_MODEL", "ai-router"),
		XAIAPIKey:    readSecret("XAI_API_KEY", ""),

		XAISearchTools:          getenv("XAI_SEARCH_TOOLS", "web_search,x_search"),
		XAIMinMaxTokens:         getenvInt("XAI_MIN_MAX_TOKENS", 16384),
		ClassifierContextBudget: getenvInt("CLASSIFIER_CONTEXT_BUDGET", 112000),
		ClassifierMaxTokens:     getenvInt("CLASSIFIER_MAX_TOKENS", 1024),

		LogDir: getenv("LOG_DIR", "/var/log/ai-router"),

		SessionMaxAgeDays: getenvInt("LOG_MAX_AGE_DAYS", 7),
		SessionMaxCount:   getenvInt("LOG_MAX_COUNT", 5000),

		RoutingSystemPromptPath:    getenv("ROUTING_SYSTEM_PROMPT_PATH", "/app/config/prompts/routing/system.md"),
		RoutingRequestPromptPath:   getenv("ROUTING_PROMPT_PATH", "/app/config/prompts/routing/request.md"),
		RoutingTruncationNotePath:  getenv("ROUTING_TRUNCATION_NOTE_PATH", "/app/config/prompts/routing/truncation_note.md"),
		PrimarySystemPromptPath:    getenv("PRIMARY_SYSTEM_PROMPT_PATH", "/app/config/prompts/primary/system.md"),
		XAISystemPromptPath:        getenv("XAI_SYSTEM_PROMPT_PATH", "/app/config/prompts/xai/system.md"),
		EnrichmentSystemPromptPath: getenv("ENRICHMENT_SYSTEM_PROMPT_PATH", "/app/config/prompts/enrichment/system.md"),
		EnrichmentInjectionPath:    getenv("ENRICHMENT_INJECTION_PROMPT_PATH", "/app/config/prompts/enrichment/injection.md"),
		MetaSystemPromptPath:       getenv("META_SYSTEM_PROMPT_PATH", "/app/config/prompts/meta/system.md"),

		Port:         getenv("ROUTER_PORT", "8002"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	tzName := getenv("TZ", "America/Los_Angeles")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc = time.UTC
	}
	cfg.Location = loc

	return cfg
}

// SearchTools splits XAISearchTools into the configured tool names,
// dropping empty entries. An empty configured string yields no tools.
func (c Config) SearchTools() []string {
	if strings.TrimSpace(c.XAISearchTools) == "" {
		return nil
	}
	parts := strings.Split(c.XAISearchTools, ",")
	tools := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tools = append(tools, p)
		}
	}
	return tools
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// readSecret reads a value from a Docker/Kubernetes secret file mounted
// under /run/secrets/<name> (lowercased), falling back to the environment
// variable of the same name. Secrets stay out of `docker inspect` output
// this way; the env fallback keeps local dev working without a secrets
// volume.
func readSecret(name, fallback string) string {
	path := "/run/secrets/" + strings.ToLower(name)
	if b, err := os.ReadFile(path); err == nil {
		if v := strings.TrimSpace(string(b)); v != "" {
			return v
		}
	}
	return getenv(name, fallback)
}
