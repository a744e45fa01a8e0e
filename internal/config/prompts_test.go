package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestLoadPromptsFallsBackWhenFileMissing(t *testing.T) {
	cfg := Config{
		RoutingSystemPromptPath: "/nonexistent/path/system.md",
	}
	prompts := LoadPrompts(cfg, discardLogger())
	assert.Contains(t, prompts.RoutingSystem, "ONE WORD")
}

func TestLoadPromptsReadsFileWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primary_system.md")
	require.NoError(t, os.WriteFile(path, []byte("custom primary prompt"), 0o644))

	cfg := Config{PrimarySystemPromptPath: path}
	prompts := LoadPrompts(cfg, discardLogger())
	assert.Equal(t, "custom primary prompt", prompts.PrimarySystem)
}

func TestFormatRoutingRequestSubstitutesPlaceholders(t *testing.T) {
	p := Prompts{RoutingRequest: "Query: {query}\n{truncation_note}"}
	got := p.FormatRoutingRequest("hello", "truncated")
	assert.Equal(t, "Query: hello\ntruncated", got)
}

func TestFormatEnrichmentInjectionSubstitutesPlaceholders(t *testing.T) {
	p := Prompts{EnrichmentInjected: "ctx: {context} on {date}"}
	got := p.FormatEnrichmentInjection("sunny", "Monday")
	assert.Equal(t, "ctx: sunny on Monday", got)
}
