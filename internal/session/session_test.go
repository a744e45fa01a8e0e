package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetQueryTruncatesUserQuery(t *testing.T) {
	s := New()
	longContent := strings.Repeat("a", 1000)
	messages := []map[string]string{
		{"role": "user", "content": longContent},
	}
	s.SetQuery(messages)

	assert.Len(t, s.UserQuery, maxUserQueryChars)
	assert.NotEmpty(t, s.ClientMessages)
}

func TestSetQueryPicksLastUserMessage(t *testing.T) {
	s := New()
	messages := []map[string]string{
		{"role": "user", "content": "first"},
		{"role": "assistant", "content": "reply"},
		{"role": "user", "content": "second"},
	}
	s.SetQuery(messages)
	assert.Equal(t, "second", s.UserQuery)
}

func TestBeginEndStepRecordsDuration(t *testing.T) {
	s := New()
	step := s.BeginStep("provider_call", "primary", "http://primary", "model-x", nil)
	step.EndStep(200, "a response", "stop", nil)

	require.Len(t, s.Steps, 1)
	assert.Equal(t, "provider_call", s.Steps[0].Step)
	assert.NotNil(t, s.Steps[0].DurationMs)
	assert.GreaterOrEqual(t, *s.Steps[0].DurationMs, int64(0))
	assert.Equal(t, 200, *s.Steps[0].Status)
	assert.Equal(t, "a response", s.Steps[0].ResponseContent)
}

func TestEndStepTruncatesLongResponse(t *testing.T) {
	s := New()
	step := s.BeginStep("provider_call", "xai", "http://xai", "m", nil)
	step.EndStep(200, strings.Repeat("x", 5000), "stop", nil)

	assert.Len(t, s.Steps[0].ResponseContent, maxStepContent)
}

func TestEndStepRecordsErrorMarker(t *testing.T) {
	s := New()
	step := s.BeginStep("provider_call", "primary", "http://primary", "m", nil)
	step.EndStep(0, "", "", assertError("boom"))

	assert.Equal(t, "[error: boom]", s.Steps[0].ResponseContent)
	assert.Equal(t, "boom", s.Steps[0].Error)
}

func TestStoreSaveWritesFileAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store, err := NewStore(dir, 7, 2, logger)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s := New()
		s.SetQuery([]map[string]string{{"role": "user", "content": "hi"}})
		require.NoError(t, store.Save(s))
	}
	store.cleanup()

	entries, err := os.ReadDir(filepath.Join(dir, "sessions"))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 2)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertError(msg string) error { return simpleErr(msg) }
