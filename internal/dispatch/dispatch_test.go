package dispatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nominalgeek/ai-router/internal/backend"
	"github.com/nominalgeek/ai-router/internal/chatapi"
	"github.com/nominalgeek/ai-router/internal/classifier"
	"github.com/nominalgeek/ai-router/internal/config"
	"github.com/nominalgeek/ai-router/internal/enrich"
	"github.com/nominalgeek/ai-router/internal/session"
)

func newTestEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	cfg.Location = time.UTC
	if cfg.ClassifierContextBudget == 0 {
		cfg.ClassifierContextBudget = 112000
	}
	if cfg.ClassifierMaxTokens == 0 {
		cfg.ClassifierMaxTokens = 1024
	}
	prompts := config.Prompts{
		RoutingRequest:     "{query}{truncation_note}",
		PrimarySystem:      "primary system",
		XAISystem:          "xai system",
		MetaSystem:         "meta system",
		EnrichmentInjected: "ctx: {context} date: {date}",
		EnrichmentSystem:   "enrichment system",
	}
	client := backend.New()
	cl := classifier.New(client, cfg, prompts)
	en := enrich.New(client, cfg, prompts)
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	store, err := session.NewStore(t.TempDir(), 7, 100, logger)
	require.NoError(t, err)
	return New(client, cl, en, cfg, prompts, store, session.NewLogger(logger))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func jsonOK(w http.ResponseWriter, body string) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func TestHandleAdoptsSpeculativeOnModerate(t *testing.T) {
	var primaryCalls int32
	var primaryBody string
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryCalls, 1)
		body, _ := io.ReadAll(r.Body)
		primaryBody = string(body)
		jsonOK(w, `{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`)
	}))
	defer primary.Close()

	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, `{"choices":[{"message":{"content":"MODERATE"}}]}`)
	}))
	defer router.Close()

	cfg := config.Config{PrimaryURL: primary.URL, PrimaryModel: "p", RouterURL: router.URL, RouterModel: "r"}
	engine := newTestEngine(t, cfg)

	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: "hi"}}}
	outcome, err := engine.Handle(context.Background(), req)

	require.NoError(t, err)
	assert.False(t, outcome.Stream)
	assert.Contains(t, string(outcome.Body), "hello")
	assert.Equal(t, int32(1), atomic.LoadInt32(&primaryCalls))
	assert.Contains(t, primaryBody, "Today is")
	assert.Contains(t, primaryBody, "primary system")
}

func TestHandleAdoptedSpeculativeStreamStepIsClosed(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
	}))
	defer primary.Close()

	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, `{"choices":[{"message":{"content":"MODERATE"}}]}`)
	}))
	defer router.Close()

	cfg := config.Config{PrimaryURL: primary.URL, PrimaryModel: "p", RouterURL: router.URL, RouterModel: "r"}
	engine := newTestEngine(t, cfg)

	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: "hi"}}, Stream: true}
	sess := session.New()
	outcome, err := engine.route(context.Background(), req, sess)
	require.NoError(t, err)
	require.True(t, outcome.Stream)
	outcome.StreamResp.Close()

	require.Len(t, sess.Steps, 2)
	step := sess.Steps[1]
	assert.Equal(t, "provider_call", step.Step)
	require.NotNil(t, step.DurationMs)
	require.NotNil(t, step.Status)
	assert.Equal(t, "[streamed]", step.ResponseContent)
}

func TestHandleRoutesComplexToXAI(t *testing.T) {
	var primaryCalls int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryCalls, 1)
		time.Sleep(20 * time.Millisecond)
		jsonOK(w, `{"choices":[{"message":{"content":"should not be used"}}]}`)
	}))
	defer primary.Close()

	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, `{"choices":[{"message":{"content":"COMPLEX"}}]}`)
	}))
	defer router.Close()

	xai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, `{"choices":[{"message":{"content":"xai answer"},"finish_reason":"stop"}]}`)
	}))
	defer xai.Close()

	cfg := config.Config{
		PrimaryURL: primary.URL, PrimaryModel: "p",
		RouterURL: router.URL, RouterModel: "r",
		XAIURL: xai.URL, XAIModel: "x", XAIMinMaxTokens: 16384,
	}
	engine := newTestEngine(t, cfg)

	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: "complex question"}}}
	outcome, err := engine.Handle(context.Background(), req)

	require.NoError(t, err)
	assert.Contains(t, string(outcome.Body), "xai answer")
}

func TestHandleMetaFastPathSkipsClassifier(t *testing.T) {
	var classifierCalls int32
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&classifierCalls, 1)
		jsonOK(w, `{"choices":[{"message":{"content":"MODERATE"}}]}`)
	}))
	defer router.Close()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, `{"choices":[{"message":{"content":"meta answer"},"finish_reason":"stop"}]}`)
	}))
	defer primary.Close()

	cfg := config.Config{PrimaryURL: primary.URL, PrimaryModel: "p", RouterURL: router.URL, RouterModel: "r"}
	engine := newTestEngine(t, cfg)

	metaContent := "### Task: generate title\n<chat_history>" +
		"USER: hi there this is a long conversation\nASSISTANT: hello back to you as well\n" +
		"USER: another turn to pad the length out past three hundred characters total so the fast path engages properly here" +
		"\nUSER: one more line of padding text so the whole embedded history is comfortably longer than the threshold" +
		"</chat_history>"
	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: metaContent}}}

	outcome, err := engine.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, string(outcome.Body), "meta answer")
	assert.Equal(t, int32(0), atomic.LoadInt32(&classifierCalls))
}

func TestHandleSlowClassifierStillAnswersFromPrimary(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, `{"choices":[{"message":{"content":"fallback answer"},"finish_reason":"stop"}]}`)
	}))
	defer primary.Close()

	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		jsonOK(w, `{"choices":[{"message":{"content":"MODERATE"}}]}`)
	}))
	defer router.Close()

	cfg := config.Config{PrimaryURL: primary.URL, PrimaryModel: "p", RouterURL: router.URL, RouterModel: "r"}
	engine := newTestEngine(t, cfg)

	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: "hi"}}}
	outcome, err := engine.Handle(context.Background(), req)

	require.NoError(t, err)
	assert.Contains(t, string(outcome.Body), "answer")
}

func TestRouteDirectBypassesClassification(t *testing.T) {
	var classifierCalls int32
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&classifierCalls, 1)
		jsonOK(w, `{"choices":[{"message":{"content":"MODERATE"}}]}`)
	}))
	defer router.Close()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, `{"choices":[{"message":{"content":"direct answer"},"finish_reason":"stop"}]}`)
	}))
	defer primary.Close()

	cfg := config.Config{PrimaryURL: primary.URL, PrimaryModel: "p", RouterURL: router.URL, RouterModel: "r"}
	engine := newTestEngine(t, cfg)

	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: "hi"}}}
	outcome, err := engine.RouteDirect(context.Background(), chatapi.RoutePrimary, req)

	require.NoError(t, err)
	assert.Contains(t, string(outcome.Body), "direct answer")
	assert.Equal(t, int32(0), atomic.LoadInt32(&classifierCalls))
}
