package backend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nominalgeek/ai-router/internal/chatapi"
)

func TestDispatchSetsModelAndAuth(t *testing.T) {
	var gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody = buf.Bytes()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	c := New()
	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: "hello"}}}
	resp, err := c.Dispatch(context.Background(), srv.URL, "/v1/chat/completions", "target-model", req, "secret-key")
	require.NoError(t, err)
	defer resp.Close()

	assert.Equal(t, http.StatusOK, resp.HTTP.StatusCode)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Contains(t, string(gotBody), `"model":"target-model"`)
}

func TestStreamCopyMeasuresFirstByte(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte("chunk1"))
		flusher.Flush()
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte("chunk2"))
		flusher.Flush()
	}))
	defer srv.Close()

	c := New()
	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: "hi"}}}
	resp, err := c.Dispatch(context.Background(), srv.URL, "/v1/chat/completions", "m", req, "")
	require.NoError(t, err)
	defer resp.Close()

	var out bytes.Buffer
	var ttfb time.Duration
	err = c.StreamCopy(&out, resp, func(d time.Duration) { ttfb = d })
	require.NoError(t, err)

	assert.Equal(t, "chunk1chunk2", out.String())
	assert.GreaterOrEqual(t, ttfb, 10*time.Millisecond)
}

func TestDispatchUnreachableHost(t *testing.T) {
	c := New()
	req := &chatapi.ChatRequest{Messages: []chatapi.Message{{Role: "user", Content: "hi"}}}
	_, err := c.Dispatch(context.Background(), "http://127.0.0.1:1", "/v1/chat/completions", "m", req, "")
	assert.Error(t, err)
}
