// Package backend implements the outbound HTTP client shared by every
// route handler: request shaping per backend, streaming passthrough with
// time-to-first-byte measurement, and the single place backend-specific
// quirks (sampling overrides, token floors, auth headers) live.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nominalgeek/ai-router/internal/chatapi"
)

// Timeouts for the three outbound call shapes. Classification and
// enrichment are bounded tightly because they gate user-visible latency
// on every request; backend completion calls get a generous ceiling
// since local-reasoning generations can legitimately run long.
const (
	BackendTimeout    = 300 * time.Second
	ClassifierTimeout = 10 * time.Second
	EnrichmentTimeout = 60 * time.Second
)

// Response wraps a backend's HTTP response together with the moment the
// request was issued, so callers can measure time-to-first-byte relative
// to dispatch rather than relative to body-read start.
type Response struct {
	HTTP      *http.Response
	Requested time.Time
}

// Close closes the underlying HTTP body. Safe to call on a nil Response.
func (r *Response) Close() {
	if r != nil && r.HTTP != nil {
		r.HTTP.Body.Close()
	}
}

// Client issues outbound chat-completions calls against one of the three
// backends and streams or buffers the response per caller request.
type Client struct {
	http *http.Client
}

// New builds a Client whose transport bounds only dialing (10s); the
// overall request timeout is instead enforced via context so a long
// streaming body isn't cut off mid-stream by a fixed client-level Timeout.
func New() *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 0, // bounded by context instead
			},
		},
	}
}

// Dispatch sends req to baseURL+path with the given model substituted,
// optionally with a bearer token (cloud backend only), returning the raw
// response for the caller to stream or buffer. The caller owns closing
// the response body.
func (c *Client) Dispatch(ctx context.Context, baseURL, path, model string, req *chatapi.ChatRequest, bearer string) (*Response, error) {
	body, err := req.MarshalOutbound(model)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	requested := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return &Response{HTTP: resp, Requested: requested}, nil
}

// DispatchRaw sends a pre-encoded JSON body, used by callers that build
// a request shape Dispatch's chatapi.ChatRequest marshaling doesn't
// cover (the enrichment hop's responses-API payload).
func (c *Client) DispatchRaw(ctx context.Context, baseURL, path string, body []byte, bearer string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	requested := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return &Response{HTTP: resp, Requested: requested}, nil
}

// StreamCopy copies resp's body to w chunk-by-chunk as it arrives,
// invoking onFirstByte once with the elapsed time from resp.Requested to
// the first non-empty read. It never buffers the full body, so the
// caller's writer sees each upstream chunk as soon as it lands.
func (c *Client) StreamCopy(w io.Writer, resp *Response, onFirstByte func(ttfb time.Duration)) error {
	buf := make([]byte, 4096)
	first := true
	for {
		n, readErr := resp.HTTP.Body.Read(buf)
		if n > 0 {
			if first {
				if onFirstByte != nil {
					onFirstByte(time.Since(resp.Requested))
				}
				first = false
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// classifyDialError maps low-level transport errors onto the three
// outward-facing failure kinds the HTTP surface distinguishes: timeout,
// connection refused/unreachable, or generic failure.
func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

var (
	// ErrTimeout indicates the backend did not respond within its budget.
	ErrTimeout = errors.New("backend timeout")
	// ErrUnreachable indicates the backend could not be reached at all.
	ErrUnreachable = errors.New("backend unreachable")
)
