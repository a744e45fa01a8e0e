// Package dispatch implements the request-dispatch engine: the meta
// fast path, the speculative-primary/classifier race, route arbitration,
// route-specific post-processing, and session finalization. This is the
// orchestrator every other internal package is wired into.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nominalgeek/ai-router/internal/backend"
	"github.com/nominalgeek/ai-router/internal/chatapi"
	"github.com/nominalgeek/ai-router/internal/classifier"
	"github.com/nominalgeek/ai-router/internal/config"
	"github.com/nominalgeek/ai-router/internal/enrich"
	"github.com/nominalgeek/ai-router/internal/session"
	"github.com/nominalgeek/ai-router/internal/temporal"
)

// Engine wires the classifier, enricher, and backend client into the
// routing decision and post-processing logic described by the dispatch
// flow: snapshot into a session, fan out classification and speculative
// primary, join, arbitrate, handle, finalize.
type Engine struct {
	client     *backend.Client
	classifier *classifier.Classifier
	enricher   *enrich.Enricher
	cfg        config.Config
	prompts    config.Prompts
	sessions   *session.Store
	reqLog     *session.Logger
}

// New builds an Engine from its component dependencies.
func New(client *backend.Client, cl *classifier.Classifier, en *enrich.Enricher, cfg config.Config, prompts config.Prompts, sessions *session.Store, reqLog *session.Logger) *Engine {
	return &Engine{client: client, classifier: cl, enricher: en, cfg: cfg, prompts: prompts, sessions: sessions, reqLog: reqLog}
}

// Outcome is the final, already-resolved response the HTTP surface must
// write back to the caller: either a streaming body to copy chunk by
// chunk, or a fully-buffered body.
type Outcome struct {
	Stream      bool
	Status      int
	Body        []byte
	StreamResp  *backend.Response
	ContentType string
}

// Handle runs the full dispatch flow for one inbound chat-completions
// request and returns the resolved Outcome. The session is finalized
// (summary logged, trace saved) before returning, success or failure.
func (e *Engine) Handle(ctx context.Context, req *chatapi.ChatRequest) (*Outcome, error) {
	sess := session.New()
	sess.SetQuery(req.Messages)

	outcome, err := e.route(ctx, req, sess)
	if err != nil {
		sess.SetError(err)
	}

	e.reqLog.LogSummary(sess)
	if saveErr := e.sessions.Save(sess); saveErr != nil {
		// Trace persistence failures must never fail the request itself.
		_ = saveErr
	}

	return outcome, err
}

// RouteDirect forwards req to the named route without running
// classification or the speculative primary race, for the test-only
// /api/route endpoint. route must be primary, xai, or enrich — meta is
// reachable only through the auto-classification fast path.
func (e *Engine) RouteDirect(ctx context.Context, route chatapi.Route, req *chatapi.ChatRequest) (*Outcome, error) {
	sess := session.New()
	sess.SetQuery(req.Messages)
	sess.SetRoute(string(route), "", 0)
	dateCtx := temporal.Context(e.cfg.Location)

	var outcome *Outcome
	var err error
	switch route {
	case chatapi.RouteXAI:
		outcome, err = e.handleXAI(ctx, req, sess, dateCtx)
	case chatapi.RouteEnrich:
		outcome, err = e.handleEnrich(ctx, req, sess, dateCtx)
	default:
		outcome, err = e.handlePrimary(ctx, req, sess, dateCtx)
	}
	if err != nil {
		sess.SetError(err)
	}

	e.reqLog.LogSummary(sess)
	if saveErr := e.sessions.Save(sess); saveErr != nil {
		_ = saveErr
	}
	return outcome, err
}

func (e *Engine) route(ctx context.Context, req *chatapi.ChatRequest, sess *session.Session) (*Outcome, error) {
	dateCtx := temporal.Context(e.cfg.Location)

	if classifier.IsMeta(req) {
		sess.SetRoute(string(chatapi.RouteMeta), "", 0)
		return e.handleMeta(ctx, req, sess, dateCtx)
	}

	spec := req.Clone()
	backend.PrimarySampling(spec)
	backend.InjectSystemPrefix(spec, temporal.Prepend(dateCtx, e.prompts.PrimarySystem))

	type specResult struct {
		resp *backend.Response
		err  error
	}
	specCh := make(chan specResult, 1)
	specStart := time.Now()
	go func() {
		resp, err := e.client.Dispatch(ctx, e.cfg.PrimaryURL, "/v1/chat/completions", e.cfg.PrimaryModel, spec, "")
		specCh <- specResult{resp: resp, err: err}
	}()

	classifyStep := sess.BeginStep("classification", "router", e.cfg.RouterURL, e.cfg.RouterModel, req.Messages)
	result := e.classifier.Classify(ctx, req, dateCtx)
	classifyStep.EndStep(0, result.RawText, "", nil)
	sess.SetRoute(string(result.Route), result.RawText, result.DurationMs)

	sr := <-specCh

	switch {
	case result.Route == chatapi.RoutePrimary && sr.err == nil && is2xx(sr.resp):
		return e.adoptSpeculative(req, sess, sr.resp, specStart)

	case result.Route == chatapi.RoutePrimary:
		if sr.resp != nil {
			sr.resp.Close()
		}
		return e.handlePrimary(ctx, req, sess, dateCtx)

	default:
		if sr.resp != nil {
			sr.resp.Close()
		}
		switch result.Route {
		case chatapi.RouteXAI:
			return e.handleXAI(ctx, req, sess, dateCtx)
		case chatapi.RouteEnrich:
			return e.handleEnrich(ctx, req, sess, dateCtx)
		default:
			return e.handlePrimary(ctx, req, sess, dateCtx)
		}
	}
}

func is2xx(resp *backend.Response) bool {
	return resp != nil && resp.HTTP != nil && resp.HTTP.StatusCode >= 200 && resp.HTTP.StatusCode < 300
}

// adoptSpeculative treats the already-in-flight speculative primary call
// as the final response, back-dating the provider_call step so its
// duration reflects the true speculative start.
func (e *Engine) adoptSpeculative(req *chatapi.ChatRequest, sess *session.Session, resp *backend.Response, specStart time.Time) (*Outcome, error) {
	step := sess.BeginStep("provider_call", "primary", e.cfg.PrimaryURL, e.cfg.PrimaryModel, nil)
	step.RebaseStart(specStart)

	if req.Stream {
		step.EndStep(resp.HTTP.StatusCode, "[streamed]", "", nil)
		return &Outcome{Stream: true, StreamResp: resp, ContentType: "text/event-stream", Status: resp.HTTP.StatusCode}, nil
	}

	body, err := io.ReadAll(resp.HTTP.Body)
	resp.Close()
	if err != nil {
		step.EndStep(0, "", "", err)
		return nil, err
	}
	step.EndStep(resp.HTTP.StatusCode, extractAssistantText(body), extractFinishReason(body), nil)
	return &Outcome{Stream: false, Body: body, ContentType: "application/json", Status: resp.HTTP.StatusCode}, nil
}

func (e *Engine) handlePrimary(ctx context.Context, req *chatapi.ChatRequest, sess *session.Session, dateCtx string) (*Outcome, error) {
	fresh := req.Clone()
	backend.PrimarySampling(fresh)
	backend.InjectSystemPrefix(fresh, temporal.Prepend(dateCtx, e.prompts.PrimarySystem))
	return e.callAndRecord(ctx, sess, "primary", e.cfg.PrimaryURL, e.cfg.PrimaryModel, fresh, "")
}

// handleMeta truncates an oversized embedded-history message, keeping
// the suffix within <chat_history> tags (or the plain tail, absent tags)
// snapped to a line break, before injecting the meta-system prompt.
func (e *Engine) handleMeta(ctx context.Context, req *chatapi.ChatRequest, sess *session.Session, dateCtx string) (*Outcome, error) {
	fresh := req.Clone()
	fresh.Messages[0].Content = classifier.TruncateMetaContent(fresh.Messages[0].Content, e.cfg.ClassifierContextBudget)
	backend.PrimarySampling(fresh)
	backend.InjectSystemPrefix(fresh, temporal.Prepend(dateCtx, e.prompts.MetaSystem))
	return e.callAndRecord(ctx, sess, "primary", e.cfg.PrimaryURL, e.cfg.PrimaryModel, fresh, "")
}

func (e *Engine) handleXAI(ctx context.Context, req *chatapi.ChatRequest, sess *session.Session, dateCtx string) (*Outcome, error) {
	fresh := req.Clone()
	backend.EnforceXAIFloor(fresh, e.cfg.XAIMinMaxTokens)
	backend.InjectSystemPrefix(fresh, temporal.Prepend(dateCtx, e.prompts.XAISystem))
	return e.callAndRecord(ctx, sess, "xai", e.cfg.XAIURL, e.cfg.XAIModel, fresh, e.cfg.XAIAPIKey)
}

func (e *Engine) handleEnrich(ctx context.Context, req *chatapi.ChatRequest, sess *session.Session, dateCtx string) (*Outcome, error) {
	enrichStep := sess.BeginStep("enrichment", "xai", e.cfg.XAIURL, e.cfg.XAIModel, nil)
	contextText := e.enricher.Fetch(ctx, req.Messages, dateCtx)
	if contextText == "" {
		enrichStep.EndStep(0, "[empty]", "", nil)
	} else {
		enrichStep.EndStep(200, contextText, "", nil)
	}

	fresh := req.Clone()
	backend.PrimarySampling(fresh)
	backend.InjectSystemPrefix(fresh, temporal.Prepend(dateCtx, e.prompts.PrimarySystem))
	if injection := e.enricher.Injection(contextText, dateCtx); injection != "" {
		backend.InjectBeforeLastUser(fresh, injection)
	}
	return e.callAndRecord(ctx, sess, "primary", e.cfg.PrimaryURL, e.cfg.PrimaryModel, fresh, "")
}

// callAndRecord performs a fresh backend call, recording a provider_call
// Step and returning the resolved Outcome.
func (e *Engine) callAndRecord(ctx context.Context, sess *session.Session, provider, baseURL, model string, req *chatapi.ChatRequest, bearer string) (*Outcome, error) {
	step := sess.BeginStep("provider_call", provider, baseURL, model, req.Messages)

	callCtx, cancel := context.WithTimeout(ctx, backend.BackendTimeout)
	defer cancel()

	resp, err := e.client.Dispatch(callCtx, baseURL, "/v1/chat/completions", model, req, bearer)
	if err != nil {
		step.EndStep(0, "", "", err)
		return nil, mapDispatchError(err)
	}

	if req.Stream {
		step.EndStep(resp.HTTP.StatusCode, "[streamed]", "", nil)
		return &Outcome{Stream: true, StreamResp: resp, ContentType: "text/event-stream", Status: resp.HTTP.StatusCode}, nil
	}

	body, err := io.ReadAll(resp.HTTP.Body)
	resp.Close()
	if err != nil {
		step.EndStep(0, "", "", err)
		return nil, err
	}
	step.EndStep(resp.HTTP.StatusCode, extractAssistantText(body), extractFinishReason(body), nil)
	return &Outcome{Stream: false, Body: body, ContentType: "application/json", Status: resp.HTTP.StatusCode}, nil
}

func mapDispatchError(err error) error {
	switch {
	case isErr(err, backend.ErrTimeout):
		return fmt.Errorf("%w", ErrGatewayTimeout)
	case isErr(err, backend.ErrUnreachable):
		return fmt.Errorf("%w", ErrServiceUnavailable)
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Sentinel errors the HTTP surface maps to status codes: 504, 503, 500.
var (
	ErrGatewayTimeout     = fmt.Errorf("gateway timeout")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrInternal           = fmt.Errorf("internal error")
)

func extractAssistantText(body []byte) string {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return ""
	}
	return parsed.Choices[0].Message.Content
}

func extractFinishReason(body []byte) string {
	var parsed struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return ""
	}
	return parsed.Choices[0].FinishReason
}
