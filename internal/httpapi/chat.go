package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nominalgeek/ai-router/internal/chatapi"
	"github.com/nominalgeek/ai-router/internal/dispatch"
)

// chatCompletions is the primary entry point: validate, hand off to the
// dispatch engine, then either stream the upstream body unbuffered or
// write the buffered JSON response.
func (s *Server) chatCompletions(c *gin.Context) {
	var req chatapi.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages is required"})
		return
	}

	outcome, err := s.engine.Handle(c.Request.Context(), &req)
	if err != nil {
		writeDispatchError(c, err)
		return
	}

	s.writeOutcome(c, outcome)
}

// legacyCompletions validates the deprecated /v1/completions shape (a
// JSON body with a prompt field, 400 otherwise) and then replies 501 Not
// Implemented. It does not forward the request to any backend.
func (s *Server) legacyCompletions(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if _, ok := body["prompt"]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	c.JSON(http.StatusNotImplemented, gin.H{"error": "legacy completions endpoint is not wired to a backend in this deployment"})
}

// apiRoute is the test-only endpoint that bypasses classification unless
// route=="auto". meta is intentionally excluded from the manual set:
// it is reachable only via auto-classification's fast path, matching the
// original service's behavior.
func (s *Server) apiRoute(c *gin.Context) {
	var body struct {
		Route string              `json:"route"`
		Path  string              `json:"path"`
		Data  chatapi.ChatRequest `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if body.Route == "auto" {
		outcome, err := s.engine.Handle(c.Request.Context(), &body.Data)
		if err != nil {
			writeDispatchError(c, err)
			return
		}
		s.writeOutcome(c, outcome)
		return
	}

	switch chatapi.Route(body.Route) {
	case chatapi.RoutePrimary, chatapi.RouteXAI, chatapi.RouteEnrich:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "route must be one of primary, xai, enrich, or auto"})
		return
	}

	outcome, err := s.engine.RouteDirect(c.Request.Context(), chatapi.Route(body.Route), &body.Data)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	s.writeOutcome(c, outcome)
}

func (s *Server) writeOutcome(c *gin.Context, outcome *dispatch.Outcome) {
	if outcome.Stream {
		defer outcome.StreamResp.Close()
		c.Status(outcome.Status)
		c.Header("Content-Type", outcome.ContentType)
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		_ = s.client.StreamCopy(c.Writer, outcome.StreamResp, func(ttfb time.Duration) {
			s.log.Info("time_to_first_byte", "ttfb_ms", ttfb.Milliseconds())
		})
		return
	}

	c.Data(outcome.Status, outcome.ContentType, outcome.Body)
}

func writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrGatewayTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream backend timed out", "message": err.Error()})
	case errors.Is(err, dispatch.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream backend unreachable", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "message": err.Error()})
	}
}
