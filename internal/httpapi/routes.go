// Package httpapi exposes the OpenAI-compatible HTTP surface: request
// deserialization, validation, and handoff to the dispatch engine, plus
// the auxiliary endpoints (models, health, route metadata) recovered
// from the original service.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nominalgeek/ai-router/internal/backend"
	"github.com/nominalgeek/ai-router/internal/config"
	"github.com/nominalgeek/ai-router/internal/dispatch"
)

// Server holds everything a route handler needs: the dispatch engine
// plus static config for the auxiliary endpoints.
type Server struct {
	engine  *dispatch.Engine
	client  *backend.Client
	cfg     config.Config
	version string
	log     *slog.Logger
}

// NewServer builds a Server around an already-constructed dispatch
// engine. client is used for copying streaming outcome bodies back to
// callers; the health probes use http.DefaultClient. log receives the once-per-stream
// time-to-first-byte measurement.
func NewServer(engine *dispatch.Engine, client *backend.Client, cfg config.Config, version string, log *slog.Logger) *Server {
	return &Server{engine: engine, client: client, cfg: cfg, version: version, log: log}
}

// Register wires every endpoint onto router.
func (s *Server) Register(router *gin.Engine) {
	router.POST("/v1/chat/completions", s.chatCompletions)
	router.POST("/v1/completions", s.legacyCompletions)
	router.GET("/v1/models", s.listModels)
	router.GET("/health", s.health)
	router.GET("/", s.root)
	router.POST("/api/route", s.apiRoute)
	router.GET("/stats", s.stats)
}

// root returns service metadata: version, virtual model id, and the
// endpoint map, matching the original service's landing page.
func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "ai-router",
		"version": s.version,
		"model":   s.cfg.VirtualModel,
		"endpoints": gin.H{
			"chat_completions": "/v1/chat/completions",
			"completions":      "/v1/completions",
			"models":           "/v1/models",
			"health":           "/health",
			"route":            "/api/route",
		},
	})
}

// stats is a static placeholder endpoint carried over from the original
// service; it never reported live metrics there either.
func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listModels always returns the single configured virtual model id,
// regardless of what any backend actually reports — the whole point of
// the gateway is hiding the fan-out behind one identity.
func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": s.cfg.VirtualModel, "object": "model", "owned_by": "ai-router"},
		},
	})
}
