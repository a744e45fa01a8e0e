package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const healthProbeTimeout = 5 * time.Second

// health probes the local-fast and local-reasoning backends' /health
// endpoints, and the cloud backend's /v1/models if a key is configured,
// all in parallel. The service reports healthy only if both local
// probes succeed; the cloud probe is informational and never fails the
// overall result, matching the original two-of-two-local-required
// policy.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var routerOK, primaryOK, xaiOK bool
	checkedXAI := s.cfg.XAIAPIKey != ""

	wg.Add(1)
	go func() {
		defer wg.Done()
		routerOK = probe(ctx, s.cfg.RouterURL+"/health", "")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		primaryOK = probe(ctx, s.cfg.PrimaryURL+"/health", "")
	}()

	if checkedXAI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			xaiOK = probe(ctx, s.cfg.XAIURL+"/v1/models", s.cfg.XAIAPIKey)
		}()
	}

	wg.Wait()

	status := "healthy"
	code := http.StatusOK
	if !routerOK || !primaryOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status": status,
		"checks": gin.H{
			"router":  routerOK,
			"primary": primaryOK,
		},
	}
	if checkedXAI {
		body["checks"].(gin.H)["xai"] = xaiOK
	}
	c.JSON(code, body)
}

func probe(ctx context.Context, url, bearer string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
