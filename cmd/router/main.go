// Command router runs the ai-router gateway: a single OpenAI-compatible
// endpoint that multiplexes the configured virtual model across the
// local-fast classifier, local-reasoning, and cloud backends.
package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nominalgeek/ai-router/internal/backend"
	"github.com/nominalgeek/ai-router/internal/classifier"
	"github.com/nominalgeek/ai-router/internal/config"
	"github.com/nominalgeek/ai-router/internal/dispatch"
	"github.com/nominalgeek/ai-router/internal/enrich"
	"github.com/nominalgeek/ai-router/internal/httpapi"
	"github.com/nominalgeek/ai-router/internal/session"
	"github.com/nominalgeek/ai-router/internal/tracing"
)

const serviceName = "ai-router"

func main() {
	cfg := config.Load()

	logWriter := io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogDir + "/app.log",
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     cfg.SessionMaxAgeDays,
	})
	logger := slog.New(slog.NewJSONHandler(logWriter, nil))
	slog.SetDefault(logger)

	prompts := config.LoadPrompts(cfg, logger)

	ctx := context.Background()
	shutdown, err := tracing.Init(ctx, cfg.OTLPEndpoint, serviceName, logger)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdown(ctx)

	sessionStore, err := session.NewStore(cfg.LogDir, cfg.SessionMaxAgeDays, cfg.SessionMaxCount, logger)
	if err != nil {
		log.Fatalf("failed to set up session store: %v", err)
	}
	reqLogger := session.NewLogger(logger)

	client := backend.New()
	cl := classifier.New(client, cfg, prompts)
	en := enrich.New(client, cfg, prompts)
	engine := dispatch.New(client, cl, en, cfg, prompts, sessionStore, reqLogger)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	server := httpapi.NewServer(engine, client, cfg, "1.0.0", logger)
	server.Register(router)

	logger.Info("starting ai-router", "port", cfg.Port, "virtual_model", cfg.VirtualModel)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
