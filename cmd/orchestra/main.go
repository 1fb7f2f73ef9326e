// Package main is the entry point for the agent-orchestra server: the
// orchestration engine, the dashboard REST and WebSocket surfaces, and the
// token-authed internal API used by agent subprocesses.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/morbidsteve/agent-orchestra/internal/agent/docker"
	"github.com/morbidsteve/agent-orchestra/internal/agent/registry"
	"github.com/morbidsteve/agent-orchestra/internal/agent/runner"
	"github.com/morbidsteve/agent-orchestra/internal/api"
	"github.com/morbidsteve/agent-orchestra/internal/clarification"
	"github.com/morbidsteve/agent-orchestra/internal/common/config"
	"github.com/morbidsteve/agent-orchestra/internal/common/httpmw"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/common/tracing"
	"github.com/morbidsteve/agent-orchestra/internal/conversation"
	"github.com/morbidsteve/agent-orchestra/internal/engine"
	"github.com/morbidsteve/agent-orchestra/internal/events"
	"github.com/morbidsteve/agent-orchestra/internal/events/bus"
	"github.com/morbidsteve/agent-orchestra/internal/findings"
	"github.com/morbidsteve/agent-orchestra/internal/gateway/websocket"
	"github.com/morbidsteve/agent-orchestra/internal/sandbox"
	"github.com/morbidsteve/agent-orchestra/internal/screenshot"
	"github.com/morbidsteve/agent-orchestra/internal/sidechannel"
	"github.com/morbidsteve/agent-orchestra/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("starting agent-orchestra",
		zap.Int("port", cfg.Server.Port),
		zap.String("projects_dir", cfg.Projects.Dir))

	// Event bus: NATS when configured, in-process otherwise.
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer func() { _ = busCleanup() }()

	// The docker client is optional: without it the sandbox resolver simply
	// never offers container-wrap.
	var prober sandbox.RuntimeProber
	var images runner.ImageEnsurer
	dockerClient, err := docker.NewClient(cfg.Docker, log)
	if err != nil {
		log.Warn("docker client unavailable, container-wrap disabled", zap.Error(err))
	} else {
		defer func() { _ = dockerClient.Close() }()
		prober = dockerClient
		images = dockerClient
	}
	resolver := sandbox.NewResolver(sandbox.DefaultEnv(), cfg.Sandbox.AllowHost, prober, log)

	// One internal token per process; agents receive it through their MCP
	// config files, never through argv.
	token := sidechannel.NewToken()

	broker := stream.NewBroker(log)
	questions := clarification.NewStore()
	screenshots := screenshot.NewStore()
	findingStore := findings.NewStore()
	conversations := conversation.NewStore()
	launcher := runner.NewRunner(cfg.Agent, cfg.Docker.Image, cfg.Server.Port, token, images, log)

	reg := registry.New()
	if cfg.Agent.RolesOverlay != "" {
		if err := reg.LoadOverlay(cfg.Agent.RolesOverlay); err != nil {
			log.Fatal("failed to load roles overlay",
				zap.String("path", cfg.Agent.RolesOverlay), zap.Error(err))
		}
		log.Info("loaded roles overlay", zap.String("path", cfg.Agent.RolesOverlay))
	}

	eng := engine.New(cfg, log, broker, provided.Bus, reg,
		questions, screenshots, findingStore, launcher, resolver)

	convService := conversation.NewService(conversations, broker, provided.Bus, log)
	if err := convService.Start(); err != nil {
		log.Fatal("failed to start conversation service", zap.Error(err))
	}
	defer convService.Stop()

	// Audit trail: every engine event at debug level.
	auditSub, err := provided.Bus.Subscribe(">", func(_ context.Context, event *bus.Event) error {
		log.Debug("event", zap.String("type", event.Type), zap.Any("data", event.Data))
		return nil
	})
	if err != nil {
		log.Warn("audit subscription failed", zap.Error(err))
	} else {
		defer func() { _ = auditSub.Unsubscribe() }()
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.RequestLogger(log, "orchestra"))
	router.Use(gin.Recovery())
	router.Use(httpmw.OtelTracing("orchestra"))
	router.Use(httpmw.CORS(cfg.Server.AllowedOrigins))

	api.NewHandlers(eng, conversations, cfg.Projects.BrowseRoot, log).RegisterRoutes(router)
	sidechannel.NewHandlers(eng, log).RegisterRoutes(router, token)
	websocket.NewGateway(eng, broker, conversations, cfg.Server.AllowedOrigins, log).RegisterRoutes(router)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeoutDuration(),
		// WriteTimeout stays at the configured value; the default of zero
		// keeps long-polls and websockets open.
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracing shutdown error", zap.Error(err))
	}
	log.Info("stopped")
}
