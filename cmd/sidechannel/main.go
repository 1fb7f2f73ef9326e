// Package main is the stdio MCP bridge spawned by every agent subprocess.
// It exposes the orchestration tools (ask_user, spawn_agent, ...) over the
// Model Context Protocol and forwards each call to the server's internal
// HTTP API. Configuration arrives through environment variables injected via
// the agent's MCP config file; the only flag selects the tool surface.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/sidechannel/bridge"
	"go.uber.org/zap"
)

var toolsFlag = flag.String("tools", bridge.SurfaceAgent, "tool surface to expose (orchestrator or agent)")

func main() {
	flag.Parse()

	// stdout carries the MCP protocol; all logging goes to stderr.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      getEnv("ORCHESTRA_LOG_LEVEL", "info"),
		Format:     "console",
		OutputPath: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := bridge.ConfigFromEnv()
	if err != nil {
		log.Error("invalid bridge configuration", zap.Error(err))
		os.Exit(1)
	}

	log.Info("starting sidechannel bridge",
		zap.String("surface", *toolsFlag),
		zap.String("api_url", cfg.APIURL),
		zap.String("task_id", cfg.TaskID),
		zap.String("agent_id", cfg.AgentID))

	mcpServer := server.NewMCPServer(
		"orchestra",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	if err := bridge.RegisterTools(mcpServer, bridge.NewClient(cfg), *toolsFlag, log); err != nil {
		log.Error("failed to register tools", zap.Error(err))
		os.Exit(1)
	}

	if err := server.ServeStdio(mcpServer); err != nil {
		log.Error("stdio server exited", zap.Error(err))
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
