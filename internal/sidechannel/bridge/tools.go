package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"go.uber.org/zap"
)

// Tool surfaces. Orchestrators get the spawn family; child agents only get
// ask_user.
const (
	SurfaceOrchestrator = "orchestrator"
	SurfaceAgent        = "agent"
)

const (
	// askUserWait bounds how long ask_user blocks for an answer.
	askUserWait = 5 * time.Minute

	// spawnResultWait bounds how long spawn_agent with wait=true blocks.
	spawnResultWait = 30 * time.Minute

	// maxWaitSeconds caps wait_for_agents, matching the server limit.
	maxWaitSeconds = 900
)

// noAnswer is returned to the model when the user never responded. It is a
// normal result, not an error, so the agent proceeds on its own judgment.
const noAnswer = "No answer received (timed out). Proceed with your best judgment."

// RegisterTools adds the sidechannel tools for the given surface.
func RegisterTools(s *server.MCPServer, c *Client, surface string, log *logger.Logger) error {
	s.AddTool(
		mcp.NewTool("ask_user",
			mcp.WithDescription(
				"Ask the user a clarifying question when requirements are ambiguous. "+
					"Blocks until the user answers (up to 5 minutes). "+
					"Optionally provide multiple-choice options; the user can always type a custom answer.",
			),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The question to ask the user"),
			),
			mcp.WithArray("options",
				mcp.Description("Optional list of suggested answers (strings)"),
			),
		),
		askUserHandler(c, log),
	)

	switch surface {
	case SurfaceAgent:
		log.Info("registered MCP tools", zap.String("surface", surface), zap.Int("count", 1))
		return nil
	case SurfaceOrchestrator:
	default:
		return fmt.Errorf("unknown tool surface %q", surface)
	}

	s.AddTool(
		mcp.NewTool("spawn_agent",
			mcp.WithDescription(
				"Spawn a single sub-agent to work on a task. "+
					"With wait=true (default) blocks until the agent finishes and returns its full "+
					"output. With wait=false returns the agent_id immediately; collect the result "+
					"later with wait_for_agents or get_agent_status.",
			),
			mcp.WithString("role",
				mcp.Required(),
				mcp.Description("Agent role, e.g. developer, tester, devsecops, business-dev. Unknown roles get a generic specialist prompt."),
			),
			mcp.WithString("name",
				mcp.Description("Display name for the dashboard (optional)"),
			),
			mcp.WithString("task",
				mcp.Required(),
				mcp.Description("The task for the agent. Include all context it needs; it shares nothing with you."),
			),
			mcp.WithString("model",
				mcp.Description("Model override (optional)"),
			),
			mcp.WithBoolean("wait",
				mcp.Description("Block until the agent completes (default true)"),
			),
		),
		spawnAgentHandler(c, log),
	)

	s.AddTool(
		mcp.NewTool("spawn_agents",
			mcp.WithDescription(
				"Batch-spawn multiple sub-agents in one call. Always asynchronous: returns all "+
					"agent_ids immediately. Preferred over repeated spawn_agent calls for parallel waves.",
			),
			mcp.WithArray("agents",
				mcp.Required(),
				mcp.Description("Agents to spawn. Each entry: {role, task, name?, model?}"),
			),
		),
		spawnAgentsHandler(c, log),
	)

	s.AddTool(
		mcp.NewTool("get_agent_status",
			mcp.WithDescription("Get the current status and recent output of a sub-agent without waiting."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The agent id returned by spawn_agent/spawn_agents"),
			),
		),
		agentStatusHandler(c, log),
	)

	s.AddTool(
		mcp.NewTool("wait_for_agents",
			mcp.WithDescription(
				"Wait for ALL listed agents to complete and return every result in one response. "+
					"Preferred over polling get_agent_status.",
			),
			mcp.WithArray("agent_ids",
				mcp.Required(),
				mcp.Description("Agent ids to wait for"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Maximum seconds to wait (default and cap 900)"),
			),
		),
		waitForAgentsHandler(c, log),
	)

	log.Info("registered MCP tools", zap.String("surface", surface), zap.Int("count", 5))
	return nil
}

func askUserHandler(c *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		options, err := stringSlice(req.GetArguments()["options"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse options: %v", err)), nil
		}

		questionID, err := c.CreateQuestion(ctx, question, options)
		if err != nil {
			log.Error("failed to create question", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to ask the user: %v", err)), nil
		}

		deadline := time.Now().Add(askUserWait)
		for time.Now().Before(deadline) {
			answer, ok, err := c.PollAnswer(ctx, questionID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to poll for an answer: %v", err)), nil
			}
			if ok {
				return mcp.NewToolResultText(answer), nil
			}
		}
		return mcp.NewToolResultText(noAnswer), nil
	}
}

func spawnAgentHandler(c *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		role, err := req.RequireString("role")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := req.RequireString("task")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		spec := AgentSpec{
			Role:  role,
			Task:  task,
			Name:  req.GetString("name", ""),
			Model: req.GetString("model", ""),
		}

		info, err := c.SpawnAgent(ctx, spec)
		if err != nil {
			log.Error("failed to spawn agent", zap.String("role", role), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to spawn agent: %v", err)), nil
		}

		if !req.GetBool("wait", true) {
			return mcp.NewToolResultText(fmt.Sprintf(
				"Spawned %s (%s) as %s. Collect the result with wait_for_agents([\"%s\"]).",
				info.Name, info.Role, info.ID, info.ID)), nil
		}

		deadline := time.Now().Add(spawnResultWait)
		for time.Now().Before(deadline) {
			final, ok, err := c.PollResult(ctx, info.ID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to poll agent result: %v", err)), nil
			}
			if ok {
				return mcp.NewToolResultText(formatResult(final)), nil
			}
		}
		return mcp.NewToolResultError(fmt.Sprintf("Agent %s did not finish within %s", info.ID, spawnResultWait)), nil
	}
}

func spawnAgentsHandler(c *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := req.GetArguments()["agents"]
		if !ok {
			return mcp.NewToolResultError("agents is required"), nil
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse agents: %v", err)), nil
		}
		var specs []AgentSpec
		if err := json.Unmarshal(data, &specs); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse agents: %v", err)), nil
		}
		if len(specs) == 0 {
			return mcp.NewToolResultError("agents must not be empty"), nil
		}

		spawned, err := c.SpawnAgents(ctx, specs)
		if err != nil {
			log.Error("batch spawn failed", zap.Int("requested", len(specs)), zap.Error(err))
			if len(spawned) > 0 {
				return mcp.NewToolResultError(fmt.Sprintf(
					"Batch spawn failed after %d of %d agents: %v. Spawned ids: %s",
					len(spawned), len(specs), err, joinIDs(spawned))), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("Failed to spawn agents: %v", err)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Spawned %d agents:\n", len(spawned))
		for _, a := range spawned {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", a.ID, a.Name, a.Role)
		}
		b.WriteString("Collect results with wait_for_agents.")
		return mcp.NewToolResultText(b.String()), nil
	}
}

func agentStatusHandler(c *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		info, err := c.AgentStatus(ctx, agentID)
		if err != nil {
			log.Error("failed to fetch agent status", zap.String("agent_id", agentID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get agent status: %v", err)), nil
		}
		return mcp.NewToolResultText(formatResult(info)), nil
	}
}

func waitForAgentsHandler(c *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := stringSlice(req.GetArguments()["agent_ids"])
		if err != nil || len(ids) == 0 {
			return mcp.NewToolResultError("agent_ids is required and must be a list of strings"), nil
		}
		timeout := req.GetInt("timeout_seconds", maxWaitSeconds)
		if timeout <= 0 || timeout > maxWaitSeconds {
			timeout = maxWaitSeconds
		}

		results, err := c.WaitAgents(ctx, ids, timeout)
		if err != nil {
			log.Error("wait_for_agents failed", zap.Strings("agent_ids", ids), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to wait for agents: %v", err)), nil
		}

		var b strings.Builder
		for i, info := range results {
			if i > 0 {
				b.WriteString("\n\n---\n\n")
			}
			b.WriteString(formatResult(info))
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

// formatResult renders an agent snapshot for the model: status line, files,
// then the output tail.
func formatResult(info AgentInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Agent %s (%s, role: %s)\nStatus: %s\n", info.ID, info.Name, info.Role, info.Status)
	if len(info.FilesModified) > 0 {
		b.WriteString("Files modified:\n")
		for _, f := range info.FilesModified {
			b.WriteString("- " + f + "\n")
		}
	}
	if len(info.Output) > 0 {
		b.WriteString("\nOutput:\n")
		b.WriteString(strings.Join(info.Output, "\n"))
	}
	return b.String()
}

func joinIDs(agents []AgentInfo) string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return strings.Join(ids, ", ")
}

// stringSlice coerces an MCP array argument into []string. A missing value
// yields nil without error.
func stringSlice(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
