package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Sidechannel tool surfaces. The orchestrator gets the full orchestration
// tool set; child agents only get ask_user.
const (
	ToolsOrchestrator = "orchestrator"
	ToolsAgent        = "agent"
)

type mcpServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

type mcpConfigFile struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

// writeMCPConfig writes the per-agent MCP config file that points the agent
// CLI at the sidechannel binary. The file carries the internal token, so it
// is written 0600 and removed when the agent exits.
func writeMCPConfig(dir, sidechannelBinary, tools, apiURL, taskID, agentID, token string) (string, error) {
	cfg := mcpConfigFile{
		MCPServers: map[string]mcpServerEntry{
			"orchestra": {
				Command: sidechannelBinary,
				Args:    []string{"--tools=" + tools},
				Env: map[string]string{
					"ORCHESTRA_API_URL":        apiURL,
					"ORCHESTRA_TASK_ID":        taskID,
					"ORCHESTRA_AGENT_ID":       agentID,
					"ORCHESTRA_INTERNAL_TOKEN": token,
				},
			},
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal mcp config: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("orchestra-mcp-%s.json", agentID))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write mcp config: %w", err)
	}
	return path, nil
}
