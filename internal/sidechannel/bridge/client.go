// Package bridge is the agent-side half of the sidechannel: an HTTP client
// for the server's /internal API plus the MCP tools that expose it to agent
// subprocesses over stdio.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Environment variables injected through each agent's MCP config file.
const (
	EnvAPIURL  = "ORCHESTRA_API_URL"
	EnvTaskID  = "ORCHESTRA_TASK_ID"
	EnvAgentID = "ORCHESTRA_AGENT_ID"
	EnvToken   = "ORCHESTRA_INTERNAL_TOKEN"
)

const tokenHeader = "X-Orchestra-Token"

// Config identifies the calling agent to the internal API.
type Config struct {
	APIURL  string
	TaskID  string
	AgentID string
	Token   string
}

// ConfigFromEnv reads the bridge configuration from the environment.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		APIURL:  os.Getenv(EnvAPIURL),
		TaskID:  os.Getenv(EnvTaskID),
		AgentID: os.Getenv(EnvAgentID),
		Token:   os.Getenv(EnvToken),
	}
	if cfg.APIURL == "" {
		return Config{}, fmt.Errorf("%s is required", EnvAPIURL)
	}
	if cfg.TaskID == "" {
		return Config{}, fmt.Errorf("%s is required", EnvTaskID)
	}
	if cfg.Token == "" {
		return Config{}, fmt.Errorf("%s is required", EnvToken)
	}
	return cfg, nil
}

// AgentSpec describes one agent to spawn.
type AgentSpec struct {
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
	Task  string `json:"task"`
	Model string `json:"model,omitempty"`
}

// AgentInfo is the wire shape of an agent snapshot from the internal API.
type AgentInfo struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"task_id"`
	Role          string   `json:"role"`
	Name          string   `json:"name"`
	Task          string   `json:"task"`
	Status        string   `json:"status"`
	Output        []string `json:"output"`
	FilesModified []string `json:"files_modified"`
}

// Client talks to the server's /internal routes.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a client. The HTTP timeout leaves headroom over the
// server's 30s long-poll window.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 45 * time.Second},
	}
}

// CreateQuestion posts a clarification question and returns its id.
func (c *Client) CreateQuestion(ctx context.Context, question string, options []string) (string, error) {
	payload := map[string]any{
		"task_id":  c.cfg.TaskID,
		"agent_id": c.cfg.AgentID,
		"question": question,
	}
	if len(options) > 0 {
		payload["options"] = options
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/internal/question", payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// PollAnswer runs one server-side long-poll window. ok is false when the
// question is still pending.
func (c *Client) PollAnswer(ctx context.Context, questionID string) (string, bool, error) {
	resp, err := c.request(ctx, http.MethodGet, "/internal/question/"+questionID+"/answer", nil)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return "", false, nil
	case http.StatusOK:
		var body struct {
			Answer string `json:"answer"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", false, fmt.Errorf("failed to parse answer: %w", err)
		}
		return body.Answer, true, nil
	default:
		return "", false, apiError(resp)
	}
}

// SpawnAgent registers one child agent and returns its snapshot.
func (c *Client) SpawnAgent(ctx context.Context, spec AgentSpec) (AgentInfo, error) {
	payload := map[string]any{
		"task_id": c.cfg.TaskID,
		"role":    spec.Role,
		"task":    spec.Task,
	}
	if spec.Name != "" {
		payload["name"] = spec.Name
	}
	if spec.Model != "" {
		payload["model"] = spec.Model
	}
	var info AgentInfo
	if err := c.do(ctx, http.MethodPost, "/internal/spawn-agent", payload, &info); err != nil {
		return AgentInfo{}, err
	}
	return info, nil
}

// SpawnAgents batch-spawns. On a mid-batch failure the server reports the
// agents that did spawn; those are returned alongside the error.
func (c *Client) SpawnAgents(ctx context.Context, specs []AgentSpec) ([]AgentInfo, error) {
	payload := map[string]any{
		"task_id": c.cfg.TaskID,
		"agents":  specs,
	}
	resp, err := c.request(ctx, http.MethodPost, "/internal/spawn-agents", payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Agents []AgentInfo `json:"agents"`
		Error  string      `json:"error"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr != nil && resp.StatusCode < 400 {
		return nil, fmt.Errorf("failed to parse spawn response: %w", decodeErr)
	}
	if resp.StatusCode >= 400 {
		if body.Error != "" {
			return body.Agents, fmt.Errorf("API error (%d): %s", resp.StatusCode, body.Error)
		}
		return body.Agents, fmt.Errorf("API error (%d)", resp.StatusCode)
	}
	return body.Agents, nil
}

// AgentStatus fetches the current snapshot without waiting.
func (c *Client) AgentStatus(ctx context.Context, agentID string) (AgentInfo, error) {
	var info AgentInfo
	if err := c.do(ctx, http.MethodGet, "/internal/agent/"+agentID+"/status", nil, &info); err != nil {
		return AgentInfo{}, err
	}
	return info, nil
}

// PollResult runs one long-poll window for an agent's terminal snapshot. ok
// is false while the agent is still running.
func (c *Client) PollResult(ctx context.Context, agentID string) (AgentInfo, bool, error) {
	resp, err := c.request(ctx, http.MethodGet, "/internal/agent/"+agentID+"/result", nil)
	if err != nil {
		return AgentInfo{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return AgentInfo{}, false, nil
	case http.StatusOK:
		var info AgentInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return AgentInfo{}, false, fmt.Errorf("failed to parse agent result: %w", err)
		}
		return info, true, nil
	default:
		return AgentInfo{}, false, apiError(resp)
	}
}

// WaitAgents blocks server-side until all listed agents finish or the
// timeout elapses, then returns their snapshots.
func (c *Client) WaitAgents(ctx context.Context, agentIDs []string, timeoutSeconds int) ([]AgentInfo, error) {
	payload := map[string]any{
		"agent_ids":       agentIDs,
		"timeout_seconds": timeoutSeconds,
	}
	var body struct {
		Agents []AgentInfo `json:"agents"`
	}
	// The server holds this request for up to timeoutSeconds; bypass the
	// default client timeout.
	httpClient := &http.Client{Timeout: time.Duration(timeoutSeconds+60) * time.Second}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/internal/agents/wait", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.cfg.Token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse wait response: %w", err)
	}
	return body.Agents, nil
}

func (c *Client) request(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(tokenHeader, c.cfg.Token)
	return c.http.Do(req)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	resp, err := c.request(ctx, method, path, payload)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("API error (%d)", resp.StatusCode)
}
