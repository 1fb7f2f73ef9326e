package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/morbidsteve/agent-orchestra/internal/common/config"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu            sync.Mutex
	output        []string
	files         [][2]string
	orchestration []string
	results       []string
}

func (s *recordingSink) Output(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = append(s.output, line)
}

func (s *recordingSink) FileActivity(path, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, [2]string{path, action})
}

func (s *recordingSink) Orchestration(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orchestration = append(s.orchestration, line)
}

func (s *recordingSink) Result(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, line)
}

func (s *recordingSink) outputLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.output...)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

// writeStub writes an executable shell script acting as the agent binary.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent-stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestRunner(t *testing.T, binary string) *Runner {
	t.Helper()
	return NewRunner(config.AgentConfig{
		Binary:            binary,
		DefaultModel:      "sonnet",
		SidechannelBinary: "/usr/local/bin/orchestra-sidechannel",
	}, "agent-orchestra-runner:latest", 8620, "secret-token", nil, testLogger(t))
}

func TestWriteMCPConfig(t *testing.T) {
	dir := t.TempDir()
	path, err := writeMCPConfig(dir, "/usr/local/bin/orchestra-sidechannel", ToolsAgent,
		"http://127.0.0.1:8620", "task-1", "agent-3", "tok")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "orchestra-mcp-agent-3.json"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg mcpConfigFile
	require.NoError(t, json.Unmarshal(data, &cfg))

	server, ok := cfg.MCPServers["orchestra"]
	require.True(t, ok)
	assert.Equal(t, "/usr/local/bin/orchestra-sidechannel", server.Command)
	assert.Equal(t, []string{"--tools=agent"}, server.Args)
	assert.Equal(t, "task-1", server.Env["ORCHESTRA_TASK_ID"])
	assert.Equal(t, "agent-3", server.Env["ORCHESTRA_AGENT_ID"])
	assert.Equal(t, "tok", server.Env["ORCHESTRA_INTERNAL_TOKEN"])
	assert.Equal(t, "http://127.0.0.1:8620", server.Env["ORCHESTRA_API_URL"])
}

func TestWrapInDockerLinux(t *testing.T) {
	dir := t.TempDir()
	mcpPath, err := writeMCPConfig(dir, "/opt/bin/orchestra-sidechannel", ToolsOrchestrator,
		"http://127.0.0.1:8620", "task-1", "agent-0", "tok")
	require.NoError(t, err)

	argv := []string{"/usr/local/bin/claude", "-p", "do it", "--mcp-config", mcpPath}
	wrapped, err := wrapInDocker(argv, wrapSpec{
		Image:         "agent-orchestra-runner:latest",
		WorkDir:       "/projects/task-1",
		MCPConfigPath: mcpPath,
		APIPort:       8620,
		GOOS:          "linux",
		Home:          "/home/dev",
		Exists:        func(p string) bool { return p == "/home/dev/.claude" },
	})
	require.NoError(t, err)

	joined := strings.Join(wrapped, " ")
	assert.Equal(t, []string{"docker", "run", "--rm"}, wrapped[:3])
	assert.Contains(t, joined, "--network host")
	assert.Contains(t, joined, "-v /projects/task-1:/workspace")
	assert.Contains(t, joined, "-v /home/dev/.claude:/home/orchestra/.claude:ro")
	assert.NotContains(t, joined, ".config/gh")
	assert.Contains(t, joined, "-w /workspace")

	// Binary collapses to its base name inside the container.
	idx := -1
	for i, arg := range wrapped {
		if arg == "agent-orchestra-runner:latest" {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "claude", wrapped[idx+1])

	// The rewritten config keeps the loopback URL on linux but drops the
	// sidechannel's host path.
	rewritten := filepath.Join(dir, "docker-"+filepath.Base(mcpPath))
	assert.Contains(t, wrapped, rewritten)
	data, err := os.ReadFile(rewritten)
	require.NoError(t, err)
	var cfg mcpConfigFile
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "orchestra-sidechannel", cfg.MCPServers["orchestra"].Command)
	assert.Equal(t, "http://127.0.0.1:8620", cfg.MCPServers["orchestra"].Env["ORCHESTRA_API_URL"])
}

func TestWrapInDockerDarwinUsesHostGateway(t *testing.T) {
	dir := t.TempDir()
	mcpPath, err := writeMCPConfig(dir, "/opt/bin/orchestra-sidechannel", ToolsAgent,
		"http://127.0.0.1:8620", "task-1", "agent-1", "tok")
	require.NoError(t, err)

	wrapped, err := wrapInDocker([]string{"claude", "--mcp-config", mcpPath}, wrapSpec{
		Image:         "img",
		WorkDir:       "/w",
		MCPConfigPath: mcpPath,
		APIPort:       8620,
		GOOS:          "darwin",
		Home:          "/Users/dev",
		Exists:        func(string) bool { return false },
	})
	require.NoError(t, err)

	assert.NotContains(t, strings.Join(wrapped, " "), "--network host")

	data, err := os.ReadFile(filepath.Join(dir, "docker-"+filepath.Base(mcpPath)))
	require.NoError(t, err)
	var cfg mcpConfigFile
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "http://host.docker.internal:8620", cfg.MCPServers["orchestra"].Env["ORCHESTRA_API_URL"])
}

func TestLaunchCompletedRun(t *testing.T) {
	stub := writeStub(t, `echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}'
echo '{"type":"result","subtype":"success","result":"done"}'`)
	r := newTestRunner(t, stub)

	sink := &recordingSink{}
	res, err := r.Launch(context.Background(), LaunchSpec{
		TaskID:  "task-1",
		AgentID: "agent-0",
		Prompt:  "build the thing",
		Model:   "sonnet",
		WorkDir: t.TempDir(),
		Timeout: 30 * time.Second,
		Mode:    sandbox.ModeNative,
		Tools:   ToolsOrchestrator,
		Sink:    sink,
	})
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, []string{"working on it"}, sink.outputLines())
	assert.Equal(t, []string{"done"}, sink.results)
}

func TestLaunchFailedRunKeepsStderrTail(t *testing.T) {
	stub := writeStub(t, `echo "boom: cannot continue" >&2
exit 3`)
	r := newTestRunner(t, stub)

	res, err := r.Launch(context.Background(), LaunchSpec{
		TaskID:  "task-1",
		AgentID: "agent-1",
		Prompt:  "p",
		WorkDir: t.TempDir(),
		Timeout: 30 * time.Second,
		Mode:    sandbox.ModeNative,
		Tools:   ToolsAgent,
		Sink:    &recordingSink{},
	})
	require.NoError(t, err)

	assert.False(t, res.Completed)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.StderrTail, "boom: cannot continue")
}

func TestLaunchTimeoutKillsProcess(t *testing.T) {
	stub := writeStub(t, `sleep 30`)
	r := newTestRunner(t, stub)

	sink := &recordingSink{}
	start := time.Now()
	res, err := r.Launch(context.Background(), LaunchSpec{
		TaskID:  "task-1",
		AgentID: "agent-2",
		Prompt:  "p",
		WorkDir: t.TempDir(),
		Timeout: 300 * time.Millisecond,
		Mode:    sandbox.ModeNative,
		Tools:   ToolsAgent,
		Sink:    sink,
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Completed)

	lines := sink.outputLines()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "[timeout]")
}

func TestLaunchCleansUpTempConfig(t *testing.T) {
	stub := writeStub(t, `exit 0`)
	r := newTestRunner(t, stub)

	before := globTempConfigs(t)
	_, err := r.Launch(context.Background(), LaunchSpec{
		TaskID:  "task-1",
		AgentID: "agent-4",
		Prompt:  "p",
		WorkDir: t.TempDir(),
		Timeout: 30 * time.Second,
		Mode:    sandbox.ModeNative,
		Tools:   ToolsAgent,
		Sink:    &recordingSink{},
	})
	require.NoError(t, err)
	assert.Equal(t, before, globTempConfigs(t))
}

func globTempConfigs(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "orchestra-agent-*"))
	require.NoError(t, err)
	return matches
}
