// Package runner launches agent CLI subprocesses and pumps their stream-json
// stdout into the engine. Each launch gets its own temp directory for the MCP
// config, a process group for clean teardown, and a wall-clock timeout that
// ends in SIGKILL.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/morbidsteve/agent-orchestra/internal/agent/stream"
	"github.com/morbidsteve/agent-orchestra/internal/common/config"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/sandbox"
	"github.com/morbidsteve/agent-orchestra/pkg/claudecli"
	"go.uber.org/zap"
)

const (
	// Stream-json lines can carry whole file contents inside tool inputs.
	maxLineBytes = 10 * 1024 * 1024

	stderrTailLines = 50
)

// ImageEnsurer pulls the container-wrap image when absent.
type ImageEnsurer interface {
	EnsureImage(ctx context.Context, imageName string) error
}

// LaunchSpec describes one agent subprocess.
type LaunchSpec struct {
	TaskID  string
	AgentID string
	Prompt  string
	Model   string
	WorkDir string
	Timeout time.Duration
	Mode    sandbox.Mode
	Tools   string // ToolsOrchestrator or ToolsAgent
	Sink    stream.Sink
}

// Result is the outcome of a finished subprocess.
type Result struct {
	ExitCode   int
	Completed  bool // exit code 0 and not killed by the timeout
	TimedOut   bool
	StderrTail []string
}

// Runner launches agent subprocesses. Safe for concurrent use.
type Runner struct {
	agentCfg    config.AgentConfig
	dockerImage string
	apiPort     int
	token       string
	images      ImageEnsurer
	logger      *logger.Logger
}

// NewRunner creates a runner. images may be nil when container-wrap is never
// used (the sandbox resolver only yields container-wrap after a successful
// docker probe).
func NewRunner(agentCfg config.AgentConfig, dockerImage string, apiPort int, token string, images ImageEnsurer, log *logger.Logger) *Runner {
	return &Runner{
		agentCfg:    agentCfg,
		dockerImage: dockerImage,
		apiPort:     apiPort,
		token:       token,
		images:      images,
		logger:      log.WithFields(zap.String("component", "agent-runner")),
	}
}

// Launch runs one agent subprocess to completion, dispatching its stdout to
// spec.Sink as it arrives. It blocks until the process exits; callers run it
// in a goroutine. The returned error covers setup failures only; run
// failures are reported through Result.
func (r *Runner) Launch(ctx context.Context, spec LaunchSpec) (*Result, error) {
	tmpDir, err := os.MkdirTemp("", "orchestra-agent-")
	if err != nil {
		return nil, fmt.Errorf("failed to create agent temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	mcpPath, err := writeMCPConfig(tmpDir, r.agentCfg.SidechannelBinary, spec.Tools,
		fmt.Sprintf("http://127.0.0.1:%d", r.apiPort), spec.TaskID, spec.AgentID, r.token)
	if err != nil {
		return nil, err
	}

	argv := claudecli.BuildArgs(claudecli.InvocationSpec{
		Binary:        r.agentCfg.Binary,
		Prompt:        spec.Prompt,
		Model:         spec.Model,
		MCPConfigPath: mcpPath,
	})

	if spec.Mode == sandbox.ModeContainerWrap {
		if r.images != nil {
			if err := r.images.EnsureImage(ctx, r.dockerImage); err != nil {
				return nil, fmt.Errorf("container-wrap image unavailable: %w", err)
			}
		}
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.Getenv("HOME")
		}
		argv, err = wrapInDocker(argv, wrapSpec{
			Image:         r.dockerImage,
			WorkDir:       spec.WorkDir,
			MCPConfigPath: mcpPath,
			APIPort:       r.apiPort,
			GOOS:          runtime.GOOS,
			Home:          home,
			Exists: func(path string) bool {
				_, statErr := os.Stat(path)
				return statErr == nil
			},
		})
		if err != nil {
			return nil, err
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = agentEnv()
	// New process group so the timeout kill reaches CLI children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	r.logger.Info("agent process started",
		zap.String("task_id", spec.TaskID),
		zap.String("agent_id", spec.AgentID),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("sandbox_mode", string(spec.Mode)),
	)

	var timedOut atomic.Bool
	if spec.Timeout > 0 {
		timer := time.AfterFunc(spec.Timeout, func() {
			timedOut.Store(true)
			r.logger.Warn("agent timed out, killing process group",
				zap.String("agent_id", spec.AgentID),
				zap.Duration("timeout", spec.Timeout),
			)
			killProcessGroup(cmd)
			spec.Sink.Output(fmt.Sprintf("[timeout] agent exceeded the %s limit and was terminated", spec.Timeout))
		})
		defer timer.Stop()
	}

	var wg sync.WaitGroup
	var tailMu sync.Mutex
	var tail []string
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			tailMu.Lock()
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
			tailMu.Unlock()
		}
	}()

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		stream.Dispatch(sc.Text(), spec.Sink)
	}

	wg.Wait()
	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		exitCode = 1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				exitCode = ws.ExitStatus()
			}
		}
	}

	res := &Result{
		ExitCode:  exitCode,
		Completed: waitErr == nil && !timedOut.Load(),
		TimedOut:  timedOut.Load(),
	}
	tailMu.Lock()
	res.StderrTail = append([]string(nil), tail...)
	tailMu.Unlock()

	r.logger.Info("agent process exited",
		zap.String("task_id", spec.TaskID),
		zap.String("agent_id", spec.AgentID),
		zap.Int("exit_code", exitCode),
		zap.Bool("timed_out", res.TimedOut),
	)
	return res, nil
}

// killProcessGroup force-kills the process and everything it spawned.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

// agentEnv is the parent environment minus CLAUDECODE, which the CLI uses to
// detect nested invocations and must not see here.
func agentEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, entry := range env {
		if strings.HasPrefix(entry, "CLAUDECODE=") {
			continue
		}
		out = append(out, entry)
	}
	return out
}
