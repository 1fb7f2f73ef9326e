package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/morbidsteve/agent-orchestra/internal/agent/runner"
	agentstream "github.com/morbidsteve/agent-orchestra/internal/agent/stream"
	"github.com/morbidsteve/agent-orchestra/internal/events"
	"github.com/morbidsteve/agent-orchestra/internal/findings"
	"github.com/morbidsteve/agent-orchestra/internal/sandbox"
	"github.com/morbidsteve/agent-orchestra/internal/stream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SpawnAgent registers a child agent on a running task and launches it
// asynchronously. Returns the agent snapshot immediately; completion is
// observed through AwaitAgent or the stream.
//
// The per-task cap is enforced before any mutation: a rejected spawn leaves
// no trace in the tables.
func (e *Engine) SpawnAgent(ctx context.Context, taskID, role, name, taskDesc, model string) (AgentView, error) {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return AgentView{}, ErrTaskNotFound
	}
	if t.status != TaskRunning {
		e.mu.Unlock()
		return AgentView{}, ErrTaskNotActive
	}
	if len(t.agentIDs) >= MaxAgentsPerTask {
		e.mu.Unlock()
		return AgentView{}, ErrAgentLimit
	}

	roleInfo := e.registry.Get(role)
	if name == "" {
		name = roleInfo.Name
	}
	if model == "" {
		model = roleInfo.Model
	}
	if model == "" {
		model = t.model
	}

	e.nextAgent++
	a := &agent{
		id:           fmt.Sprintf("agent-%d", e.nextAgent),
		taskID:       taskID,
		role:         role,
		name:         name,
		color:        roleInfo.Color,
		icon:         roleInfo.Icon,
		model:        model,
		task:         taskDesc,
		status:       AgentPending,
		createdAt:    time.Now().UTC(),
		readSeen:     make(map[string]bool),
		modifiedSeen: make(map[string]bool),
		signal:       NewSignal(),
	}
	e.agents[a.id] = a
	t.agentIDs = append(t.agentIDs, a.id)
	mode := sandbox.Mode(t.sandboxMode)
	workDir := t.workDir
	view := a.view()
	e.mu.Unlock()

	e.emitTaskFrame(t, stream.NewAgentSpawnFrame(view))
	e.publishEvent(events.BuildAgentSpawnedSubject(taskID), events.AgentSpawned, map[string]interface{}{
		"task_id":  taskID,
		"agent_id": a.id,
		"role":     role,
		"name":     name,
	})
	e.logger.Info("agent spawned",
		zap.String("task_id", taskID),
		zap.String("agent_id", a.id),
		zap.String("role", role),
	)

	// The spawn request's context ends with its HTTP response; the agent's
	// subprocess must not die with it.
	go e.launchAgent(context.WithoutCancel(ctx), t, a, mode, workDir)
	return view, nil
}

// launchAgent drives one child agent to its terminal state. Ordering at the
// end is load-bearing: terminal status and timestamp are written first, then
// the agent-complete frame, and the completion signal is set last so every
// released waiter observes a terminal snapshot.
func (e *Engine) launchAgent(ctx context.Context, t *task, a *agent, mode sandbox.Mode, workDir string) {
	ctx, span := e.tracer.Start(ctx, "agent.launch", trace.WithAttributes(
		attribute.String("task.id", t.id),
		attribute.String("agent.id", a.id),
		attribute.String("agent.role", a.role),
	))
	defer span.End()

	e.mu.Lock()
	a.status = AgentRunning
	a.startedAt = time.Now().UTC()
	e.mu.Unlock()

	starting := fmt.Sprintf("[%s] Starting: %s", a.name, truncateLine(a.task, 100))
	e.agentOutput(t, a, starting)

	prompt := e.agentPrompt(a, workDir)
	res, err := e.launcher.Launch(ctx, runner.LaunchSpec{
		TaskID:  t.id,
		AgentID: a.id,
		Prompt:  prompt,
		Model:   a.model,
		WorkDir: workDir,
		Timeout: AgentTimeout,
		Mode:    mode,
		Tools:   runner.ToolsAgent,
		Sink:    &agentSink{engine: e, task: t, agent: a},
	})

	status := AgentCompleted
	switch {
	case err != nil:
		status = AgentFailed
		e.agentOutput(t, a, "[Error] "+err.Error())
	case !res.Completed:
		status = AgentFailed
		if res.TimedOut {
			e.agentOutput(t, a, fmt.Sprintf("[%s timed out after %s]", a.name, AgentTimeout))
		}
	}

	span.SetAttributes(attribute.String("agent.status", status))
	if status == AgentFailed {
		span.SetStatus(codes.Error, status)
	}

	e.mu.Lock()
	a.status = status
	a.completedAt = time.Now().UTC()
	filesModified := append([]string(nil), a.filesModified...)
	outputCopy := append([]string(nil), a.output...)
	e.mu.Unlock()

	snap := e.screenshots.Capture(t.id, a.name+" complete", outputCopy)
	e.emitTaskFrame(t, stream.NewScreenshotFrame(snap))
	e.emitTaskFrame(t, stream.NewAgentCompleteFrame(a.id, status, filesModified))
	e.publishEvent(events.BuildAgentStateSubject(t.id), events.AgentStateChanged, map[string]interface{}{
		"task_id":  t.id,
		"agent_id": a.id,
		"status":   status,
	})

	a.signal.Set()

	e.logger.Info("agent finished",
		zap.String("task_id", t.id),
		zap.String("agent_id", a.id),
		zap.String("status", status),
	)
}

// Agent returns an agent snapshot.
func (e *Engine) Agent(agentID string) (AgentView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[agentID]
	if !ok {
		return AgentView{}, ErrAgentNotFound
	}
	return a.view(), nil
}

// AwaitAgent waits up to AwaitWindow for the agent to reach a terminal
// state. A terminal agent returns immediately; a still-running agent returns
// ErrAwaitTimeout with its live snapshot so callers can long-poll.
func (e *Engine) AwaitAgent(ctx context.Context, agentID string) (AgentView, error) {
	e.mu.Lock()
	a, ok := e.agents[agentID]
	if !ok {
		e.mu.Unlock()
		return AgentView{}, ErrAgentNotFound
	}
	if terminalAgentStatus(a.status) {
		view := a.view()
		e.mu.Unlock()
		return view, nil
	}
	signal := a.signal
	e.mu.Unlock()

	timer := time.NewTimer(AwaitWindow)
	defer timer.Stop()

	select {
	case <-signal.Done():
		return e.Agent(agentID)
	case <-timer.C:
		view, err := e.Agent(agentID)
		if err != nil {
			return AgentView{}, err
		}
		return view, ErrAwaitTimeout
	case <-ctx.Done():
		return AgentView{}, ctx.Err()
	}
}

// AwaitAgents waits for all listed agents against one shared deadline capped
// at MaxWait. Unknown ids are skipped. Results come back in input order;
// agents still running at the deadline yield their live snapshots.
func (e *Engine) AwaitAgents(ctx context.Context, agentIDs []string, timeout time.Duration) []AgentView {
	if timeout <= 0 || timeout > MaxWait {
		timeout = MaxWait
	}
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type slot struct {
		id string
		ok bool
	}
	slots := make([]slot, 0, len(agentIDs))
	e.mu.Lock()
	for _, id := range agentIDs {
		_, known := e.agents[id]
		slots = append(slots, slot{id: id, ok: known})
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(deadline)
	for _, s := range slots {
		if !s.ok {
			continue
		}
		id := s.id
		g.Go(func() error {
			e.mu.Lock()
			a := e.agents[id]
			signal := a.signal
			terminal := terminalAgentStatus(a.status)
			e.mu.Unlock()
			if terminal {
				return nil
			}
			select {
			case <-signal.Done():
			case <-gctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]AgentView, 0, len(slots))
	e.mu.Lock()
	for _, s := range slots {
		if !s.ok {
			continue
		}
		out = append(out, e.agents[s.id].view())
	}
	e.mu.Unlock()
	return out
}

// agentOutput appends a line to the agent log and emits the agent-output
// frame.
func (e *Engine) agentOutput(t *task, a *agent, line string) {
	e.mu.Lock()
	a.output = append(a.output, line)
	e.mu.Unlock()
	e.emitTaskFrame(t, stream.NewAgentOutputFrame(a.id, line))
}

// trackFileActivity dedupes per agent and emits a file-activity frame for
// new paths only.
func (e *Engine) trackFileActivity(t *task, a *agent, path, action string) {
	e.mu.Lock()
	var fresh bool
	if action == agentstream.ActionRead {
		if !a.readSeen[path] {
			a.readSeen[path] = true
			a.filesRead = append(a.filesRead, path)
			fresh = true
		}
	} else {
		if !a.modifiedSeen[path] {
			a.modifiedSeen[path] = true
			a.filesModified = append(a.filesModified, path)
			fresh = true
		}
	}
	name := a.name
	e.mu.Unlock()

	if fresh {
		e.emitTaskFrame(t, stream.NewFileActivityFrame(path, action, a.id, name))
	}
}

// recordFinding parses one result line for a finding and records it.
func (e *Engine) recordFinding(t *task, line, agentRole string) {
	f := findings.ParseLine(line, t.id, agentRole)
	if f == nil {
		return
	}
	e.findings.Record(f)
	e.emitTaskFrame(t, stream.NewFindingFrame(*f))
	e.publishEvent(events.BuildFindingSubject(t.id), events.FindingRecorded, map[string]interface{}{
		"task_id":    t.id,
		"finding_id": f.ID,
		"severity":   f.Severity,
	})
}

// agentSink routes one child agent's stream events into the engine.
type agentSink struct {
	engine *Engine
	task   *task
	agent  *agent
}

func (s *agentSink) Output(line string) {
	s.engine.agentOutput(s.task, s.agent, line)
}

func (s *agentSink) FileActivity(path, action string) {
	s.engine.trackFileActivity(s.task, s.agent, path, action)
}

func (s *agentSink) Orchestration(line string) {
	// Child agents have no spawn tools; an orchestration line here is just
	// output.
	s.engine.agentOutput(s.task, s.agent, line)
}

func (s *agentSink) Result(line string) {
	s.engine.agentOutput(s.task, s.agent, line)
	s.engine.recordFinding(s.task, line, s.agent.role)
}

// orchestratorSink routes the orchestrator's stream events. File activity is
// ignored: the orchestrator delegates, it does not edit.
type orchestratorSink struct {
	engine *Engine
	task   *task
}

func (s *orchestratorSink) Output(line string) {
	s.engine.taskOutput(s.task, line, "orchestrator")
}

func (s *orchestratorSink) FileActivity(string, string) {}

func (s *orchestratorSink) Orchestration(line string) {
	s.engine.taskOutput(s.task, line, "orchestrator")
}

func (s *orchestratorSink) Result(line string) {
	s.engine.taskOutput(s.task, line, "orchestrator")
	s.engine.recordFinding(s.task, line, "orchestrator")
}

func truncateLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
