// Package engine executes tasks: each task runs one orchestrator agent that
// spawns child agents through the sidechannel. The engine owns the task and
// agent tables, the completion signals, and every frame emitted to the
// stream fabric.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/morbidsteve/agent-orchestra/internal/agent/registry"
	"github.com/morbidsteve/agent-orchestra/internal/agent/runner"
	"github.com/morbidsteve/agent-orchestra/internal/clarification"
	"github.com/morbidsteve/agent-orchestra/internal/common/config"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/common/tracing"
	"github.com/morbidsteve/agent-orchestra/internal/events"
	"github.com/morbidsteve/agent-orchestra/internal/events/bus"
	"github.com/morbidsteve/agent-orchestra/internal/findings"
	"github.com/morbidsteve/agent-orchestra/internal/sandbox"
	"github.com/morbidsteve/agent-orchestra/internal/screenshot"
	"github.com/morbidsteve/agent-orchestra/internal/stream"
	"github.com/morbidsteve/agent-orchestra/internal/workspace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Launcher runs one agent subprocess to completion.
type Launcher interface {
	Launch(ctx context.Context, spec runner.LaunchSpec) (*runner.Result, error)
}

// SandboxResolver decides how subprocesses may run.
type SandboxResolver interface {
	Resolve(ctx context.Context) sandbox.Decision
}

// Engine is the execution core. One mutex guards the task and agent tables;
// nothing suspends while holding it.
type Engine struct {
	cfg         *config.Config
	logger      *logger.Logger
	broker      *stream.Broker
	bus         bus.EventBus
	registry    *registry.Registry
	questions   *clarification.Store
	screenshots *screenshot.Store
	findings    *findings.Store
	launcher    Launcher
	sandbox     SandboxResolver
	tracer      trace.Tracer

	sem *semaphore.Weighted

	mu         sync.Mutex
	nextTaskID int
	nextAgent  int
	tasks      map[string]*task
	agents     map[string]*agent
}

func New(
	cfg *config.Config,
	log *logger.Logger,
	broker *stream.Broker,
	eventBus bus.EventBus,
	reg *registry.Registry,
	questions *clarification.Store,
	screenshots *screenshot.Store,
	findingStore *findings.Store,
	launcher Launcher,
	sandboxResolver SandboxResolver,
) *Engine {
	return &Engine{
		cfg:         cfg,
		logger:      log.WithFields(zap.String("component", "engine")),
		broker:      broker,
		bus:         eventBus,
		registry:    reg,
		questions:   questions,
		screenshots: screenshots,
		findings:    findingStore,
		launcher:    launcher,
		sandbox:     sandboxResolver,
		tracer:      tracing.Tracer("engine"),
		sem:         semaphore.NewWeighted(MaxConcurrentTasks),
		tasks:       make(map[string]*task),
		agents:      make(map[string]*agent),
	}
}

// Questions exposes the pending-question store to the transport layers.
func (e *Engine) Questions() *clarification.Store {
	return e.questions
}

// Screenshots exposes the snapshot store to the glue API.
func (e *Engine) Screenshots() *screenshot.Store {
	return e.screenshots
}

// Findings exposes the finding store to the glue API.
func (e *Engine) Findings() *findings.Store {
	return e.findings
}

// CreateTask registers a task and resolves its working directory. The task
// stays queued until RunTask.
func (e *Engine) CreateTask(prompt, model, requestedDir, conversationID string) (TaskView, error) {
	e.mu.Lock()
	e.nextTaskID++
	id := fmt.Sprintf("task-%d", e.nextTaskID)
	e.mu.Unlock()

	workDir, err := workspace.ResolveWorkDir(e.cfg.Projects.Dir, id, requestedDir)
	if err != nil {
		return TaskView{}, err
	}
	if model == "" {
		model = e.cfg.Agent.DefaultModel
	}

	t := &task{
		id:             id,
		prompt:         prompt,
		model:          model,
		workDir:        workDir,
		conversationID: conversationID,
		status:         TaskQueued,
		createdAt:      time.Now().UTC(),
	}

	e.mu.Lock()
	e.tasks[id] = t
	view := t.view()
	e.mu.Unlock()

	e.publishEvent(events.BuildTaskCreatedSubject(id), events.TaskCreated, map[string]interface{}{
		"task_id": id,
		"task":    prompt,
	})
	e.logger.Info("task created", zap.String("task_id", id), zap.String("work_dir", workDir))
	return view, nil
}

// Task returns a task snapshot.
func (e *Engine) Task(taskID string) (TaskView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return TaskView{}, ErrTaskNotFound
	}
	return t.view(), nil
}

// Tasks lists all tasks, newest first.
func (e *Engine) Tasks() []TaskView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TaskView, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.view())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// RunTask executes a task to its terminal state. Blocks; callers run it in a
// goroutine. At most MaxConcurrentTasks tasks run at once.
func (e *Engine) RunTask(ctx context.Context, taskID string) error {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}

	ctx, span := e.tracer.Start(ctx, "task.run",
		trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire task slot: %w", err)
	}
	defer e.sem.Release(1)

	decision := e.sandbox.Resolve(ctx)
	if decision.Mode == sandbox.ModeBlocked {
		e.taskOutput(t, "[Sandbox] "+decision.Reason, "orchestrator")
		e.taskOutput(t, "[Sandbox] Remedies: "+sandbox.BlockedRemedies, "orchestrator")
		span.SetStatus(codes.Error, "execution blocked: no sandbox available")
		e.completeTask(t, TaskFailed, "execution blocked: no sandbox available")
		return nil
	}

	e.mu.Lock()
	t.status = TaskRunning
	t.sandboxMode = string(decision.Mode)
	t.startedAt = time.Now().UTC()
	e.mu.Unlock()

	e.emitTaskFrame(t, stream.NewPhaseFrame("orchestrator", "running"))
	e.publishEvent(events.BuildTaskStateSubject(t.id), events.TaskStateChanged, map[string]interface{}{
		"task_id": t.id,
		"status":  TaskRunning,
	})

	prompt := e.orchestratorPrompt(t)
	res, err := e.launcher.Launch(ctx, runner.LaunchSpec{
		TaskID:  t.id,
		AgentID: t.id + "-orchestrator",
		Prompt:  prompt,
		Model:   t.model,
		WorkDir: t.workDir,
		Timeout: OrchestratorTimeout,
		Mode:    decision.Mode,
		Tools:   runner.ToolsOrchestrator,
		Sink:    &orchestratorSink{engine: e, task: t},
	})

	failed := err != nil || !res.Completed
	if err != nil {
		e.logger.Error("orchestrator launch failed", zap.String("task_id", t.id), zap.Error(err))
		e.taskOutput(t, "[Orchestrator] launch failed: "+err.Error(), "orchestrator")
	} else if !res.Completed {
		e.logger.Warn("orchestrator exited non-zero",
			zap.String("task_id", t.id),
			zap.Int("exit_code", res.ExitCode),
			zap.Bool("timed_out", res.TimedOut),
		)
	}

	e.mu.Lock()
	spawned := len(t.agentIDs)
	engageFallback := failed && spawned == 0 && !t.fallbackEngaged
	if engageFallback {
		t.fallbackEngaged = true
	}
	e.mu.Unlock()

	status := TaskCompleted
	if failed {
		status = TaskFailed
	}

	// The orchestrator never made progress: run the static pipeline once and
	// let its verdict stand.
	if engageFallback {
		e.taskOutput(t, "[Orchestrator] no agents were spawned, engaging the static pipeline", "orchestrator")
		status = e.runFallback(ctx, t, decision.Mode)
	}

	span.SetAttributes(attribute.String("task.status", status))
	if status == TaskFailed {
		span.SetStatus(codes.Error, status)
	}
	e.completeTask(t, status, "")
	return nil
}

// completeTask writes the terminal status and emits the complete frame
// exactly once, regardless of how many paths race to finish the task.
func (e *Engine) completeTask(t *task, status, message string) {
	t.completeOnce.Do(func() {
		e.mu.Lock()
		t.status = status
		t.completedAt = time.Now().UTC()
		files := make(map[string]bool)
		for _, id := range t.agentIDs {
			if a, ok := e.agents[id]; ok {
				for _, f := range a.filesModified {
					files[f] = true
				}
			}
		}
		t.filesModified = t.filesModified[:0]
		for f := range files {
			t.filesModified = append(t.filesModified, f)
		}
		filesModified := append([]string(nil), t.filesModified...)
		e.mu.Unlock()

		e.questions.CancelTask(t.id)
		e.emitTaskFrame(t, stream.NewCompleteFrame(status, filesModified, message))
		e.publishEvent(events.BuildTaskStateSubject(t.id), events.TaskStateChanged, map[string]interface{}{
			"task_id": t.id,
			"status":  status,
			"message": message,
		})
		e.logger.Info("task finished",
			zap.String("task_id", t.id),
			zap.String("status", status),
			zap.Int("files_modified", len(filesModified)),
		)
	})
}

// AskQuestion registers a pending question and shows it on the task stream.
func (e *Engine) AskQuestion(taskID, agentID, prompt string, options []string) (clarification.View, error) {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return clarification.View{}, ErrTaskNotFound
	}

	q, err := e.questions.Create(taskID, agentID, prompt, options)
	if err != nil {
		return clarification.View{}, err
	}

	e.emitTaskFrame(t, stream.NewClarificationFrame(q.ID, q.Prompt, q.Options))
	e.publishEvent(events.BuildQuestionCreatedSubject(taskID), events.QuestionCreated, map[string]interface{}{
		"task_id":     taskID,
		"question_id": q.ID,
	})
	return q, nil
}

// AnswerQuestion records the user's answer. First answer wins.
func (e *Engine) AnswerQuestion(questionID, answer string) error {
	q, ok := e.questions.Get(questionID)
	if !ok {
		return clarification.ErrNotFound
	}
	if err := e.questions.Answer(questionID, answer); err != nil {
		return err
	}
	e.publishEvent(events.BuildQuestionAnsweredSubject(q.TaskID), events.QuestionAnswered, map[string]interface{}{
		"task_id":     q.TaskID,
		"question_id": questionID,
	})
	return nil
}

// Snapshot assembles the execution-snapshot frame sent to new task-stream
// subscribers: task state, agents, findings, and open questions.
func (e *Engine) Snapshot(taskID string) (stream.ExecutionSnapshotFrame, error) {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return stream.ExecutionSnapshotFrame{}, ErrTaskNotFound
	}
	taskView := t.view()
	agentViews := make([]any, 0, len(t.agentIDs))
	for _, id := range t.agentIDs {
		if a, ok := e.agents[id]; ok {
			agentViews = append(agentViews, a.view())
		}
	}
	e.mu.Unlock()

	findingViews := make([]any, 0)
	for _, f := range e.findings.ListByTask(taskID) {
		findingViews = append(findingViews, f)
	}
	questionViews := make([]any, 0)
	for _, q := range e.questions.Unanswered(taskID) {
		questionViews = append(questionViews, q)
	}

	return stream.ExecutionSnapshotFrame{
		Type:      stream.FrameExecutionSnapshot,
		Task:      taskView,
		Agents:    agentViews,
		Findings:  findingViews,
		Questions: questionViews,
	}, nil
}

// taskOutput appends one orchestrator-level output line and emits it.
func (e *Engine) taskOutput(t *task, line, phase string) {
	e.mu.Lock()
	t.output = append(t.output, line)
	e.mu.Unlock()
	e.emitTaskFrame(t, stream.NewOutputFrame(line, phase))
}

// emitTaskFrame publishes to the task stream and mirrors to the linked
// conversation stream.
func (e *Engine) emitTaskFrame(t *task, frame any) {
	e.broker.Publish(stream.TaskStream(t.id), frame)
	if t.conversationID != "" {
		e.broker.Publish(stream.ConversationStream(t.conversationID), frame)
	}
}

func (e *Engine) publishEvent(subject, eventType string, data map[string]interface{}) {
	event := bus.NewEvent(eventType, "engine", data)
	if err := e.bus.Publish(context.Background(), subject, event); err != nil {
		e.logger.Warn("failed to publish audit event", zap.String("subject", subject), zap.Error(err))
	}
}
