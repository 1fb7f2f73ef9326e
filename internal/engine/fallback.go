package engine

import (
	"context"

	"github.com/morbidsteve/agent-orchestra/internal/agent/registry"
	"github.com/morbidsteve/agent-orchestra/internal/sandbox"
	"github.com/morbidsteve/agent-orchestra/internal/stream"
	"go.uber.org/zap"
)

// phaseSpec binds a pipeline phase to the role that runs it.
type phaseSpec struct {
	name string
	role string
}

// fallbackWaves is the static pipeline: plan, then parallel build, then
// parallel validate, then report. Engaged only when the orchestrator failed
// without spawning a single agent.
var fallbackWaves = [][]phaseSpec{
	{{name: "plan", role: "developer"}},
	{{name: "develop", role: "developer"}, {name: "develop-2", role: "developer-2"}},
	{{name: "test", role: "tester"}, {name: "security", role: "devsecops"}},
	{{name: "report", role: "developer"}},
}

// runFallback executes the static pipeline and returns the task's terminal
// status: completed iff no phase failed. Phases reuse the dynamic scheduler,
// so agents, frames, findings, and screenshots flow exactly as they do for
// orchestrated agents.
func (e *Engine) runFallback(ctx context.Context, t *task, mode sandbox.Mode) string {
	e.mu.Lock()
	t.phases = t.phases[:0]
	for _, wave := range fallbackWaves {
		for _, p := range wave {
			t.phases = append(t.phases, PhaseState{Name: p.name, Role: p.role, Status: "pending"})
		}
	}
	e.mu.Unlock()

	anyFailed := false
	for _, wave := range fallbackWaves {
		ids := make([]string, 0, len(wave))
		for _, p := range wave {
			e.setPhase(t, p.name, "running", "")
			e.emitTaskFrame(t, stream.NewPhaseFrame(p.name, "running"))

			prompt := registry.PhasePrelude(p.name) + "\n\n" + t.prompt
			view, err := e.SpawnAgent(ctx, t.id, p.role, "", prompt, t.model)
			if err != nil {
				e.logger.Error("fallback spawn failed",
					zap.String("task_id", t.id),
					zap.String("phase", p.name),
					zap.Error(err),
				)
				e.setPhase(t, p.name, "failed", "")
				e.emitTaskFrame(t, stream.NewPhaseFrame(p.name, "failed"))
				anyFailed = true
				continue
			}
			e.setPhase(t, p.name, "running", view.ID)
			ids = append(ids, view.ID)
		}

		results := e.AwaitAgents(ctx, ids, MaxWait)
		for i, res := range results {
			phase := wave[i].name
			if len(results) != len(wave) {
				// A spawn failed above; map by agent id instead.
				phase = e.phaseForAgent(t, res.ID)
			}
			status := "completed"
			if res.Status != AgentCompleted {
				status = "failed"
				anyFailed = true
			}
			e.setPhase(t, phase, status, res.ID)
			e.emitTaskFrame(t, stream.NewPhaseFrame(phase, status))

			snap := e.screenshots.Capture(t.id, phase+" phase "+status, res.Output)
			e.emitTaskFrame(t, stream.NewScreenshotFrame(snap))
		}
	}

	if anyFailed {
		return TaskFailed
	}
	return TaskCompleted
}

func (e *Engine) setPhase(t *task, name, status, agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range t.phases {
		if t.phases[i].Name == name {
			t.phases[i].Status = status
			if agentID != "" {
				t.phases[i].AgentID = agentID
			}
			return
		}
	}
}

func (e *Engine) phaseForAgent(t *task, agentID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range t.phases {
		if p.AgentID == agentID {
			return p.Name
		}
	}
	return ""
}
