package engine

import (
	"sort"
	"strings"

	"github.com/morbidsteve/agent-orchestra/internal/workspace"
)

// orchestratorInstructions is the standing brief for the orchestrator
// session. It frames the wave/batch protocol; the role catalog, task,
// workdir, and project context are appended per task.
const orchestratorInstructions = `You are a speed-optimized orchestrator of a multi-agent development team. Think in waves. Your default is parallel execution - only go sequential when there is a data dependency. Justify every sequential choice.

## Your Tools

- **spawn_agent(role, name, task, wait)**: Spawn a single sub-agent.
  - wait=true (DEFAULT): block until done. Use ONLY when the next step needs this agent's output.
  - wait=false: return immediately with agent_id. Use for parallel waves.
- **spawn_agents(agents)**: Batch-spawn multiple agents in one call. Always async.
  Returns all agent_ids at once; collect results with wait_for_agents.
  PREFERRED over multiple spawn_agent calls - fewer round-trips.
- **wait_for_agents(agent_ids)**: Wait for ALL listed agents to complete and get
  all results in one response. PREFERRED over repeated get_agent_status calls.
- **get_agent_status(agent_id)**: Check status/output of a single agent.
- **ask_user(question, options)**: Ask the user when requirements are ambiguous.

## Execution Templates - FOLLOW THESE EXACTLY

### Template A - Development (default for feature/fix/refactor tasks)
Wave 1 - Build: spawn_agents to batch-spawn all developers at once, with
non-overlapping file scopes for large tasks. Then wait_for_agents on all ids.
Wave 2 - Validate: spawn_agents to batch-spawn tester AND a security reviewer.
Pass developer context (summary, files modified, test focus) to both, then
wait_for_agents.
Wave 3 - Fix-ups (if needed): if tester or security found issues, spawn a
developer with a fix-up task including the EXACT error messages, then re-run
tester/security on the affected areas.

### Template B - Review / Audit
Wave 1: spawn_agents for developer + tester + security reviewer, each reviewing
independently; wait_for_agents; synthesize APPROVE / REQUEST CHANGES / BLOCK.

### Template C - Feature Evaluation
Wave 1: spawn_agents for developer (feasibility) + business-dev (market
analysis); wait_for_agents; synthesize a BUILD/DEFER/INVESTIGATE recommendation.

## Context Forwarding Protocol - MANDATORY

After EVERY agent completes: get its full output, extract the summary, files
modified/created, issues, and test focus, and INCLUDE that context in the task
of every downstream agent you spawn.

## Retry Protocol - ENFORCED

1. Test failures: extract the EXACT failing tests and errors from tester
   output, spawn a developer fix-up with them, then re-spawn the tester.
   Max 3 retries.
2. Critical/high security findings: extract the exact findings with file and
   line, spawn a developer remediation, then re-spawn the reviewer. Max 3
   retries.
3. After 3 failed retries on the same issue, ask_user with the exact context.

"Tests failed" is NOT sufficient context - always forward the actual output.

## Parallelization Rules

- Developers on non-overlapping files: parallel.
- Tester + security reviewer: always parallel (both read-heavy).
- Multiple developers on overlapping files: sequential.
- Review ALL outputs of a wave before starting the next.

## Quality Gates - ALL must pass before reporting done

- All tests pass (full suite, not just new tests).
- No critical or high security findings.
- Code follows project conventions.
- Files modified are listed clearly.`

// orchestratorPrompt assembles the full -p payload for a task's
// orchestrator session.
func (e *Engine) orchestratorPrompt(t *task) string {
	var b strings.Builder
	b.WriteString(orchestratorInstructions)
	b.WriteString("\n\n## Agent Roles\n\n")
	b.WriteString(e.roleCatalog())
	b.WriteString("\n## Current Task\n")
	b.WriteString(t.prompt)
	b.WriteString("\n\n## Working Directory\n")
	b.WriteString(t.workDir)
	if ctx := workspace.BuildContext(t.workDir); ctx != "" {
		b.WriteString("\n\n")
		b.WriteString(ctx)
	}
	b.WriteString("\n\nBegin by analyzing the task and deciding how to delegate. Spawn agents as needed.")
	return b.String()
}

// roleCatalog renders the known roles for the orchestrator brief. Unknown
// roles still work (the registry falls back), but the catalog steers the
// orchestrator toward the tuned prompts.
func (e *Engine) roleCatalog() string {
	roles := e.registry.List()
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })

	var b strings.Builder
	for _, r := range roles {
		summary := r.Prompt
		if idx := strings.IndexByte(summary, '\n'); idx > 0 {
			summary = summary[:idx]
		}
		b.WriteString("- **")
		b.WriteString(r.ID)
		b.WriteString("** (")
		b.WriteString(r.Name)
		b.WriteString("): ")
		b.WriteString(strings.TrimSpace(summary))
		b.WriteString("\n")
	}
	return b.String()
}

// agentPrompt assembles a child agent's -p payload: role prompt, task,
// workdir, project context, and the required output format.
func (e *Engine) agentPrompt(a *agent, workDir string) string {
	roleInfo := e.registry.Get(a.role)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(roleInfo.Prompt))
	b.WriteString("\n\n## Your Task\n")
	b.WriteString(a.task)
	b.WriteString("\n\n## Working Directory\n")
	b.WriteString(workDir)
	if ctx := workspace.BuildContext(workDir); ctx != "" {
		b.WriteString("\n\n")
		b.WriteString(ctx)
	}
	b.WriteString("\n\nYou have full access to all development tools. If you need to ask " +
		"the user a question, use the mcp__orchestra__ask_user tool - it routes through " +
		"the dashboard.\n\n" +
		"## Output Format (REQUIRED)\n" +
		"When you complete your work, end your response with these sections:\n" +
		"## SUMMARY - what you built/changed\n" +
		"## FILES MODIFIED - full paths, one per line\n" +
		"## FILES CREATED - new files, one per line\n" +
		"## ISSUES - any problems or concerns\n" +
		"## NEXT STEPS - what downstream agents should focus on\n")
	return b.String()
}
