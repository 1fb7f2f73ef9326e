package engine

import (
	"errors"
	"sync"
	"time"
)

// Hard limits of the execution engine. These are architectural bounds, not
// tunables; changing them changes the system's resource envelope.
const (
	MaxAgentsPerTask    = 100
	MaxConcurrentTasks  = 5
	AgentTimeout        = 15 * time.Minute
	OrchestratorTimeout = 30 * time.Minute

	// OutputTail is how much output a status snapshot exposes. The full log
	// is kept in memory for the task's lifetime.
	OutputTail = 500

	// AwaitWindow bounds a single result long-poll; MaxWait bounds a
	// wait-for-many call.
	AwaitWindow = 30 * time.Second
	MaxWait     = 900 * time.Second
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentLimit    = errors.New("agent limit reached for task")
	ErrTaskNotActive = errors.New("task is not running")
	ErrAwaitTimeout  = errors.New("agent still running")
)

// Task statuses.
const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Agent statuses.
const (
	AgentPending   = "pending"
	AgentRunning   = "running"
	AgentCompleted = "completed"
	AgentFailed    = "failed"
)

// Signal is a close-once broadcast: any number of waiters, one Set.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set releases all current and future waiters. Idempotent.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns the channel waiters select on.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

type task struct {
	id             string
	prompt         string
	model          string
	workDir        string
	conversationID string
	status         string
	sandboxMode    string
	createdAt      time.Time
	startedAt      time.Time
	completedAt    time.Time

	output        []string
	agentIDs      []string
	filesModified []string
	phases        []PhaseState

	fallbackEngaged bool
	completeOnce    sync.Once
}

// PhaseState is one static-pipeline phase as shown in snapshots.
type PhaseState struct {
	Name    string `json:"phase"`
	Role    string `json:"role"`
	Status  string `json:"status"`
	AgentID string `json:"agent_id,omitempty"`
}

type agent struct {
	id          string
	taskID      string
	role        string
	name        string
	color       string
	icon        string
	model       string
	task        string
	status      string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	output        []string
	filesRead     []string
	filesModified []string
	readSeen      map[string]bool
	modifiedSeen  map[string]bool

	signal *Signal
}

// TaskView is a read-only task snapshot. Output carries the last OutputTail
// lines only.
type TaskView struct {
	ID             string       `json:"id"`
	Prompt         string       `json:"task"`
	Model          string       `json:"model"`
	WorkDir        string       `json:"work_dir"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Status         string       `json:"status"`
	SandboxMode    string       `json:"sandbox_mode,omitempty"`
	Output         []string     `json:"output"`
	AgentIDs       []string     `json:"agent_ids"`
	FilesModified  []string     `json:"files_modified"`
	Phases         []PhaseState `json:"pipeline,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      time.Time    `json:"started_at,omitzero"`
	CompletedAt    time.Time    `json:"completed_at,omitzero"`
}

// AgentView is a read-only agent snapshot with the last OutputTail lines.
type AgentView struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	Role          string    `json:"role"`
	Name          string    `json:"name"`
	Color         string    `json:"color"`
	Icon          string    `json:"icon"`
	Model         string    `json:"model,omitempty"`
	Task          string    `json:"task"`
	Status        string    `json:"status"`
	Output        []string  `json:"output"`
	FilesRead     []string  `json:"files_read"`
	FilesModified []string  `json:"files_modified"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	CompletedAt   time.Time `json:"completed_at,omitzero"`
}

func (t *task) view() TaskView {
	return TaskView{
		ID:             t.id,
		Prompt:         t.prompt,
		Model:          t.model,
		WorkDir:        t.workDir,
		ConversationID: t.conversationID,
		Status:         t.status,
		SandboxMode:    t.sandboxMode,
		Output:         tail(t.output, OutputTail),
		AgentIDs:       append([]string(nil), t.agentIDs...),
		FilesModified:  append([]string(nil), t.filesModified...),
		Phases:         append([]PhaseState(nil), t.phases...),
		CreatedAt:      t.createdAt,
		StartedAt:      t.startedAt,
		CompletedAt:    t.completedAt,
	}
}

func (a *agent) view() AgentView {
	return AgentView{
		ID:            a.id,
		TaskID:        a.taskID,
		Role:          a.role,
		Name:          a.name,
		Color:         a.color,
		Icon:          a.icon,
		Model:         a.model,
		Task:          a.task,
		Status:        a.status,
		Output:        tail(a.output, OutputTail),
		FilesRead:     append([]string(nil), a.filesRead...),
		FilesModified: append([]string(nil), a.filesModified...),
		CreatedAt:     a.createdAt,
		StartedAt:     a.startedAt,
		CompletedAt:   a.completedAt,
	}
}

func terminalAgentStatus(status string) bool {
	return status == AgentCompleted || status == AgentFailed
}

func tail(lines []string, n int) []string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return append([]string(nil), lines...)
}
