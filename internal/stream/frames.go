package stream

import "time"

// Frame type discriminators. Every frame sent over a stream carries one of
// these in its "type" field.
const (
	FrameOutput             = "output"
	FramePhase              = "phase"
	FrameFinding            = "finding"
	FrameAgentSpawn         = "agent-spawn"
	FrameAgentOutput        = "agent-output"
	FrameAgentComplete      = "agent-complete"
	FrameFileActivity       = "file-activity"
	FrameClarification      = "clarification"
	FrameScreenshot         = "screenshot"
	FrameComplete           = "complete"
	FrameExecutionSnapshot  = "execution-snapshot"
	FrameConsoleText        = "console-text"
	FrameConversationUpdate = "conversation-update"
)

// TaskStream returns the stream id for a task.
func TaskStream(taskID string) string { return "task/" + taskID }

// ConversationStream returns the stream id for a console conversation.
func ConversationStream(convID string) string { return "conversation/" + convID }

// OutputFrame is a single line of top-level (orchestrator or phase) output.
type OutputFrame struct {
	Type  string `json:"type"`
	Line  string `json:"line"`
	Phase string `json:"phase,omitempty"`
}

// NewOutputFrame builds an output frame for a line produced during phase.
func NewOutputFrame(line, phase string) OutputFrame {
	return OutputFrame{Type: FrameOutput, Line: line, Phase: phase}
}

// PhaseFrame announces a pipeline phase status change.
type PhaseFrame struct {
	Type   string `json:"type"`
	Phase  string `json:"phase"`
	Status string `json:"status"`
}

func NewPhaseFrame(phase, status string) PhaseFrame {
	return PhaseFrame{Type: FramePhase, Phase: phase, Status: status}
}

// FindingFrame carries one structured finding extracted from agent output.
type FindingFrame struct {
	Type    string `json:"type"`
	Finding any    `json:"finding"`
}

func NewFindingFrame(finding any) FindingFrame {
	return FindingFrame{Type: FrameFinding, Finding: finding}
}

// AgentSpawnFrame announces a newly created dynamic agent.
type AgentSpawnFrame struct {
	Type  string `json:"type"`
	Agent any    `json:"agent"`
}

func NewAgentSpawnFrame(agent any) AgentSpawnFrame {
	return AgentSpawnFrame{Type: FrameAgentSpawn, Agent: agent}
}

// AgentOutputFrame is a single output line attributed to a dynamic agent.
type AgentOutputFrame struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	Line    string `json:"line"`
}

func NewAgentOutputFrame(agentID, line string) AgentOutputFrame {
	return AgentOutputFrame{Type: FrameAgentOutput, AgentID: agentID, Line: line}
}

// AgentCompleteFrame announces a dynamic agent reaching a terminal status.
type AgentCompleteFrame struct {
	Type          string   `json:"type"`
	AgentID       string   `json:"agentId"`
	Status        string   `json:"status"`
	FilesModified []string `json:"filesModified"`
}

func NewAgentCompleteFrame(agentID, status string, filesModified []string) AgentCompleteFrame {
	if filesModified == nil {
		filesModified = []string{}
	}
	return AgentCompleteFrame{Type: FrameAgentComplete, AgentID: agentID, Status: status, FilesModified: filesModified}
}

// FileActivityFrame records one file touched by an agent tool call.
type FileActivityFrame struct {
	Type      string    `json:"type"`
	File      string    `json:"file"`
	Action    string    `json:"action"` // read, edit, create
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Timestamp time.Time `json:"timestamp"`
}

func NewFileActivityFrame(file, action, agentID, agentName string) FileActivityFrame {
	return FileActivityFrame{
		Type:      FrameFileActivity,
		File:      file,
		Action:    action,
		AgentID:   agentID,
		AgentName: agentName,
		Timestamp: time.Now().UTC(),
	}
}

// ClarificationFrame surfaces a pending question to subscribers.
type ClarificationFrame struct {
	Type       string   `json:"type"`
	QuestionID string   `json:"questionId"`
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Required   bool     `json:"required"`
}

func NewClarificationFrame(questionID, question string, options []string) ClarificationFrame {
	if options == nil {
		options = []string{}
	}
	return ClarificationFrame{
		Type:       FrameClarification,
		QuestionID: questionID,
		Question:   question,
		Options:    options,
		Required:   true,
	}
}

// ScreenshotFrame carries a terminal snapshot.
type ScreenshotFrame struct {
	Type       string `json:"type"`
	Screenshot any    `json:"screenshot"`
}

func NewScreenshotFrame(screenshot any) ScreenshotFrame {
	return ScreenshotFrame{Type: FrameScreenshot, Screenshot: screenshot}
}

// CompleteFrame is the terminal frame for a task. Published exactly once.
type CompleteFrame struct {
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	FilesModified []string `json:"filesModified,omitempty"`
	Message       string   `json:"message,omitempty"`
}

func NewCompleteFrame(status string, filesModified []string, message string) CompleteFrame {
	return CompleteFrame{Type: FrameComplete, Status: status, FilesModified: filesModified, Message: message}
}

// ExecutionSnapshotFrame hydrates a late subscriber with current task state.
type ExecutionSnapshotFrame struct {
	Type      string `json:"type"`
	Task      any    `json:"task"`
	Agents    []any  `json:"agents"`
	Findings  []any  `json:"findings"`
	Questions []any  `json:"questions"`
}

// ConsoleTextFrame forwards a task output line to a console conversation.
type ConsoleTextFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

func NewConsoleTextFrame(text, messageID string) ConsoleTextFrame {
	return ConsoleTextFrame{Type: FrameConsoleText, Text: text, MessageID: messageID}
}

// ConversationUpdateFrame announces a new message appended to a conversation.
type ConversationUpdateFrame struct {
	Type    string `json:"type"`
	Message any    `json:"message"`
}

func NewConversationUpdateFrame(message any) ConversationUpdateFrame {
	return ConversationUpdateFrame{Type: FrameConversationUpdate, Message: message}
}
