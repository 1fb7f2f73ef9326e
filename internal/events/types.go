// Package events provides event types and utilities for the orchestra event system.
package events

// Event types for tasks
const (
	TaskCreated      = "task.created"
	TaskStateChanged = "task.state_changed"
)

// Event types for agents
const (
	AgentSpawned      = "agent.spawned"
	AgentStateChanged = "agent.state_changed"
)

// Event types for clarification questions
const (
	QuestionCreated  = "question.created"
	QuestionAnswered = "question.answered"
)

// Event types for findings
const (
	FindingRecorded = "finding.recorded"
)

// Event types for screenshots
const (
	ScreenshotCaptured = "screenshot.captured"
)

// BuildTaskCreatedSubject creates a task created subject for a specific task
func BuildTaskCreatedSubject(taskID string) string {
	return TaskCreated + "." + taskID
}

// BuildTaskCreatedWildcardSubject creates a wildcard subscription for all task created events
func BuildTaskCreatedWildcardSubject() string {
	return TaskCreated + ".*"
}

// BuildTaskStateSubject creates a task state change subject for a specific task
func BuildTaskStateSubject(taskID string) string {
	return TaskStateChanged + "." + taskID
}

// BuildTaskStateWildcardSubject creates a wildcard subscription for all task state changes
func BuildTaskStateWildcardSubject() string {
	return TaskStateChanged + ".*"
}

// BuildAgentSpawnedSubject creates an agent spawned subject for a specific task
func BuildAgentSpawnedSubject(taskID string) string {
	return AgentSpawned + "." + taskID
}

// BuildAgentSpawnedWildcardSubject creates a wildcard subscription for all agent spawn events
func BuildAgentSpawnedWildcardSubject() string {
	return AgentSpawned + ".*"
}

// BuildAgentStateSubject creates an agent state change subject for a specific task
func BuildAgentStateSubject(taskID string) string {
	return AgentStateChanged + "." + taskID
}

// BuildAgentStateWildcardSubject creates a wildcard subscription for all agent state changes
func BuildAgentStateWildcardSubject() string {
	return AgentStateChanged + ".*"
}

// BuildQuestionCreatedSubject creates a question created subject for a specific task
func BuildQuestionCreatedSubject(taskID string) string {
	return QuestionCreated + "." + taskID
}

// BuildQuestionCreatedWildcardSubject creates a wildcard subscription for all question created events
func BuildQuestionCreatedWildcardSubject() string {
	return QuestionCreated + ".*"
}

// BuildQuestionAnsweredSubject creates a question answered subject for a specific task
func BuildQuestionAnsweredSubject(taskID string) string {
	return QuestionAnswered + "." + taskID
}

// BuildQuestionAnsweredWildcardSubject creates a wildcard subscription for all question answered events
func BuildQuestionAnsweredWildcardSubject() string {
	return QuestionAnswered + ".*"
}

// BuildFindingSubject creates a finding subject for a specific task
func BuildFindingSubject(taskID string) string {
	return FindingRecorded + "." + taskID
}

// BuildFindingWildcardSubject creates a wildcard subscription for all finding events
func BuildFindingWildcardSubject() string {
	return FindingRecorded + ".*"
}

// BuildScreenshotSubject creates a screenshot subject for a specific task
func BuildScreenshotSubject(taskID string) string {
	return ScreenshotCaptured + "." + taskID
}

// BuildScreenshotWildcardSubject creates a wildcard subscription for all screenshot events
func BuildScreenshotWildcardSubject() string {
	return ScreenshotCaptured + ".*"
}
