// Package stream turns the agent CLI's raw stdout lines into engine events.
// Each line is one JSON object (see pkg/claudecli); lines that fail to parse
// are forwarded as opaque output rather than dropped - a malformed line is
// never fatal.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/morbidsteve/agent-orchestra/pkg/claudecli"
)

// File actions derived from tool names.
const (
	ActionRead   = "read"
	ActionEdit   = "edit"
	ActionCreate = "create"
)

// Sink receives the events extracted from one agent's stdout stream. Calls
// arrive in stream order from a single reader goroutine.
type Sink interface {
	// Output delivers one line of agent-visible output.
	Output(line string)

	// FileActivity reports a file touched by a tool call. action is one of
	// ActionRead, ActionEdit, ActionCreate.
	FileActivity(path, action string)

	// Orchestration reports a spawn_agent tool call observed in the stream,
	// for audit output; the actual spawn happens through the sidechannel.
	Orchestration(line string)

	// Result delivers one line of the final result message. Result lines are
	// also output, so implementations typically scan them for findings and
	// forward to Output.
	Result(line string)
}

// Dispatch parses one stdout line and forwards the extracted events to sink.
func Dispatch(line string, sink Sink) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var msg claudecli.CLIMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		sink.Output(line)
		return
	}

	switch msg.Type {
	case claudecli.MessageTypeAssistant:
		dispatchAssistant(&msg, sink)
	case claudecli.MessageTypeResult:
		for _, l := range splitLines(msg.ResultText()) {
			sink.Result(l)
		}
	default:
		// system messages and unknown types carry nothing the engine needs
	}
}

func dispatchAssistant(msg *claudecli.CLIMessage, sink Sink) {
	if msg.Message == nil {
		return
	}
	for _, block := range msg.Message.Content {
		switch block.Type {
		case claudecli.BlockTypeText:
			for _, l := range splitLines(block.Text) {
				sink.Output(l)
			}
		case claudecli.BlockTypeToolUse:
			dispatchToolUse(block, sink)
		}
	}
}

func dispatchToolUse(block claudecli.ContentBlock, sink Sink) {
	if strings.Contains(block.Name, claudecli.ToolSpawnAgent) {
		role, _ := block.Input["role"].(string)
		name, _ := block.Input["name"].(string)
		task, _ := block.Input["task"].(string)
		sink.Orchestration("[Orchestrator] Spawning " + orDefault(role, "agent") + ": " +
			orDefault(name, "unnamed") + " - " + truncate(task, 100))
		return
	}

	action, ok := fileAction(block.Name)
	if !ok {
		return
	}
	path := filePath(block.Input)
	if path == "" {
		return
	}
	sink.FileActivity(path, action)
}

// fileAction maps a tool name to the file action it implies. Bash is skipped:
// the touched files cannot be determined from its input.
func fileAction(toolName string) (string, bool) {
	switch toolName {
	case claudecli.ToolRead, claudecli.ToolGlob, claudecli.ToolGrep:
		return ActionRead, true
	case claudecli.ToolEdit:
		return ActionEdit, true
	case claudecli.ToolWrite:
		return ActionCreate, true
	default:
		return "", false
	}
}

// filePath extracts the target path from a tool input, checking the keys the
// CLI uses in order of specificity.
func filePath(input map[string]any) string {
	for _, key := range []string{"file_path", "path", "pattern"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
