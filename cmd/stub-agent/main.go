// Package main implements a stub agent binary that speaks the agent CLI's
// stream-json protocol on stdout. Pointing agent.binary at it exercises the
// full engine pipeline (launch, stream dispatch, findings, timeouts) without
// a real model.
//
// It accepts the same flags the engine passes to the real CLI and ignores
// the ones it does not need. The scenario comes from ORCHESTRA_STUB_SCENARIO:
// happy (default), fail, hang, findings, or tools.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/morbidsteve/agent-orchestra/pkg/claudecli"
)

func main() {
	prompt := parseArgs(os.Args[1:])
	scenario := os.Getenv("ORCHESTRA_STUB_SCENARIO")
	if scenario == "" {
		scenario = "happy"
	}

	emit := newEmitter(os.Stdout)
	emit.system()

	switch scenario {
	case "happy":
		emit.text("Analyzing the task: " + truncate(prompt, 80))
		emit.tool(claudecli.ToolRead, map[string]any{"file_path": "/workspace/main.go"})
		emit.tool(claudecli.ToolEdit, map[string]any{"file_path": "/workspace/main.go"})
		emit.text("Changes applied.")
		emit.result("## SUMMARY\nCompleted the task.\n## FILES MODIFIED\n/workspace/main.go", false)

	case "fail":
		emit.text("Attempting the task...")
		emit.result("Could not complete the task: build failed", true)
		os.Exit(1)

	case "hang":
		// Never finishes; exercises the engine's timeout handling.
		for {
			time.Sleep(time.Hour)
		}

	case "findings":
		emit.text("Reviewing the code for security issues.")
		emit.tool(claudecli.ToolGrep, map[string]any{"pattern": "/workspace/auth"})
		emit.result("CRITICAL: hardcoded credentials in /workspace/auth/login.go\n"+
			"HIGH: missing rate limiting on /api/login\n"+
			"## SUMMARY\nSecurity review complete, 2 findings.", false)

	case "tools":
		emit.text("Delegating work to sub-agents.")
		emit.tool(claudecli.ToolSpawnAgentMCP, map[string]any{
			"role": "developer",
			"name": "Builder",
			"task": "implement the feature",
		})
		emit.tool(claudecli.ToolWrite, map[string]any{"file_path": "/workspace/feature.go"})
		emit.result("## SUMMARY\nDelegation complete.", false)

	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", scenario)
		os.Exit(2)
	}
}

// parseArgs extracts the -p/--print prompt and swallows every other flag the
// engine passes.
func parseArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-p" || args[i] == "--print" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
	}
	return ""
}

type emitter struct {
	enc *json.Encoder
}

func newEmitter(out *os.File) *emitter {
	return &emitter{enc: json.NewEncoder(out)}
}

func (e *emitter) write(msg any) {
	if err := e.enc.Encode(msg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write message: %v\n", err)
		os.Exit(1)
	}
}

func (e *emitter) system() {
	e.write(claudecli.CLIMessage{
		Type:      claudecli.MessageTypeSystem,
		Subtype:   "init",
		SessionID: fmt.Sprintf("stub-session-%d", os.Getpid()),
	})
}

func (e *emitter) text(text string) {
	e.write(claudecli.CLIMessage{
		Type: claudecli.MessageTypeAssistant,
		Message: &claudecli.AssistantMessage{
			Role:    "assistant",
			Content: []claudecli.ContentBlock{{Type: claudecli.BlockTypeText, Text: text}},
		},
	})
}

func (e *emitter) tool(name string, input map[string]any) {
	e.write(claudecli.CLIMessage{
		Type: claudecli.MessageTypeAssistant,
		Message: &claudecli.AssistantMessage{
			Role:    "assistant",
			Content: []claudecli.ContentBlock{{Type: claudecli.BlockTypeToolUse, Name: name, Input: input}},
		},
	})
}

func (e *emitter) result(text string, isError bool) {
	raw, _ := json.Marshal(text)
	e.write(claudecli.CLIMessage{
		Type:    claudecli.MessageTypeResult,
		Result:  raw,
		IsError: isError,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
