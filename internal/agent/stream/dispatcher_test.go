package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	output        []string
	files         [][2]string
	orchestration []string
	results       []string
}

func (s *recordingSink) Output(line string)              { s.output = append(s.output, line) }
func (s *recordingSink) FileActivity(path, action string) { s.files = append(s.files, [2]string{path, action}) }
func (s *recordingSink) Orchestration(line string)       { s.orchestration = append(s.orchestration, line) }
func (s *recordingSink) Result(line string)              { s.results = append(s.results, line) }

func TestDispatchAssistantText(t *testing.T) {
	sink := &recordingSink{}
	Dispatch(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first line\nsecond line\n\n"}]}}`, sink)

	assert.Equal(t, []string{"first line", "second line"}, sink.output)
	assert.Empty(t, sink.files)
}

func TestDispatchToolUseFileActivity(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		path   string
		action string
	}{
		{
			name:   "read",
			line:   `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"/src/main.go"}}]}}`,
			path:   "/src/main.go",
			action: ActionRead,
		},
		{
			name:   "glob uses pattern",
			line:   `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Glob","input":{"pattern":"**/*.go"}}]}}`,
			path:   "**/*.go",
			action: ActionRead,
		},
		{
			name:   "edit",
			line:   `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"config.yaml"}}]}}`,
			path:   "config.yaml",
			action: ActionEdit,
		},
		{
			name:   "write creates",
			line:   `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Write","input":{"file_path":"new.go"}}]}}`,
			path:   "new.go",
			action: ActionCreate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			Dispatch(tt.line, sink)
			assert.Equal(t, [][2]string{{tt.path, tt.action}}, sink.files)
		})
	}
}

func TestDispatchBashIgnored(t *testing.T) {
	sink := &recordingSink{}
	Dispatch(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"rm -rf /tmp/x"}}]}}`, sink)

	assert.Empty(t, sink.files)
	assert.Empty(t, sink.output)
}

func TestDispatchSpawnAgentOrchestration(t *testing.T) {
	sink := &recordingSink{}
	Dispatch(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"mcp__orchestra__spawn_agent","input":{"role":"tester","name":"QA One","task":"run the suite"}}]}}`, sink)

	assert.Len(t, sink.orchestration, 1)
	assert.Contains(t, sink.orchestration[0], "tester")
	assert.Contains(t, sink.orchestration[0], "QA One")
	assert.Empty(t, sink.files)
}

func TestDispatchResultString(t *testing.T) {
	sink := &recordingSink{}
	Dispatch(`{"type":"result","subtype":"success","result":"all done\nfiles written"}`, sink)

	assert.Equal(t, []string{"all done", "files written"}, sink.results)
}

func TestDispatchMalformedLineIsOpaqueOutput(t *testing.T) {
	sink := &recordingSink{}
	Dispatch("not json at all", sink)

	assert.Equal(t, []string{"not json at all"}, sink.output)
}

func TestDispatchSystemMessageIgnored(t *testing.T) {
	sink := &recordingSink{}
	Dispatch(`{"type":"system","subtype":"init","session_id":"abc"}`, sink)

	assert.Empty(t, sink.output)
	assert.Empty(t, sink.results)
}

func TestDispatchEmptyLine(t *testing.T) {
	sink := &recordingSink{}
	Dispatch("   ", sink)
	assert.Empty(t, sink.output)
}
