package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIURL:  srv.URL,
		TaskID:  "task-1",
		AgentID: "agent-orch",
		Token:   "tok",
	})
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestCreateQuestionSendsTokenAndIdentity(t *testing.T) {
	var gotToken string
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/question", r.URL.Path)
		gotToken = r.Header.Get("X-Orchestra-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "q-1"})
	}))

	id, err := c.CreateQuestion(context.Background(), "Which port?", []string{"8080", "3000"})
	require.NoError(t, err)
	assert.Equal(t, "q-1", id)
	assert.Equal(t, "tok", gotToken)
	assert.Equal(t, "task-1", gotBody["task_id"])
	assert.Equal(t, "agent-orch", gotBody["agent_id"])
}

func TestPollAnswerStates(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusNoContent)
		case 2:
			_ = json.NewEncoder(w).Encode(map[string]string{"answer": "8080"})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "question not found"})
		}
	}))

	_, ok, err := c.PollAnswer(context.Background(), "q-1")
	require.NoError(t, err)
	assert.False(t, ok)

	answer, ok, err := c.PollAnswer(context.Background(), "q-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "8080", answer)

	_, _, err = c.PollAnswer(context.Background(), "q-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question not found")
}

func TestAskUserToolDeliversAnswer(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/question":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "q-1"})
		case "/internal/question/q-1/answer":
			_ = json.NewEncoder(w).Encode(map[string]string{"answer": "use sqlite"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	handler := askUserHandler(c, testLogger(t))
	res, err := handler(context.Background(), callReq(map[string]any{
		"question": "Which database?",
		"options":  []any{"sqlite", "postgres"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "use sqlite", text.Text)
}

func TestSpawnAgentToolAsyncReturnsID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/spawn-agent", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(AgentInfo{ID: "agent-7", Name: "Developer", Role: "developer", Status: "pending"})
	}))

	handler := spawnAgentHandler(c, testLogger(t))
	res, err := handler(context.Background(), callReq(map[string]any{
		"role": "developer",
		"task": "build the login page",
		"wait": false,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := res.Content[0].(mcp.TextContent).Text
	assert.Contains(t, text, "agent-7")
	assert.Contains(t, text, "wait_for_agents")
}

// Omitting wait blocks for the result; async spawning is the opt-out.
func TestSpawnAgentToolWaitsByDefault(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/spawn-agent":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(AgentInfo{ID: "agent-9", Name: "Developer", Role: "developer"})
		case "/internal/agent/agent-9/result":
			_ = json.NewEncoder(w).Encode(AgentInfo{
				ID: "agent-9", Name: "Developer", Role: "developer", Status: "completed",
				Output: []string{"done"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	handler := spawnAgentHandler(c, testLogger(t))
	res, err := handler(context.Background(), callReq(map[string]any{
		"role": "developer",
		"task": "build it",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := res.Content[0].(mcp.TextContent).Text
	assert.Contains(t, text, "Status: completed")
	assert.NotContains(t, text, "wait_for_agents")
}

func TestSpawnAgentToolWaitPollsResult(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/spawn-agent":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(AgentInfo{ID: "agent-7", Name: "Developer", Role: "developer"})
		case "/internal/agent/agent-7/result":
			if polls.Add(1) == 1 {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_ = json.NewEncoder(w).Encode(AgentInfo{
				ID: "agent-7", Name: "Developer", Role: "developer", Status: "completed",
				Output:        []string{"## SUMMARY", "built it"},
				FilesModified: []string{"/src/login.go"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	handler := spawnAgentHandler(c, testLogger(t))
	res, err := handler(context.Background(), callReq(map[string]any{
		"role": "developer",
		"task": "build it",
		"wait": true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := res.Content[0].(mcp.TextContent).Text
	assert.Contains(t, text, "Status: completed")
	assert.Contains(t, text, "/src/login.go")
	assert.Contains(t, text, "built it")
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestWaitForAgentsToolCapsTimeout(t *testing.T) {
	var gotTimeout float64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotTimeout = body["timeout_seconds"].(float64)
		_ = json.NewEncoder(w).Encode(map[string]any{"agents": []AgentInfo{
			{ID: "agent-1", Status: "completed"},
			{ID: "agent-2", Status: "failed"},
		}})
	}))

	handler := waitForAgentsHandler(c, testLogger(t))
	res, err := handler(context.Background(), callReq(map[string]any{
		"agent_ids":       []any{"agent-1", "agent-2"},
		"timeout_seconds": 5000,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, float64(maxWaitSeconds), gotTimeout)

	text := res.Content[0].(mcp.TextContent).Text
	assert.Contains(t, text, "agent-1")
	assert.Contains(t, text, "agent-2")
}

func TestSpawnAgentsToolPartialFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":  "agent limit reached for task",
			"agents": []AgentInfo{{ID: "agent-1", Name: "Developer", Role: "developer"}},
		})
	}))

	handler := spawnAgentsHandler(c, testLogger(t))
	res, err := handler(context.Background(), callReq(map[string]any{
		"agents": []any{
			map[string]any{"role": "developer", "task": "a"},
			map[string]any{"role": "tester", "task": "b"},
		},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
