package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/conversation"
	"github.com/morbidsteve/agent-orchestra/internal/engine"
	"github.com/morbidsteve/agent-orchestra/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu        sync.Mutex
	tasks     map[string]engine.TaskView
	created   []string
	ran       []string
	answered  map[string]string
	snapshots int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		tasks:    make(map[string]engine.TaskView),
		answered: make(map[string]string),
	}
}

func (f *fakeEngine) Task(taskID string) (engine.TaskView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return engine.TaskView{}, engine.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeEngine) CreateTask(prompt, model, requestedDir, conversationID string) (engine.TaskView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "task-1"
	f.created = append(f.created, prompt)
	view := engine.TaskView{ID: id, Prompt: prompt, ConversationID: conversationID, Status: engine.TaskQueued}
	f.tasks[id] = view
	return view, nil
}

func (f *fakeEngine) RunTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, taskID)
	return nil
}

func (f *fakeEngine) AnswerQuestion(questionID, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered[questionID] = answer
	return nil
}

func (f *fakeEngine) Snapshot(taskID string) (stream.ExecutionSnapshotFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return stream.ExecutionSnapshotFrame{Type: stream.FrameExecutionSnapshot, Task: f.tasks[taskID]}, nil
}

type fixture struct {
	engine *fakeEngine
	broker *stream.Broker
	convs  *conversation.Store
	server *httptest.Server
}

func newFixture(t *testing.T, origins []string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	f := &fixture{
		engine: newFakeEngine(),
		broker: stream.NewBroker(log),
		convs:  conversation.NewStore(),
	}
	router := gin.New()
	NewGateway(f.engine, f.broker, f.convs, origins, log).RegisterRoutes(router)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + path
}

func dial(t *testing.T, url string, headers http.Header) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(url, headers)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrames splits one websocket message into its newline-batched frames.
func readFrames(t *testing.T, conn *gorillaws.Conn) []map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var out []map[string]any
	for _, line := range strings.Split(string(raw), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestTaskStreamReplayThenSnapshotThenLive(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.tasks["task-1"] = engine.TaskView{ID: "task-1", Status: engine.TaskRunning}

	streamID := stream.TaskStream("task-1")
	f.broker.Publish(streamID, stream.NewOutputFrame("line one", "orchestrator"))
	f.broker.Publish(streamID, stream.NewOutputFrame("line two", "orchestrator"))

	conn := dial(t, f.wsURL("/ws/task/task-1"), nil)

	var frames []map[string]any
	for len(frames) < 3 {
		frames = append(frames, readFrames(t, conn)...)
	}
	assert.Equal(t, stream.FrameOutput, frames[0]["type"])
	assert.Equal(t, "line one", frames[0]["line"])
	assert.Equal(t, "line two", frames[1]["line"])
	assert.Equal(t, stream.FrameExecutionSnapshot, frames[2]["type"])

	f.broker.Publish(streamID, stream.NewOutputFrame("live line", "orchestrator"))
	live := readFrames(t, conn)
	require.NotEmpty(t, live)
	assert.Equal(t, "live line", live[0]["line"])
}

func TestTaskStreamUnknownTask(t *testing.T) {
	f := newFixture(t, nil)
	_, resp, err := gorillaws.DefaultDialer.Dial(f.wsURL("/ws/task/nope"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOriginRejectedClosesWith4003(t *testing.T) {
	f := newFixture(t, []string{"http://localhost:3000"})
	f.engine.tasks["task-1"] = engine.TaskView{ID: "task-1"}

	headers := http.Header{"Origin": []string{"http://evil.example"}}
	conn, _, err := gorillaws.DefaultDialer.Dial(f.wsURL("/ws/task/task-1"), headers)
	require.NoError(t, err, "rejection happens after the upgrade")
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *gorillaws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseOriginRejected, closeErr.Code)
}

func TestAllowedOriginConnects(t *testing.T) {
	f := newFixture(t, []string{"http://localhost:3000"})
	f.engine.tasks["task-1"] = engine.TaskView{ID: "task-1"}

	headers := http.Header{"Origin": []string{"http://localhost:3000"}}
	conn := dial(t, f.wsURL("/ws/task/task-1"), headers)
	frames := readFrames(t, conn)
	require.NotEmpty(t, frames)
	assert.Equal(t, stream.FrameExecutionSnapshot, frames[0]["type"])
}

// id keeps instances distinct: the broker tracks subscribers in a map, and
// zero-size struct values would all collapse into one key.
type nullSubscriber struct{ id int }

func (nullSubscriber) Enqueue([]byte) bool { return true }

func TestStreamFullClosesWith4004(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.tasks["task-1"] = engine.TaskView{ID: "task-1"}

	streamID := stream.TaskStream("task-1")
	for i := 0; i < stream.SubscriberCap; i++ {
		require.NoError(t, f.broker.Subscribe(streamID, nullSubscriber{id: i}, nil))
	}

	conn, _, err := gorillaws.DefaultDialer.Dial(f.wsURL("/ws/task/task-1"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *gorillaws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseStreamFull, closeErr.Code)
}

func TestClarificationResponseAnswersQuestion(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.tasks["task-1"] = engine.TaskView{ID: "task-1"}

	conn := dial(t, f.wsURL("/ws/task/task-1"), nil)
	readFrames(t, conn) // snapshot

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":        "clarification-response",
		"question_id": "q-1",
		"answer":      "postgres",
	}))

	require.Eventually(t, func() bool {
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		return f.engine.answered["q-1"] == "postgres"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConsoleUserMessageStartsLinkedTask(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.convs.Create()

	conn := dial(t, f.wsURL("/ws/console/"+conv.ID), nil)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "user-message",
		"text": "build me a login page",
	}))

	// The user message echoes back through the conversation stream.
	frames := readFrames(t, conn)
	require.NotEmpty(t, frames)
	assert.Equal(t, stream.FrameConversationUpdate, frames[0]["type"])

	require.Eventually(t, func() bool {
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		return len(f.engine.ran) == 1
	}, 5*time.Second, 10*time.Millisecond)

	got, ok := f.convs.Get(conv.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, conversation.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "task-1", got.ActiveTaskID)
}

func TestConsoleUnknownConversation(t *testing.T) {
	f := newFixture(t, nil)
	_, resp, err := gorillaws.DefaultDialer.Dial(f.wsURL("/ws/console/conv-404"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
