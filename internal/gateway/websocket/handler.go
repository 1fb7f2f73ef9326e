// Package websocket is the dashboard-facing gateway: live task execution
// streams and conversational console sockets, both fed by the stream broker's
// replay-then-live delivery.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/conversation"
	"github.com/morbidsteve/agent-orchestra/internal/engine"
	"github.com/morbidsteve/agent-orchestra/internal/stream"
	"go.uber.org/zap"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is validated after the upgrade so the client receives an
	// application close code instead of an opaque handshake failure.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TaskEngine is the slice of the engine the gateway drives.
type TaskEngine interface {
	Task(taskID string) (engine.TaskView, error)
	CreateTask(prompt, model, requestedDir, conversationID string) (engine.TaskView, error)
	RunTask(ctx context.Context, taskID string) error
	AnswerQuestion(questionID, answer string) error
	Snapshot(taskID string) (stream.ExecutionSnapshotFrame, error)
}

// Gateway serves /ws/task/:id and /ws/console/:id.
type Gateway struct {
	engine         TaskEngine
	broker         *stream.Broker
	conversations  *conversation.Store
	allowedOrigins []string
	logger         *logger.Logger
}

func NewGateway(eng TaskEngine, broker *stream.Broker, convs *conversation.Store, allowedOrigins []string, log *logger.Logger) *Gateway {
	return &Gateway{
		engine:         eng,
		broker:         broker,
		conversations:  convs,
		allowedOrigins: allowedOrigins,
		logger:         log.WithFields(zap.String("component", "ws-gateway")),
	}
}

// RegisterRoutes adds the WebSocket routes to the Gin engine.
func (g *Gateway) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/task/:id", g.handleTask)
	router.GET("/ws/console/:id", g.handleConsole)
}

// handleTask streams one task's execution: replayed history, a state
// snapshot, then live frames. Inbound clarification-response messages answer
// pending questions.
func (g *Gateway) handleTask(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := g.engine.Task(taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	conn, ok := g.upgrade(c)
	if !ok {
		return
	}

	streamID := stream.TaskStream(taskID)
	var client *Client
	client = newClient(conn, g.logger, func(msg inboundMessage) {
		g.handleInbound(msg, "")
	}, func() {
		g.broker.Unsubscribe(streamID, client)
	})

	err := g.broker.Subscribe(streamID, client, func() []any {
		snap, snapErr := g.engine.Snapshot(taskID)
		if snapErr != nil {
			return nil
		}
		return []any{snap}
	})
	if errors.Is(err, stream.ErrStreamFull) {
		g.closeWith(conn, CloseStreamFull, "stream subscriber limit reached")
		return
	}

	go client.writePump()
	client.readPump()
}

// handleConsole attaches to a conversation: replayed messages, then live
// updates. A user-message creates and runs a task linked to the
// conversation.
func (g *Gateway) handleConsole(c *gin.Context) {
	convID := c.Param("id")
	if _, ok := g.conversations.Get(convID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	conn, ok := g.upgrade(c)
	if !ok {
		return
	}

	streamID := stream.ConversationStream(convID)
	var client *Client
	client = newClient(conn, g.logger, func(msg inboundMessage) {
		g.handleInbound(msg, convID)
	}, func() {
		g.broker.Unsubscribe(streamID, client)
	})

	if err := g.broker.Subscribe(streamID, client, nil); errors.Is(err, stream.ErrStreamFull) {
		g.closeWith(conn, CloseStreamFull, "stream subscriber limit reached")
		return
	}

	go client.writePump()
	client.readPump()
}

func (g *Gateway) handleInbound(msg inboundMessage, convID string) {
	switch msg.Type {
	case "clarification-response":
		if msg.QuestionID == "" {
			return
		}
		if err := g.engine.AnswerQuestion(msg.QuestionID, msg.Answer); err != nil {
			g.logger.Warn("failed to answer question",
				zap.String("question_id", msg.QuestionID),
				zap.Error(err))
		}

	case "user-message":
		if convID == "" || msg.Text == "" {
			return
		}
		g.startConversationTask(convID, msg.Text)

	default:
		g.logger.Debug("ignoring inbound message", zap.String("type", msg.Type))
	}
}

// startConversationTask records the user message, spins up a task for it,
// and links the two so execution frames mirror into the console.
func (g *Gateway) startConversationTask(convID, text string) {
	userMsg, err := g.conversations.Append(convID, conversation.RoleUser, text, "")
	if err != nil {
		g.logger.Warn("failed to record user message", zap.String("conversation_id", convID), zap.Error(err))
		return
	}
	g.broker.Publish(stream.ConversationStream(convID), stream.NewConversationUpdateFrame(userMsg))

	task, err := g.engine.CreateTask(text, "", "", convID)
	if err != nil {
		g.logger.Error("failed to create task from console", zap.String("conversation_id", convID), zap.Error(err))
		return
	}
	if err := g.conversations.LinkTask(convID, task.ID); err != nil {
		g.logger.Warn("failed to link task to conversation", zap.String("task_id", task.ID), zap.Error(err))
	}

	go func() {
		if err := g.engine.RunTask(context.Background(), task.ID); err != nil {
			g.logger.Error("console task run failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}()
}

// upgrade performs the protocol upgrade and the post-upgrade origin check.
func (g *Gateway) upgrade(c *gin.Context) (*gorillaws.Conn, bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("failed to upgrade connection", zap.Error(err))
		return nil, false
	}
	if !g.originAllowed(c.Request.Header.Get("Origin")) {
		g.closeWith(conn, CloseOriginRejected, "origin not allowed")
		return nil, false
	}
	return conn, true
}

// originAllowed accepts non-browser clients (no Origin header) and any
// configured origin; "*" disables the check.
func (g *Gateway) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range g.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (g *Gateway) closeWith(conn *gorillaws.Conn, code int, reason string) {
	msg := gorillaws.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(gorillaws.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
