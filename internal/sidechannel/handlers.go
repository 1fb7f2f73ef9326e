// Package sidechannel exposes the internal HTTP surface that agent
// subprocesses reach through the MCP stdio bridge: clarification questions,
// dynamic agent spawning, and result long-polls.
//
// Every route sits behind TokenAuth; the token never appears in argv, only in
// each agent's private MCP config file.
package sidechannel

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/morbidsteve/agent-orchestra/internal/clarification"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/engine"
	"go.uber.org/zap"
)

// Orchestrator is the slice of the engine the sidechannel needs.
type Orchestrator interface {
	AskQuestion(taskID, agentID, prompt string, options []string) (clarification.View, error)
	AnswerQuestion(questionID, answer string) error
	Questions() *clarification.Store
	SpawnAgent(ctx context.Context, taskID, role, name, task, model string) (engine.AgentView, error)
	Agent(agentID string) (engine.AgentView, error)
	AwaitAgent(ctx context.Context, agentID string) (engine.AgentView, error)
	AwaitAgents(ctx context.Context, agentIDs []string, timeout time.Duration) []engine.AgentView
}

// Handlers serves the /internal route group.
type Handlers struct {
	engine Orchestrator
	logger *logger.Logger
}

func NewHandlers(orc Orchestrator, log *logger.Logger) *Handlers {
	return &Handlers{
		engine: orc,
		logger: log.WithFields(zap.String("component", "sidechannel")),
	}
}

// RegisterRoutes mounts the internal API behind token auth.
func (h *Handlers) RegisterRoutes(router *gin.Engine, token string) {
	internal := router.Group("/internal")
	internal.Use(TokenAuth(token))

	internal.POST("/question", h.createQuestion)
	internal.GET("/question/:id/answer", h.awaitAnswer)
	internal.POST("/question/:id/answer", h.answerQuestion)

	internal.POST("/spawn-agent", h.spawnAgent)
	internal.POST("/spawn-agents", h.spawnAgents)
	internal.GET("/agent/:id/status", h.agentStatus)
	internal.GET("/agent/:id/result", h.agentResult)
	internal.POST("/agents/wait", h.waitAgents)
}

type questionRequest struct {
	TaskID   string   `json:"task_id" binding:"required"`
	AgentID  string   `json:"agent_id"`
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options"`
}

func (h *Handlers) createQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.engine.AskQuestion(req.TaskID, req.AgentID, req.Question, req.Options)
	switch {
	case errors.Is(err, clarification.ErrQuestionLimit):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, clarification.ErrPromptTooLong), errors.Is(err, clarification.ErrTooManyOptions):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, view)
	}
}

// awaitAnswer long-polls for up to the store's await window. A still-pending
// question returns 204 so the bridge can immediately re-poll.
func (h *Handlers) awaitAnswer(c *gin.Context) {
	answer, err := h.engine.Questions().AwaitAnswer(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, clarification.ErrAwaitTimeout):
		c.Status(http.StatusNoContent)
	case errors.Is(err, clarification.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, clarification.ErrCanceled):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	}
}

type answerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

func (h *Handlers) answerQuestion(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Answering removes the question, so a repeated answer lands here as
	// not-found.
	err := h.engine.AnswerQuestion(c.Param("id"), req.Answer)
	switch {
	case errors.Is(err, clarification.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "answered"})
	}
}

type spawnRequest struct {
	TaskID string `json:"task_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
	Name   string `json:"name"`
	Task   string `json:"task" binding:"required"`
	Model  string `json:"model"`
}

func (h *Handlers) spawnAgent(c *gin.Context) {
	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.engine.SpawnAgent(c.Request.Context(), req.TaskID, req.Role, req.Name, req.Task, req.Model)
	if err != nil {
		h.spawnError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

type spawnBatchRequest struct {
	TaskID string `json:"task_id" binding:"required"`
	Agents []struct {
		Role  string `json:"role" binding:"required"`
		Name  string `json:"name"`
		Task  string `json:"task" binding:"required"`
		Model string `json:"model"`
	} `json:"agents" binding:"required,min=1"`
}

// spawnAgents batch-spawns; a mid-batch failure reports the agents already
// spawned alongside the error so the orchestrator can still wait on them.
func (h *Handlers) spawnAgents(c *gin.Context) {
	var req spawnBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	spawned := make([]engine.AgentView, 0, len(req.Agents))
	for _, a := range req.Agents {
		view, err := h.engine.SpawnAgent(c.Request.Context(), req.TaskID, a.Role, a.Name, a.Task, a.Model)
		if err != nil {
			status := spawnStatusCode(err)
			c.JSON(status, gin.H{"error": err.Error(), "agents": spawned})
			return
		}
		spawned = append(spawned, view)
	}
	c.JSON(http.StatusCreated, gin.H{"agents": spawned})
}

func (h *Handlers) spawnError(c *gin.Context, err error) {
	c.JSON(spawnStatusCode(err), gin.H{"error": err.Error()})
}

func spawnStatusCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrAgentLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrTaskNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) agentStatus(c *gin.Context) {
	view, err := h.engine.Agent(c.Param("id"))
	if errors.Is(err, engine.ErrAgentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// agentResult long-polls one await window for the agent's terminal snapshot.
// A still-running agent returns 204; the bridge re-polls until its own
// deadline.
func (h *Handlers) agentResult(c *gin.Context) {
	view, err := h.engine.AwaitAgent(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, engine.ErrAwaitTimeout):
		c.Status(http.StatusNoContent)
	case errors.Is(err, engine.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, view)
	}
}

type waitRequest struct {
	AgentIDs       []string `json:"agent_ids" binding:"required,min=1"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

func (h *Handlers) waitAgents(c *gin.Context) {
	var req waitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	views := h.engine.AwaitAgents(c.Request.Context(), req.AgentIDs, timeout)
	c.JSON(http.StatusOK, gin.H{"agents": views})
}
