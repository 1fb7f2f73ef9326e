// Package api serves the dashboard's REST surface: task submission and
// inspection, conversations, and the workspace directory browser.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/conversation"
	"github.com/morbidsteve/agent-orchestra/internal/engine"
	"github.com/morbidsteve/agent-orchestra/internal/findings"
	"github.com/morbidsteve/agent-orchestra/internal/screenshot"
	"go.uber.org/zap"
)

// Engine is the slice of the orchestration engine the REST API needs.
type Engine interface {
	CreateTask(prompt, model, requestedDir, conversationID string) (engine.TaskView, error)
	RunTask(ctx context.Context, taskID string) error
	Task(taskID string) (engine.TaskView, error)
	Tasks() []engine.TaskView
	Agent(agentID string) (engine.AgentView, error)
	Findings() *findings.Store
	Screenshots() *screenshot.Store
}

// Handlers serves /api/v1 and /health.
type Handlers struct {
	engine        Engine
	conversations *conversation.Store
	browseRoot    string
	logger        *logger.Logger
}

func NewHandlers(eng Engine, convs *conversation.Store, browseRoot string, log *logger.Logger) *Handlers {
	return &Handlers{
		engine:        eng,
		conversations: convs,
		browseRoot:    browseRoot,
		logger:        log.WithFields(zap.String("component", "api")),
	}
}

// RegisterRoutes mounts the REST routes.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api/v1")
	api.POST("/tasks", h.createTask)
	api.GET("/tasks", h.listTasks)
	api.GET("/tasks/:id", h.getTask)
	api.POST("/conversations", h.createConversation)
	api.GET("/conversations", h.listConversations)
	api.GET("/conversations/:id", h.getConversation)
	api.GET("/browse", h.browse)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createTaskRequest struct {
	Task           string `json:"task" binding:"required"`
	Model          string `json:"model"`
	WorkDir        string `json:"work_dir"`
	ConversationID string `json:"conversation_id"`
}

// createTask registers the task and starts it in the background; the
// response carries the queued snapshot and execution is observed over
// /ws/task/:id.
func (h *Handlers) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.engine.CreateTask(req.Task, req.Model, req.WorkDir, req.ConversationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	go func() {
		if err := h.engine.RunTask(context.Background(), view.ID); err != nil {
			h.logger.Error("task run failed", zap.String("task_id", view.ID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusCreated, view)
}

func (h *Handlers) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.engine.Tasks()})
}

// getTask returns the full record: task, its agents, findings, and
// screenshots.
func (h *Handlers) getTask(c *gin.Context) {
	view, err := h.engine.Task(c.Param("id"))
	if errors.Is(err, engine.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	agents := make([]engine.AgentView, 0, len(view.AgentIDs))
	for _, id := range view.AgentIDs {
		if a, err := h.engine.Agent(id); err == nil {
			agents = append(agents, a)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"task":        view,
		"agents":      agents,
		"findings":    h.engine.Findings().ListByTask(view.ID),
		"screenshots": h.engine.Screenshots().List(view.ID),
	})
}

func (h *Handlers) createConversation(c *gin.Context) {
	c.JSON(http.StatusCreated, h.conversations.Create())
}

func (h *Handlers) listConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversations": h.conversations.List()})
}

func (h *Handlers) getConversation(c *gin.Context) {
	view, ok := h.conversations.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

type browseEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// browse lists one directory under the configured browse root, for the
// working-directory picker. Paths outside the root are rejected.
func (h *Handlers) browse(c *gin.Context) {
	requested := c.Query("path")
	if requested == "" {
		requested = h.browseRoot
	}

	resolved, err := h.resolveBrowsePath(requested)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "directory not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	entries := make([]browseEntry, 0, len(dirEntries))
	for _, e := range dirEntries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		entries = append(entries, browseEntry{
			Name:  e.Name(),
			Path:  filepath.Join(resolved, e.Name()),
			IsDir: e.IsDir(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	c.JSON(http.StatusOK, gin.H{"path": resolved, "entries": entries})
}

var errOutsideRoot = errors.New("path is outside the browsable root")

func (h *Handlers) resolveBrowsePath(requested string) (string, error) {
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(h.browseRoot, requested)
	}
	resolved := filepath.Clean(requested)

	root := filepath.Clean(h.browseRoot)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return resolved, nil
}
