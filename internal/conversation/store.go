// Package conversation keeps the console chat threads: a message log per
// conversation plus the link to the task currently running on its behalf.
package conversation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLen matches the console input limit.
const MaxMessageLen = 10000

const titleLen = 80

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrMessageTooLong = errors.New("message too long")
)

// Message is one console chat entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	TaskRef   string    `json:"task_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// View is a read-only snapshot of a conversation.
type View struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	ActiveTaskID string    `json:"active_task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type conversation struct {
	id           string
	title        string
	messages     []Message
	activeTaskID string
	createdAt    time.Time
	updatedAt    time.Time
}

// Store is the in-memory conversation table. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	nextID int
	byID   map[string]*conversation
	byTask map[string]string
}

func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*conversation),
		byTask: make(map[string]string),
	}
}

// Create starts an empty conversation.
func (s *Store) Create() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UTC()
	c := &conversation{
		id:        fmt.Sprintf("conv-%d", s.nextID),
		title:     "New conversation",
		createdAt: now,
		updatedAt: now,
	}
	s.byID[c.id] = c
	return c.view()
}

// Append adds a message. The first user message sets the title.
func (s *Store) Append(id, role, text, taskRef string) (Message, error) {
	if len(text) > MaxMessageLen {
		return Message{}, ErrMessageTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return Message{}, ErrNotFound
	}

	msg := Message{
		ID:        "msg-" + uuid.New().String()[:8],
		Role:      role,
		Text:      text,
		TaskRef:   taskRef,
		CreatedAt: time.Now().UTC(),
	}
	if role == RoleUser && len(c.messages) == 0 {
		c.title = deriveTitle(text)
	}
	c.messages = append(c.messages, msg)
	c.updatedAt = msg.CreatedAt
	return msg, nil
}

// LinkTask marks taskID as the conversation's active task.
func (s *Store) LinkTask(id, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if c.activeTaskID != "" {
		delete(s.byTask, c.activeTaskID)
	}
	c.activeTaskID = taskID
	c.updatedAt = time.Now().UTC()
	s.byTask[taskID] = id
	return nil
}

// UnlinkTask clears the active task when it reaches a terminal state. The
// task stays resolvable through message TaskRefs.
func (s *Store) UnlinkTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTask[taskID]
	if !ok {
		return
	}
	delete(s.byTask, taskID)
	if c, ok := s.byID[id]; ok && c.activeTaskID == taskID {
		c.activeTaskID = ""
		c.updatedAt = time.Now().UTC()
	}
}

// Get returns a conversation snapshot.
func (s *Store) Get(id string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return View{}, false
	}
	return c.view(), true
}

// ByTask resolves the conversation currently running taskID.
func (s *Store) ByTask(taskID string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTask[taskID]
	if !ok {
		return View{}, false
	}
	c, ok := s.byID[id]
	if !ok {
		return View{}, false
	}
	return c.view(), true
}

// List returns all conversations, newest first.
func (s *Store) List() []View {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]View, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c.view())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (c *conversation) view() View {
	return View{
		ID:           c.id,
		Title:        c.title,
		Messages:     append([]Message(nil), c.messages...),
		ActiveTaskID: c.activeTaskID,
		CreatedAt:    c.createdAt,
		UpdatedAt:    c.updatedAt,
	}
}

func deriveTitle(text string) string {
	title := strings.TrimSpace(strings.Split(text, "\n")[0])
	if len(title) > titleLen {
		title = title[:titleLen]
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
