// Package clarification holds questions agents have asked the user and
// relays the answers back. Questions are one-shot: answering removes the
// question, so a second answer finds nothing left to answer.
package clarification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Limits on the pending-question store. The cap is global, not per task:
// a single runaway orchestrator must not be able to exhaust memory.
const (
	MaxPending   = 100
	MaxPromptLen = 10000
	MaxOptions   = 20

	// AwaitWindow bounds one long-poll. Callers re-poll.
	AwaitWindow = 30 * time.Second
)

var (
	ErrQuestionLimit  = errors.New("too many pending questions")
	ErrPromptTooLong  = errors.New("question prompt too long")
	ErrTooManyOptions = errors.New("too many answer options")
	ErrNotFound       = errors.New("question not found")
	ErrCanceled       = errors.New("question canceled")
	ErrAwaitTimeout   = errors.New("no answer within the poll window")
)

type question struct {
	id        string
	taskID    string
	agentID   string
	prompt    string
	options   []string
	createdAt time.Time

	answer     string
	answered   bool
	canceled   bool
	answeredAt time.Time
	signal     chan struct{}
	signaled   bool
}

// View is a read-only snapshot of a question.
type View struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	Prompt     string    `json:"question"`
	Options    []string  `json:"options"`
	Answered   bool      `json:"answered"`
	Answer     string    `json:"answer,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	AnsweredAt time.Time `json:"answered_at,omitzero"`
}

// Store is the in-memory pending-question table. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	byID   map[string]*question
	byTask map[string][]string
}

func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*question),
		byTask: make(map[string][]string),
	}
}

// Create registers a question and returns its snapshot. Fails when the
// global cap is reached or the payload exceeds the limits; the store is not
// mutated on failure.
func (s *Store) Create(taskID, agentID, prompt string, options []string) (View, error) {
	if len(prompt) > MaxPromptLen {
		return View{}, ErrPromptTooLong
	}
	if len(options) > MaxOptions {
		return View{}, ErrTooManyOptions
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byID) >= MaxPending {
		return View{}, ErrQuestionLimit
	}

	q := &question{
		id:        uuid.New().String(),
		taskID:    taskID,
		agentID:   agentID,
		prompt:    prompt,
		options:   append([]string(nil), options...),
		createdAt: time.Now().UTC(),
		signal:    make(chan struct{}),
	}
	s.byID[q.id] = q
	s.byTask[taskID] = append(s.byTask[taskID], q.id)
	return q.view(), nil
}

// Get returns a snapshot of a pending question.
func (s *Store) Get(id string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byID[id]
	if !ok {
		return View{}, false
	}
	return q.view(), true
}

// Answer records the answer, wakes every waiter, and removes the question.
// A second answer finds the question gone and gets ErrNotFound. Blocked
// waiters still deliver: they hold the record, not the table entry.
func (s *Store) Answer(id, answer string) error {
	if len(answer) > MaxPromptLen {
		return ErrPromptTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	q.answer = answer
	q.answered = true
	q.answeredAt = time.Now().UTC()
	s.signalLocked(q)
	s.removeLocked(q)
	return nil
}

// AwaitAnswer long-polls for the answer, up to AwaitWindow or ctx, whichever
// ends first. A timed-out poll leaves the question pending for the next
// poll; a poll arriving after the answer removed it gets ErrNotFound.
func (s *Store) AwaitAnswer(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	q, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return "", ErrNotFound
	}
	signal := q.signal
	s.mu.Unlock()

	timer := time.NewTimer(AwaitWindow)
	defer timer.Stop()

	select {
	case <-signal:
	case <-timer.C:
		return "", ErrAwaitTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q.canceled {
		return "", ErrCanceled
	}
	return q.answer, nil
}

// CancelTask releases all waiters for a task's questions and drops them.
// Called when the task reaches a terminal state.
func (s *Store) CancelTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byTask[taskID] {
		q, ok := s.byID[id]
		if !ok {
			continue
		}
		q.canceled = true
		s.signalLocked(q)
		delete(s.byID, id)
	}
	delete(s.byTask, taskID)
}

// Unanswered lists a task's open questions, oldest first, for replay to new
// stream subscribers.
func (s *Store) Unanswered(taskID string) []View {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []View
	for _, id := range s.byTask[taskID] {
		q, ok := s.byID[id]
		if !ok {
			continue
		}
		out = append(out, q.view())
	}
	return out
}

// Pending reports the global pending count.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Store) signalLocked(q *question) {
	if q.signaled {
		return
	}
	q.signaled = true
	close(q.signal)
}

func (s *Store) removeLocked(q *question) {
	delete(s.byID, q.id)
	ids := s.byTask[q.taskID]
	for i, id := range ids {
		if id == q.id {
			s.byTask[q.taskID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byTask[q.taskID]) == 0 {
		delete(s.byTask, q.taskID)
	}
}

func (q *question) view() View {
	return View{
		ID:         q.id,
		TaskID:     q.taskID,
		AgentID:    q.agentID,
		Prompt:     q.prompt,
		Options:    append([]string(nil), q.options...),
		Answered:   q.answered,
		Answer:     q.answer,
		CreatedAt:  q.createdAt,
		AnsweredAt: q.answeredAt,
	}
}
