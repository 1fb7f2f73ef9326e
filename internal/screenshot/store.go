// Package screenshot keeps terminal-style snapshots of agent output, taken
// at phase and agent completion so the dashboard can show "what the terminal
// looked like" at each milestone.
package screenshot

import (
	"fmt"
	"sync"
	"time"
)

// SnapshotLines is how much output tail one snapshot keeps.
const SnapshotLines = 20

// Snapshot is one captured terminal view.
type Snapshot struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Milestone string    `json:"milestone"`
	Lines     []string  `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds snapshots in memory. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	nextID int
	byTask map[string][]Snapshot
}

func NewStore() *Store {
	return &Store{byTask: make(map[string][]Snapshot)}
}

// Capture stores the tail of lines as a snapshot and returns it.
func (s *Store) Capture(taskID, milestone string, lines []string) Snapshot {
	tail := lines
	if len(tail) > SnapshotLines {
		tail = tail[len(tail)-SnapshotLines:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	snap := Snapshot{
		ID:        fmt.Sprintf("shot-%d", s.nextID),
		TaskID:    taskID,
		Milestone: milestone,
		Lines:     append([]string(nil), tail...),
		CreatedAt: time.Now().UTC(),
	}
	s.byTask[taskID] = append(s.byTask[taskID], snap)
	return snap
}

// List returns a task's snapshots in capture order.
func (s *Store) List(taskID string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.byTask[taskID]...)
}
