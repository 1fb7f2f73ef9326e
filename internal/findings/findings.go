// Package findings extracts structured defect records from agent output by
// pattern matching. A finding lives as long as its task; there is no
// persistence beyond process memory.
package findings

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity levels, highest first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Finding types.
const (
	TypeSecurity    = "security"
	TypeQuality     = "quality"
	TypePerformance = "performance"
	TypeCompliance  = "compliance"
)

// Finding is one structured defect record extracted from a matched line.
type Finding struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"` // open, resolved, dismissed
	Title       string    `json:"title"`
	Description string    `json:"description"`
	File        string    `json:"file"`
	Line        int       `json:"line,omitempty"`
	Remediation string    `json:"remediation"`
	Agent       string    `json:"agent"` // role of the reporting agent
	CreatedAt   time.Time `json:"createdAt"`
}

// Store keeps findings per task.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*Finding
	byTaskID map[string][]string
}

// NewStore creates an empty finding store.
func NewStore() *Store {
	return &Store{
		byID:     make(map[string]*Finding),
		byTaskID: make(map[string][]string),
	}
}

// Record inserts a finding and assigns it an id when missing.
func (s *Store) Record(f *Finding) {
	if f.ID == "" {
		f.ID = "find-" + uuid.New().String()[:8]
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[f.ID] = f
	s.byTaskID[f.TaskID] = append(s.byTaskID[f.TaskID], f.ID)
}

// ListByTask returns copies of all findings recorded for a task.
func (s *Store) ListByTask(taskID string) []Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTaskID[taskID]
	out := make([]Finding, 0, len(ids))
	for _, id := range ids {
		if f := s.byID[id]; f != nil {
			out = append(out, *f)
		}
	}
	return out
}
