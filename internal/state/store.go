package state

import (
	"errors"
	"sort"
	"sync"
	"time"

	"trainjob/internal/api"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrAlreadyExists = errors.New("job already exists")
	ErrInvalidState  = errors.New("invalid status transition")
)

// Store persists job records. Log streams are not part of the store;
// they live in the in-memory Logs registry regardless of backend.
type Store interface {
	// CreateJob inserts a new record. Returns ErrAlreadyExists when the
	// name is already taken within the retention window.
	CreateJob(job *Job) error

	// GetJob returns a copy of the record, or ErrNotFound.
	GetJob(name string) (*Job, error)

	// ListJobs returns copies of all records, ordered by creation time.
	ListJobs() ([]*Job, error)

	// Transition moves the job to status. Start and completion times
	// are stamped on the InProgress and terminal transitions. Returns
	// ErrInvalidState when the move is not a legal edge of the
	// lifecycle state machine (including any move out of a terminal
	// state).
	Transition(name string, status api.Status, reason string) (*Job, error)

	// SetAttempt records the executor attempt id for the job.
	SetAttempt(name, attemptID string) error
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return ErrAlreadyExists
	}
	cp := *job
	s.jobs[job.Name] = &cp
	return nil
}

func (s *MemoryStore) GetJob(name string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ListJobs() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *MemoryStore) Transition(name string, status api.Status, reason string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	if err := stamp(job, status, reason, time.Now()); err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) SetAttempt(name, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return ErrNotFound
	}
	job.AttemptID = attemptID
	return nil
}

// validEdge encodes the lifecycle state machine:
// Pending → InProgress → {Completed | Failed}, with a stop request
// driving Pending or InProgress through Stopping to Stopped. Pending
// may fail directly when the executor rejects the task before start.
func validEdge(from, to api.Status) bool {
	switch from {
	case api.StatusPending:
		return to == api.StatusInProgress || to == api.StatusStopping || to == api.StatusFailed
	case api.StatusInProgress:
		return to == api.StatusCompleted || to == api.StatusFailed || to == api.StatusStopping
	case api.StatusStopping:
		return to == api.StatusStopped || to == api.StatusFailed
	default:
		return false
	}
}

// stamp applies a transition to the record in place.
func stamp(job *Job, status api.Status, reason string, now time.Time) error {
	if !validEdge(job.Status, status) {
		return ErrInvalidState
	}
	job.Status = status
	if status == api.StatusInProgress && job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	if status.Terminal() {
		job.CompletedAt = now
	}
	if reason != "" {
		job.FailureReason = reason
	}
	return nil
}
