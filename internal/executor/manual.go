package executor

import (
	"context"
	"sync"

	"trainjob/internal/state"
)

// Manual is an executor driven explicitly from outside: each Run
// parks until the driver emits log lines and finishes the task. It
// exists so tests can control execution timing instead of racing a
// real process.
type Manual struct {
	mu      sync.Mutex
	runs    map[string]*ManualRun
	waiters map[string]chan struct{}
}

func NewManual() *Manual {
	return &Manual{
		runs:    make(map[string]*ManualRun),
		waiters: make(map[string]chan struct{}),
	}
}

// ManualRun is one parked task awaiting driver commands.
type ManualRun struct {
	Task *Task
	logs *state.LogBuffer
	done chan error
}

// Emit appends a line to the task's log stream.
func (r *ManualRun) Emit(line string) { r.logs.Append(line) }

// Finish unparks Run with the given result.
func (r *ManualRun) Finish(err error) { r.done <- err }

func (m *Manual) Run(ctx context.Context, task *Task, logs *state.LogBuffer) error {
	r := &ManualRun{Task: task, logs: logs, done: make(chan error, 1)}

	m.mu.Lock()
	m.runs[task.JobName] = r
	if ch, ok := m.waiters[task.JobName]; ok {
		close(ch)
		delete(m.waiters, task.JobName)
	}
	m.mu.Unlock()

	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await blocks until the named job's Run has started and returns its
// handle.
func (m *Manual) Await(name string) *ManualRun {
	m.mu.Lock()
	if r, ok := m.runs[name]; ok {
		m.mu.Unlock()
		return r
	}
	ch, ok := m.waiters[name]
	if !ok {
		ch = make(chan struct{})
		m.waiters[name] = ch
	}
	m.mu.Unlock()

	<-ch

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[name]
}
