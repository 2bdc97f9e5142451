package executor

import (
	"context"
	"fmt"

	"trainjob/internal/state"
)

// Task is the executable slice of a job: the entry point argv and the
// fully-built environment (spec env plus the derived TRAINJOB_*
// variables).
type Task struct {
	JobName   string
	AttemptID string
	Command   []string
	Env       map[string]string
}

// Required environment the service derives from the spec. Executors
// check for these before launching anything so a missing variable
// surfaces as a descriptive failure instead of a crash inside the
// training process.
var requiredEnv = []string{"TRAINJOB_NAME", "TRAINJOB_OUTPUT_URI", "TRAINJOB_GPU_COUNT"}

func (t *Task) check() error {
	if len(t.Command) == 0 {
		return fmt.Errorf("no entry point for job %s", t.JobName)
	}
	for _, key := range requiredEnv {
		if _, ok := t.Env[key]; !ok {
			return fmt.Errorf("job %s: required environment variable %s is not set", t.JobName, key)
		}
	}
	return nil
}

// Executor runs one task to completion, streaming its output into the
// job's log buffer.
type Executor interface {
	// Run blocks until the task finishes. A nil return means the task
	// exited successfully; ctx cancellation means the caller requested
	// a stop and Run must terminate the task and return ctx's error.
	Run(ctx context.Context, task *Task, logs *state.LogBuffer) error
}
