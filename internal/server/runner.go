package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"trainjob/internal/api"
	"trainjob/internal/executor"
	"trainjob/internal/state"
)

// Runner drives submitted jobs through the executor and owns the
// status transitions the executor's outcome implies. Cancellation is a
// per-job context: Cancel signals the executor, and the run goroutine
// lands the job on Stopped.
type Runner struct {
	store state.Store
	logs  *state.Logs
	exec  executor.Executor

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunner(store state.Store, logs *state.Logs, exec executor.Executor) *Runner {
	return &Runner{
		store:   store,
		logs:    logs,
		exec:    exec,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Launch starts the job's run goroutine. The cancel hook is registered
// before this returns, so a stop arriving right after the submit
// response always finds it.
func (r *Runner) Launch(name string) {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[name] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, name)
}

// Cancel interrupts the job's executor, if it is still running.
func (r *Runner) Cancel(name string) {
	r.mu.Lock()
	cancel := r.cancels[name]
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown interrupts every running job and waits for their terminal
// transitions.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, name string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if cancel := r.cancels[name]; cancel != nil {
			cancel()
			delete(r.cancels, name)
		}
		r.mu.Unlock()
	}()

	logger := slog.With("job", name)
	buf := r.logs.Get(name)
	defer buf.Close()

	job, err := r.store.GetJob(name)
	if err != nil {
		logger.Error("job vanished before start", "error", err)
		return
	}

	attemptID := uuid.New().String()[:8]
	if err := r.store.SetAttempt(name, attemptID); err != nil {
		logger.Error("recording attempt", "error", err)
		return
	}

	if _, err := r.store.Transition(name, api.StatusInProgress, ""); err != nil {
		// A stop raced ahead of the start; honor it.
		if errors.Is(err, state.ErrInvalidState) {
			r.land(name, logger, api.StatusStopped, "")
		} else {
			logger.Error("starting job", "error", err)
		}
		return
	}
	logger.Info("job started", "attempt", attemptID)

	task := &executor.Task{
		JobName:   name,
		AttemptID: attemptID,
		Command:   job.Spec.EntryPoint,
		Env:       buildEnv(name, job.Spec),
	}
	err = r.exec.Run(ctx, task, buf)

	switch {
	case ctx.Err() != nil:
		// Either a stop request or daemon shutdown. The stop handler
		// already moved the job to Stopping; shutdown has not, so take
		// that edge first.
		_, _ = r.store.Transition(name, api.StatusStopping, "")
		r.land(name, logger, api.StatusStopped, "")
	case err != nil:
		r.land(name, logger, api.StatusFailed, err.Error())
	default:
		r.land(name, logger, api.StatusCompleted, "")
	}
}

func (r *Runner) land(name string, logger *slog.Logger, status api.Status, reason string) {
	if _, err := r.store.Transition(name, status, reason); err != nil {
		// A stop can commit Stopping between the executor returning
		// and this transition; the stop wins and the job lands
		// Stopped rather than staying in Stopping with no writer
		// left.
		if errors.Is(err, state.ErrInvalidState) && status != api.StatusStopped {
			if job, gerr := r.store.GetJob(name); gerr == nil && job.Status == api.StatusStopping {
				r.land(name, logger, api.StatusStopped, "")
				return
			}
		}
		logger.Error("recording terminal status", "status", status, "error", err)
		return
	}
	logger.Info("job finished", "status", status)
}

// buildEnv derives the environment the training process contractually
// receives. Every value the entry point needs is explicit here; a
// missing variable is an executor-side failure, never a silent child
// crash.
func buildEnv(name string, spec api.Spec) map[string]string {
	env := make(map[string]string, len(spec.Env)+len(spec.Hyperparameters)+6)
	for k, v := range spec.Env {
		env[k] = v
	}
	env["TRAINJOB_NAME"] = name
	env["TRAINJOB_OUTPUT_URI"] = spec.OutputURI
	env["TRAINJOB_GPU_COUNT"] = strconv.Itoa(spec.Resources.GPUs)
	if spec.MetricsURI != "" {
		env["TRAINJOB_METRICS_URI"] = spec.MetricsURI
	}
	env["TRAINJOB_INPUT_COUNT"] = strconv.Itoa(len(spec.Inputs))
	for i, in := range spec.Inputs {
		env[fmt.Sprintf("TRAINJOB_INPUT_%d", i)] = in
	}
	for k, v := range spec.Hyperparameters {
		env["TRAINJOB_HP_"+strings.ToUpper(k)] = v
	}
	return env
}
