package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"trainjob/internal/state"
)

// SubprocessExecutor runs the entry point as a local child process.
type SubprocessExecutor struct{}

func NewSubprocessExecutor() *SubprocessExecutor {
	return &SubprocessExecutor{}
}

func (e *SubprocessExecutor) Run(ctx context.Context, task *Task, logs *state.LogBuffer) error {
	logger := slog.With("job", task.JobName, "attempt", task.AttemptID)

	if err := task.check(); err != nil {
		logger.Error("task rejected", "error", err)
		return err
	}

	cmd := exec.CommandContext(ctx, task.Command[0], task.Command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range task.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	logger.Info("starting subprocess", "command", task.Command)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", task.Command[0], err)
	}

	// Drain both pipes into the log buffer before Wait reaps the child.
	var wg sync.WaitGroup
	for _, pipe := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				logs.Append(scanner.Text())
			}
		}(pipe)
	}
	wg.Wait()

	err = cmd.Wait()
	if ctx.Err() != nil {
		logger.Info("subprocess stopped on request")
		return ctx.Err()
	}
	if err != nil {
		logger.Warn("subprocess failed", "error", err)
		return fmt.Errorf("training process: %w", err)
	}
	logger.Info("subprocess completed")
	return nil
}
