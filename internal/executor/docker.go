package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"trainjob/internal/state"
)

// DockerExecutor runs the entry point inside a container. The image is
// fixed per executor; the job supplies only the command and env.
type DockerExecutor struct {
	client *client.Client
	image  string
}

func NewDockerExecutor(image string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerExecutor{client: cli, image: image}, nil
}

func (e *DockerExecutor) Run(ctx context.Context, task *Task, logs *state.LogBuffer) error {
	logger := slog.With("job", task.JobName, "attempt", task.AttemptID, "image", e.image)

	if err := task.check(); err != nil {
		logger.Error("task rejected", "error", err)
		return err
	}

	envSlice := make([]string, 0, len(task.Env))
	for k, v := range task.Env {
		envSlice = append(envSlice, fmt.Sprintf("%s=%s", k, v))
	}

	// Container lifetime can outlive a canceled ctx (we stop it
	// explicitly), so API calls after cancellation use the background
	// context.
	logger.Info("creating container")
	resp, err := e.client.ContainerCreate(ctx, &container.Config{
		Image: e.image,
		Cmd:   task.Command,
		Env:   envSlice,
	}, &container.HostConfig{
		NetworkMode: "host",
	}, nil, nil, fmt.Sprintf("%s-%s", task.JobName, task.AttemptID))
	if err != nil {
		return fmt.Errorf("container create: %w", err)
	}
	id := resp.ID
	logger = logger.With("container_id", id)
	defer func() {
		_ = e.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	}()

	if err := e.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start: %w", err)
	}

	// Relay container output as it arrives. The stream ends when the
	// container exits or the reader's ctx is canceled.
	logReader, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		logger.Warn("container logs unavailable", "error", err)
	} else {
		lw := &lineWriter{logs: logs}
		go func() {
			defer logReader.Close()
			_, _ = stdcopy.StdCopy(lw, lw, logReader)
			lw.flush()
		}()
	}

	statusCh, errCh := e.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		logger.Info("stopping container on request")
		_ = e.client.ContainerStop(context.Background(), id, container.StopOptions{})
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("container wait: %w", err)
	case result := <-statusCh:
		if result.StatusCode != 0 {
			logger.Warn("container failed", "exit_code", result.StatusCode)
			return fmt.Errorf("container exited with code %d", result.StatusCode)
		}
		logger.Info("container completed")
		return nil
	}
}

// lineWriter splits a byte stream into lines for the log buffer,
// holding back a trailing partial line until it is terminated or
// flushed.
type lineWriter struct {
	logs    *state.LogBuffer
	partial bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.partial.Write(p)
	for {
		line, err := w.partial.ReadString('\n')
		if err != nil {
			// Put the unterminated remainder back.
			w.partial.Reset()
			w.partial.WriteString(line)
			break
		}
		w.logs.Append(line[:len(line)-1])
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.partial.Len() > 0 {
		w.logs.Append(w.partial.String())
		w.partial.Reset()
	}
}
