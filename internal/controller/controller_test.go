package controller_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"trainjob/internal/api"
	"trainjob/internal/controller"
	"trainjob/internal/executor"
	"trainjob/internal/server"
	"trainjob/internal/state"
)

func startService(t *testing.T) (*controller.Controller, *executor.Manual) {
	t.Helper()

	store := state.NewMemoryStore()
	exec := executor.NewManual()
	srv := server.New(store, exec)

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	ctl := controller.New("http://"+lis.Addr().String(), controller.Defaults{})
	return ctl, exec
}

func validSpec() api.Spec {
	return api.Spec{
		EntryPoint: []string{"python", "train.py"},
		Inputs:     []string{"s3://data/mnist/train"},
		Hyperparameters: map[string]string{
			"epochs": "4",
			"lr":     "0.01",
		},
		Resources: api.Resources{Class: "gpu.t4", GPUs: 1},
		OutputURI: "s3://models/mnist",
	}
}

func awaitStatus(t *testing.T, ctl *controller.Controller, handle *controller.JobHandle, want api.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, err := ctl.Describe(context.Background(), handle)
		if err != nil {
			t.Fatalf("Describe failed: %v", err)
		}
		if view.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", handle.Name, want)
}

func TestSubmitThenDescribeIsNonTerminal(t *testing.T) {
	ctl, _ := startService(t)
	ctx := context.Background()

	handle, err := ctl.Submit(ctx, "", validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if handle.Status != api.StatusPending {
		t.Errorf("expected initial status PENDING, got %s", handle.Status)
	}

	view, err := ctl.Describe(ctx, handle)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if view.Status.Terminal() {
		t.Errorf("describe right after submit returned terminal status %s", view.Status)
	}
}

func TestSubmitGeneratesUniqueNames(t *testing.T) {
	ctl, _ := startService(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		handle, err := ctl.Submit(ctx, "", validSpec())
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if seen[handle.Name] {
			t.Fatalf("duplicate generated name %s", handle.Name)
		}
		seen[handle.Name] = true
	}
}

func TestSubmitNameCollision(t *testing.T) {
	ctl, _ := startService(t)
	ctx := context.Background()

	if _, err := ctl.Submit(ctx, "training-job-42", validSpec()); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	_, err := ctl.Submit(ctx, "training-job-42", validSpec())
	if !api.IsKind(err, api.KindSubmission) {
		t.Errorf("expected submission error on name collision, got %v", err)
	}
}

func TestSubmitValidationFailsLocally(t *testing.T) {
	ctl, _ := startService(t)
	ctx := context.Background()

	spec := validSpec()
	spec.Resources.Class = "tpu.v9"
	_, err := ctl.Submit(ctx, "bad-class-job", spec)
	if !api.IsKind(err, api.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Validation happens before any remote call, so the service never
	// heard of the name.
	_, err = ctl.Describe(ctx, &controller.JobHandle{Name: "bad-class-job"})
	if !api.IsKind(err, api.KindNotFound) {
		t.Errorf("expected not-found for rejected job, got %v", err)
	}
}

func TestDescribeUnknownJob(t *testing.T) {
	ctl, _ := startService(t)

	_, err := ctl.Describe(context.Background(), &controller.JobHandle{Name: "never-submitted"})
	if !api.IsKind(err, api.KindNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestDescribeIsIdempotent(t *testing.T) {
	ctl, exec := startService(t)
	ctx := context.Background()

	handle, err := ctl.Submit(ctx, "", validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	exec.Await(handle.Name)
	awaitStatus(t, ctl, handle, api.StatusInProgress)

	first, err := ctl.Describe(ctx, handle)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	second, err := ctl.Describe(ctx, handle)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if first.Status != second.Status || !first.StartedAt.Equal(second.StartedAt) || !first.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("repeated describe with no mutation differed: %+v vs %+v", first, second)
	}
}

func TestRunToCompletion(t *testing.T) {
	ctl, exec := startService(t)
	ctx := context.Background()

	handle, err := ctl.Submit(ctx, "training-job-1700000000000000000", validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	view, err := ctl.Describe(ctx, handle)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if view.Status.Terminal() {
		t.Fatalf("unexpected terminal status %s before execution", view.Status)
	}

	stream, err := ctl.TailLogs(ctx, handle)
	if err != nil {
		t.Fatalf("TailLogs failed: %v", err)
	}
	defer stream.Close()

	run := exec.Await(handle.Name)
	lines := []string{"epoch 1 loss=0.91", "epoch 2 loss=0.42", "epoch 3 loss=0.17"}
	for _, line := range lines {
		run.Emit(line)
	}
	run.Finish(nil)

	var got []string
	for {
		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, rec.Line)
	}
	if len(got) != len(lines) {
		t.Fatalf("expected %d records, got %d (%v)", len(lines), len(got), got)
	}
	for i, line := range lines {
		if got[i] != line {
			t.Errorf("record %d: expected %q, got %q", i, line, got[i])
		}
	}

	awaitStatus(t, ctl, handle, api.StatusCompleted)
}

func TestTailStartsAtCurrentTail(t *testing.T) {
	ctl, exec := startService(t)
	ctx := context.Background()

	handle, err := ctl.Submit(ctx, "", validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	run := exec.Await(handle.Name)
	run.Emit("before tail 1")
	run.Emit("before tail 2")

	stream, err := ctl.TailLogs(ctx, handle)
	if err != nil {
		t.Fatalf("TailLogs failed: %v", err)
	}
	defer stream.Close()

	run.Emit("after tail")
	run.Finish(nil)

	rec, err := stream.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.Line != "after tail" {
		t.Errorf("expected tail to start at current position, got %q", rec.Line)
	}
	if _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected stream end, got %v", err)
	}

	// Full history stays available through a separate request.
	awaitStatus(t, ctl, handle, api.StatusCompleted)
	recs, err := ctl.LogHistory(ctx, handle)
	if err != nil {
		t.Fatalf("LogHistory failed: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("expected 3 history records, got %d", len(recs))
	}
}

func TestTailCancellationLeavesJobRunning(t *testing.T) {
	ctl, exec := startService(t)
	ctx := context.Background()

	handle, err := ctl.Submit(ctx, "", validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	run := exec.Await(handle.Name)
	awaitStatus(t, ctl, handle, api.StatusInProgress)

	tailCtx, cancel := context.WithCancel(ctx)
	stream, err := ctl.TailLogs(tailCtx, handle)
	if err != nil {
		t.Fatalf("TailLogs failed: %v", err)
	}
	defer stream.Close()

	done := make(chan error, 1)
	go func() {
		_, err := stream.Next()
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled from abandoned tail, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned tail never returned")
	}

	// Abandoning the stream must not affect the remote job.
	view, err := ctl.Describe(ctx, handle)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if view.Status != api.StatusInProgress {
		t.Errorf("job status changed after tail abandon: %s", view.Status)
	}
	run.Finish(nil)
}

func TestStopLifecycle(t *testing.T) {
	ctl, exec := startService(t)
	ctx := context.Background()

	handle, err := ctl.Submit(ctx, "", validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	exec.Await(handle.Name)
	awaitStatus(t, ctl, handle, api.StatusInProgress)

	if err := ctl.Stop(ctx, handle); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	awaitStatus(t, ctl, handle, api.StatusStopped)

	err = ctl.Stop(ctx, handle)
	if !api.IsKind(err, api.KindInvalidState) {
		t.Errorf("expected invalid-state error on second stop, got %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	ctl, _ := startService(t)
	ctx := context.Background()

	handle, err := ctl.Submit(ctx, "", validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// Stop immediately, without waiting for the executor to pick the
	// job up.
	if err := ctl.Stop(ctx, handle); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	awaitStatus(t, ctl, handle, api.StatusStopped)
}

func TestStopUnknownJob(t *testing.T) {
	ctl, _ := startService(t)

	err := ctl.Stop(context.Background(), &controller.JobHandle{Name: "never-submitted"})
	if !api.IsKind(err, api.KindNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestFailedRunSurfacesReason(t *testing.T) {
	ctl, exec := startService(t)
	ctx := context.Background()

	handle, err := ctl.Submit(ctx, "", validSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	run := exec.Await(handle.Name)
	run.Finish(errors.New("CUDA out of memory"))

	awaitStatus(t, ctl, handle, api.StatusFailed)
	view, err := ctl.Describe(ctx, handle)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if view.FailureReason != "CUDA out of memory" {
		t.Errorf("expected failure reason to be surfaced, got %q", view.FailureReason)
	}
}

func TestDefaultsFillSpec(t *testing.T) {
	store := state.NewMemoryStore()
	exec := executor.NewManual()
	srv := server.New(store, exec)
	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	ctl := controller.New("http://"+lis.Addr().String(), controller.Defaults{
		OutputURIPrefix: "s3://models",
		ResourceClass:   "cpu.small",
	})

	spec := validSpec()
	spec.OutputURI = ""
	spec.Resources = api.Resources{}

	handle, err := ctl.Submit(context.Background(), "defaulted-job", spec)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	view, err := ctl.Describe(context.Background(), handle)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if view.Spec.OutputURI != "s3://models/defaulted-job" {
		t.Errorf("unexpected defaulted output URI %q", view.Spec.OutputURI)
	}
	if view.Spec.Resources.Class != "cpu.small" {
		t.Errorf("unexpected defaulted class %q", view.Spec.Resources.Class)
	}
}
