package state

import (
	"errors"
	"testing"
	"time"

	"trainjob/internal/api"
)

func newJob(name string) *Job {
	return &Job{
		Name:      name,
		Status:    api.StatusPending,
		CreatedAt: time.Now(),
		Spec: api.Spec{
			EntryPoint: []string{"python", "train.py"},
			Resources:  api.Resources{Class: "cpu.small"},
			OutputURI:  "s3://models/out",
		},
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	if err := s.CreateJob(newJob("a")); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	job, err := s.GetJob("a")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != api.StatusPending {
		t.Errorf("unexpected status %s", job.Status)
	}

	// The returned record is a copy; mutating it must not leak back.
	job.Status = api.StatusFailed
	again, _ := s.GetJob("a")
	if again.Status != api.StatusPending {
		t.Error("GetJob returned a shared record")
	}
}

func TestMemoryStoreRejectsDuplicateName(t *testing.T) {
	s := NewMemoryStore()
	if err := s.CreateJob(newJob("a")); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := s.CreateJob(newJob("a")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetJob("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionStampsTimes(t *testing.T) {
	s := NewMemoryStore()
	if err := s.CreateJob(newJob("a")); err != nil {
		t.Fatal(err)
	}

	job, err := s.Transition("a", api.StatusInProgress, "")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if job.StartedAt.IsZero() {
		t.Error("start time not stamped on InProgress")
	}

	job, err = s.Transition("a", api.StatusCompleted, "")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if job.CompletedAt.IsZero() {
		t.Error("completion time not stamped on terminal status")
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	cases := []struct {
		name string
		path []api.Status
		next api.Status
	}{
		{"terminal completed", []api.Status{api.StatusInProgress, api.StatusCompleted}, api.StatusStopping},
		{"terminal stopped", []api.Status{api.StatusStopping, api.StatusStopped}, api.StatusInProgress},
		{"pending to completed", nil, api.StatusCompleted},
		{"stopping to in-progress", []api.Status{api.StatusStopping}, api.StatusInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewMemoryStore()
			if err := s.CreateJob(newJob("a")); err != nil {
				t.Fatal(err)
			}
			for _, st := range tc.path {
				if _, err := s.Transition("a", st, ""); err != nil {
					t.Fatalf("setup transition to %s failed: %v", st, err)
				}
			}
			if _, err := s.Transition("a", tc.next, ""); !errors.Is(err, ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestLogBufferOrderAndSeq(t *testing.T) {
	buf := NewLogBuffer()
	buf.Append("one")
	buf.Append("two")
	buf.Append("three")

	recs, _, done := buf.Next(0)
	if done {
		t.Error("buffer reported done before Close")
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if recs[i].Seq != i || recs[i].Line != want {
			t.Errorf("record %d: got seq=%d line=%q", i, recs[i].Seq, recs[i].Line)
		}
	}
}

func TestLogBufferWakesTailerOnAppend(t *testing.T) {
	buf := NewLogBuffer()

	recs, wait, done := buf.Next(0)
	if len(recs) != 0 || done {
		t.Fatalf("unexpected initial state: %d records, done=%v", len(recs), done)
	}

	go buf.Append("late")
	select {
	case <-wait:
	case <-time.After(5 * time.Second):
		t.Fatal("tailer never woken")
	}

	recs, _, _ = buf.Next(0)
	if len(recs) != 1 || recs[0].Line != "late" {
		t.Errorf("unexpected records after wake: %v", recs)
	}
}

func TestLogBufferCloseSealsStream(t *testing.T) {
	buf := NewLogBuffer()
	buf.Append("only")

	_, wait, _ := buf.Next(1)
	go buf.Close()
	select {
	case <-wait:
	case <-time.After(5 * time.Second):
		t.Fatal("tailer never woken by Close")
	}

	recs, _, done := buf.Next(1)
	if !done {
		t.Error("buffer not done after Close")
	}
	if len(recs) != 0 {
		t.Errorf("unexpected records after Close: %v", recs)
	}

	buf.Append("dropped")
	if buf.Len() != 1 {
		t.Error("append after Close was not dropped")
	}
}
