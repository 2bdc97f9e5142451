package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"trainjob/internal/api"
	"trainjob/internal/state"
)

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, api.Errorf(api.KindValidation, "submit", "", "invalid request body: %v", err))
		return
	}
	slog.Info("submit requested", "job", req.Name)

	if req.Name == "" {
		writeError(w, api.Errorf(api.KindValidation, "submit", "", "job name is required"))
		return
	}
	if err := req.Spec.Validate(); err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			apiErr.Op, apiErr.Job = "submit", req.Name
			writeError(w, apiErr)
		} else {
			writeError(w, api.Errorf(api.KindValidation, "submit", req.Name, "%v", err))
		}
		return
	}

	job := &state.Job{
		Name:      req.Name,
		Spec:      req.Spec,
		Status:    api.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateJob(job); err != nil {
		if errors.Is(err, state.ErrAlreadyExists) {
			writeError(w, api.Errorf(api.KindSubmission, "submit", req.Name, "job name already in use"))
			return
		}
		writeError(w, api.Errorf(api.KindTransient, "submit", req.Name, "storing job: %v", err))
		return
	}

	s.logs.Create(req.Name)
	s.runner.Launch(req.Name)

	slog.Info("job accepted", "job", req.Name, "class", req.Spec.Resources.Class)
	writeJSON(w, http.StatusCreated, job.View())
}

func (s *Server) describeJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	job, err := s.store.GetJob(name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, api.Errorf(api.KindNotFound, "describe", name, "unknown job"))
			return
		}
		writeError(w, api.Errorf(api.KindTransient, "describe", name, "loading job: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs()
	if err != nil {
		writeError(w, api.Errorf(api.KindTransient, "list", "", "listing jobs: %v", err))
		return
	}
	resp := api.ListResponse{Jobs: make([]api.JobView, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, job.View())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	slog.Info("stop requested", "job", name)

	job, err := s.store.Transition(name, api.StatusStopping, "")
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(w, api.Errorf(api.KindNotFound, "stop", name, "unknown job"))
		return
	case errors.Is(err, state.ErrInvalidState):
		writeError(w, api.Errorf(api.KindInvalidState, "stop", name, "job is not stoppable in its current state"))
		return
	case err != nil:
		writeError(w, api.Errorf(api.KindTransient, "stop", name, "updating job: %v", err))
		return
	}

	s.runner.Cancel(name)

	// 202: the stop is a request, the terminal state arrives later.
	writeJSON(w, http.StatusAccepted, job.View())
}
