package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"trainjob/internal/api"
	"trainjob/internal/executor"
	"trainjob/internal/state"
)

// Server is the remote execution service: it accepts job submissions,
// runs them through an executor, and answers describe/logs/stop calls.
type Server struct {
	httpServer *http.Server
	store      state.Store
	logs       *state.Logs
	runner     *Runner
}

func New(store state.Store, exec executor.Executor) *Server {
	logs := state.NewLogs()
	s := &Server{
		store:  store,
		logs:   logs,
		runner: NewRunner(store, logs, exec),
	}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/jobs", s.submitJob).Methods("POST")
	v1.HandleFunc("/jobs", s.listJobs).Methods("GET")
	v1.HandleFunc("/jobs/{name}", s.describeJob).Methods("GET")
	v1.HandleFunc("/jobs/{name}/logs", s.streamLogs).Methods("GET")
	v1.HandleFunc("/jobs/{name}/stop", s.stopJob).Methods("POST")

	s.httpServer = &http.Server{Handler: r}
	return s
}

func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", port, err)
	}
	slog.Info("starting job service", "port", port)
	return s.httpServer.Serve(lis)
}

// Serve starts the server on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	return s.httpServer.Serve(lis)
}

// Stop drains in-flight requests and stops all running jobs.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
	s.runner.Shutdown()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *api.Error) {
	writeJSON(w, api.HTTPStatus(err.Kind), err)
}
