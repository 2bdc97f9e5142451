package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"trainjob/internal/api"
	"trainjob/internal/state"
)

// streamLogs relays a job's log stream as NDJSON. Without ?follow it
// returns what exists now and ends; with ?follow it blocks between
// records until the stream is sealed at a terminal status. ?from=N
// positions the start; a follow without from starts at the current
// tail.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if _, err := s.store.GetJob(name); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, api.Errorf(api.KindNotFound, "logs", name, "unknown job"))
			return
		}
		writeError(w, api.Errorf(api.KindTransient, "logs", name, "loading job: %v", err))
		return
	}

	buf := s.logs.Get(name)

	follow := r.URL.Query().Get("follow") != ""
	from := 0
	if follow && buf != nil {
		from = buf.Len()
	}
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, api.Errorf(api.KindValidation, "logs", name, "invalid from position %q", v))
			return
		}
		from = n
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		// Push headers out so the tailer sees the stream open before
		// the first record arrives.
		flusher.Flush()
	}

	// Jobs restored from a durable store after a restart have no
	// buffer; their stream is empty and already over.
	if buf == nil {
		return
	}

	enc := json.NewEncoder(w)
	ctx := r.Context()
	for {
		recs, wait, done := buf.Next(from)
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return
			}
			from = rec.Seq + 1
		}
		if len(recs) > 0 && flusher != nil {
			flusher.Flush()
		}
		if done || !follow {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-wait:
		}
	}
}
