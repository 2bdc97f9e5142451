package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"trainjob/internal/api"
)

// LogStream is a finite, one-shot sequence of log records relayed from
// the service. Next blocks until a record arrives or the stream ends;
// io.EOF marks normal exhaustion at the job's terminal status, and
// context.Canceled marks a caller-initiated abandon - neither is a
// service failure.
type LogStream struct {
	ctx  context.Context
	resp *http.Response
	dec  *json.Decoder
}

func newLogStream(ctx context.Context, resp *http.Response) *LogStream {
	return &LogStream{ctx: ctx, resp: resp, dec: json.NewDecoder(resp.Body)}
}

// Next returns the next record in emission order.
func (s *LogStream) Next() (api.LogRecord, error) {
	var rec api.LogRecord
	err := s.dec.Decode(&rec)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, io.EOF) {
		return rec, io.EOF
	}
	// A mid-stream read failure caused by our own cancellation is the
	// caller's exit path, not an error from the service.
	if s.ctx.Err() != nil {
		return rec, s.ctx.Err()
	}
	return rec, api.Errorf(api.KindTransient, "logs", "", "reading log stream: %v", err)
}

// Close releases the underlying connection. Safe to call at any point;
// a tailer abandoning mid-stream just closes and walks away.
func (s *LogStream) Close() error {
	return s.resp.Body.Close()
}
