// Package controller mediates between a caller and the remote job
// service for one job at a time: submission, status inspection, log
// relay, and cancellation. It holds no authoritative state - the
// service owns every job; the controller keeps only names and
// last-observed snapshots.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"trainjob/internal/api"
)

// NamePrefix is the stem of generated job names; the suffix is a
// nanosecond timestamp.
const NamePrefix = "training-job"

// Defaults are submission-time fallbacks, built once at process start
// and threaded in explicitly rather than read from ambient state.
type Defaults struct {
	// OutputURIPrefix fills an empty spec output as <prefix>/<job name>.
	OutputURIPrefix string
	// ResourceClass fills an empty compute class.
	ResourceClass string
}

func (d Defaults) apply(spec *api.Spec, name string) {
	if spec.OutputURI == "" && d.OutputURIPrefix != "" {
		spec.OutputURI = fmt.Sprintf("%s/%s", d.OutputURIPrefix, name)
	}
	if spec.Resources.Class == "" && d.ResourceClass != "" {
		spec.Resources.Class = d.ResourceClass
	}
}

// JobHandle is the caller's reference to a submitted job: the
// immutable name plus a cached view of the last-observed status. The
// cache is advisory; Describe refreshes it.
type JobHandle struct {
	Name   string
	Status api.Status
}

// Controller is the client-side job lifecycle surface. Safe for
// concurrent use.
type Controller struct {
	endpoint string
	client   *http.Client
	names    *nameGenerator
	defaults Defaults
}

func New(endpoint string, defaults Defaults) *Controller {
	return &Controller{
		endpoint: endpoint,
		client:   &http.Client{},
		names:    newNameGenerator(NamePrefix),
		defaults: defaults,
	}
}

// Submit validates the spec locally, fills in defaults and a generated
// name when absent, and dispatches one submission request. It returns
// as soon as the service accepts the job; it never waits for
// completion, and it never retries a rejection - resubmission needs a
// fresh name and is the caller's call.
func (c *Controller) Submit(ctx context.Context, name string, spec api.Spec) (*JobHandle, error) {
	if name == "" {
		name = c.names.next()
	}
	c.defaults.apply(&spec, name)
	if err := spec.Validate(); err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			apiErr.Op, apiErr.Job = "submit", name
		}
		return nil, err
	}

	body, err := json.Marshal(api.SubmitRequest{Name: name, Spec: spec})
	if err != nil {
		return nil, api.Errorf(api.KindValidation, "submit", name, "encoding request: %v", err)
	}

	var view api.JobView
	if err := c.doJSON(ctx, http.MethodPost, "/v1/jobs", body, "submit", name, &view); err != nil {
		return nil, err
	}
	return &JobHandle{Name: view.Name, Status: view.Status}, nil
}

// Describe returns a point-in-time snapshot of the job. It is
// idempotent, so transient service errors are retried with Fibonacci
// backoff before being surfaced.
func (c *Controller) Describe(ctx context.Context, handle *JobHandle) (*api.JobView, error) {
	var view api.JobView
	b := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(handle.Name), nil, "describe", handle.Name, &view)
		if err != nil && api.KindOf(err) == api.KindTransient {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	handle.Status = view.Status
	return &view, nil
}

// List returns a snapshot of every job the service knows about.
func (c *Controller) List(ctx context.Context) ([]api.JobView, error) {
	var resp api.ListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs", nil, "list", "", &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Stop requests cancellation and returns once the service has accepted
// the request; the terminal Stopped status arrives asynchronously and
// is observed through Describe. Stopping an already-terminal job is an
// InvalidStateError, never a silent no-op.
func (c *Controller) Stop(ctx context.Context, handle *JobHandle) error {
	var view api.JobView
	err := c.doJSON(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(handle.Name)+"/stop", nil, "stop", handle.Name, &view)
	if err != nil {
		return err
	}
	handle.Status = view.Status
	return nil
}

// TailLogs opens a one-shot log stream starting at the job's current
// tail. The stream blocks between records and ends when the job
// reaches a terminal status; canceling ctx abandons the stream without
// touching the job. Callers needing history use LogHistory instead.
func (c *Controller) TailLogs(ctx context.Context, handle *JobHandle) (*LogStream, error) {
	return c.openLogs(ctx, handle.Name, "follow=1")
}

// LogHistory fetches the job's full log history as of now, without
// following.
func (c *Controller) LogHistory(ctx context.Context, handle *JobHandle) ([]api.LogRecord, error) {
	stream, err := c.openLogs(ctx, handle.Name, "from=0")
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var recs []api.LogRecord
	for {
		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}

func (c *Controller) openLogs(ctx context.Context, name, query string) (*LogStream, error) {
	u := fmt.Sprintf("%s/v1/jobs/%s/logs?%s", c.endpoint, url.PathEscape(name), query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, api.Errorf(api.KindValidation, "logs", name, "building request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, api.Errorf(api.KindTransient, "logs", name, "contacting service: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp, "logs", name)
	}
	return newLogStream(ctx, resp), nil
}

// doJSON performs one request and decodes a 2xx JSON body into out.
func (c *Controller) doJSON(ctx context.Context, method, path string, body []byte, op, job string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return api.Errorf(api.KindValidation, op, job, "building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return api.Errorf(api.KindTransient, op, job, "contacting service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, op, job)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return api.Errorf(api.KindTransient, op, job, "decoding response: %v", err)
		}
	}
	return nil
}

// decodeError reconstructs the service's structured error, falling
// back to the status-code mapping for bodies that are not ours.
func decodeError(resp *http.Response, op, job string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var apiErr api.Error
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Kind != "" {
		if apiErr.Op == "" {
			apiErr.Op = op
		}
		if apiErr.Job == "" {
			apiErr.Job = job
		}
		return &apiErr
	}
	return api.Errorf(api.KindFromHTTPStatus(resp.StatusCode), op, job,
		"service returned %s", resp.Status)
}
