// Package runtime provides an HTTP client for a hosted quantum runtime
// service: backend discovery, session management and sampling jobs.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client is an HTTP client for the quantum runtime service.
type Client struct {
	baseURL  string
	token    string
	channel  string
	instance string
	client   *http.Client
	log      zerolog.Logger
}

// NewClient creates a new runtime client. The token is sent as a bearer
// credential on every request.
func NewClient(baseURL, token, channel, instance string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		token:    token,
		channel:  channel,
		instance: instance,
		client: &http.Client{
			Timeout: 60 * time.Second, // Job submission can be slow under queue pressure
		},
		log: log.With().Str("client", "quantum_runtime").Logger(),
	}
}

// BackendInfo describes one compute backend as reported by the service.
type BackendInfo struct {
	Name        string `json:"name"`
	NumQubits   int    `json:"num_qubits"`
	Simulator   bool   `json:"simulator"`
	PendingJobs int    `json:"pending_jobs"`
}

// JobStatus is a point-in-time view of a sampling job.
type JobStatus struct {
	State         string `json:"state"`
	QueuePosition int    `json:"queue_position"`
}

// Terminal job states.
const (
	JobStateDone      = "DONE"
	JobStateError     = "ERROR"
	JobStateCancelled = "CANCELLED"
)

// IsTerminal reports whether the job has reached a terminal state.
func (s JobStatus) IsTerminal() bool {
	return s.State == JobStateDone || s.State == JobStateError || s.State == JobStateCancelled
}

// CircuitPayload is the wire representation of a variational circuit.
// The service only needs the diagonal cost terms and the layer parameters.
type CircuitPayload struct {
	NumQubits int         `json:"num_qubits"`
	Gammas    []float64   `json:"gammas"`
	Betas     []float64   `json:"betas"`
	Linear    []float64   `json:"linear"`
	Quadratic [][]float64 `json:"quadratic"`
}

// Authenticate verifies the credentials against the service.
func (c *Client) Authenticate(ctx context.Context) error {
	var out struct {
		Channel string `json:"channel"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/account", nil, &out); err != nil {
		return fmt.Errorf("runtime authentication failed: %w", err)
	}
	c.log.Info().Str("channel", out.Channel).Msg("Authenticated with quantum runtime service")
	return nil
}

// Backends returns the backends visible to the authenticated account.
func (c *Client) Backends(ctx context.Context) ([]BackendInfo, error) {
	var out struct {
		Backends []BackendInfo `json:"backends"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/backends", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list backends: %w", err)
	}
	return out.Backends, nil
}

// OpenSession opens an execution session pinned to a backend.
func (c *Client) OpenSession(ctx context.Context, backend string) (*Session, error) {
	req := map[string]string{"backend": backend}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &out); err != nil {
		return nil, fmt.Errorf("failed to open session on %s: %w", backend, err)
	}
	return &Session{id: out.SessionID, backend: backend, client: c}, nil
}

// Session is a scoped execution context on a single backend.
type Session struct {
	id      string
	backend string
	client  *Client
}

// Backend returns the backend name the session is pinned to.
func (s *Session) Backend() string {
	return s.backend
}

// SubmitSampling submits a sampling job and returns a handle for polling.
func (s *Session) SubmitSampling(ctx context.Context, circuit CircuitPayload, shots int) (*Job, error) {
	req := map[string]interface{}{
		"circuit": circuit,
		"shots":   shots,
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	path := fmt.Sprintf("/v1/sessions/%s/jobs", s.id)
	if err := s.client.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, fmt.Errorf("failed to submit sampling job: %w", err)
	}
	return &Job{id: out.JobID, client: s.client}, nil
}

// Close releases the session on the service side.
func (s *Session) Close(ctx context.Context) error {
	path := fmt.Sprintf("/v1/sessions/%s", s.id)
	if err := s.client.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to close session %s: %w", s.id, err)
	}
	return nil
}

// Job is a handle to a submitted sampling job.
type Job struct {
	id     string
	client *Client
}

// ID returns the service-assigned job identifier.
func (j *Job) ID() string {
	return j.id
}

// Status queries the current job state and queue position.
func (j *Job) Status(ctx context.Context) (JobStatus, error) {
	var out JobStatus
	path := fmt.Sprintf("/v1/jobs/%s", j.id)
	if err := j.client.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return JobStatus{}, fmt.Errorf("failed to query job status: %w", err)
	}
	return out, nil
}

// Result fetches the measurement distribution of a finished job.
// Keys are bitstrings, values are probabilities.
func (j *Job) Result(ctx context.Context) (map[string]float64, error) {
	var out struct {
		Distribution map[string]float64 `json:"distribution"`
	}
	path := fmt.Sprintf("/v1/jobs/%s/result", j.id)
	if err := j.client.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch job result: %w", err)
	}
	return out.Distribution, nil
}

// do sends a request and decodes the JSON response into target (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, target interface{}) error {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.channel != "" {
		httpReq.Header.Set("X-Runtime-Channel", c.channel)
	}
	if c.instance != "" {
		httpReq.Header.Set("X-Runtime-Instance", c.instance)
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg("Calling quantum runtime service")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("runtime service returned %d: %s", httpResp.StatusCode, string(respBody))
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
