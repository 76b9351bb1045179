package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantum-trader/pkg/logger"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	return NewClient(server.URL, "test-token", "test-channel", "test-instance", log), server
}

func TestClient_SendsCredentialHeaders(t *testing.T) {
	var gotAuth, gotChannel, gotInstance string
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotChannel = r.Header.Get("X-Runtime-Channel")
		gotInstance = r.Header.Get("X-Runtime-Instance")
		json.NewEncoder(w).Encode(map[string]string{"channel": "test-channel"})
	})

	require.NoError(t, client.Authenticate(context.Background()))
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "test-channel", gotChannel)
	assert.Equal(t, "test-instance", gotInstance)
}

func TestClient_Authenticate_Rejected(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
	})

	err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_Backends(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/backends", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"backends": []BackendInfo{
				{Name: "hw_27", NumQubits: 27, Simulator: false, PendingJobs: 4},
				{Name: "sim_32", NumQubits: 32, Simulator: true, PendingJobs: 0},
			},
		})
	})

	backends, err := client.Backends(context.Background())
	require.NoError(t, err)
	require.Len(t, backends, 2)
	assert.Equal(t, "hw_27", backends[0].Name)
	assert.True(t, backends[1].Simulator)
}

func TestClient_SessionAndJobLifecycle(t *testing.T) {
	statusCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hw_27", body["backend"])
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1"})
	})
	mux.HandleFunc("POST /v1/sessions/sess-1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Circuit CircuitPayload `json:"circuit"`
			Shots   int            `json:"shots"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 5, body.Circuit.NumQubits)
		assert.Equal(t, 1024, body.Shots)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-9"})
	})
	mux.HandleFunc("GET /v1/jobs/job-9", func(w http.ResponseWriter, r *http.Request) {
		statusCalls++
		state := "QUEUED"
		if statusCalls > 1 {
			state = JobStateDone
		}
		json.NewEncoder(w).Encode(JobStatus{State: state, QueuePosition: 2 - statusCalls})
	})
	mux.HandleFunc("GET /v1/jobs/job-9/result", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"distribution": map[string]float64{"11000": 0.75, "00000": 0.25},
		})
	})
	mux.HandleFunc("DELETE /v1/sessions/sess-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := testClient(t, mux.ServeHTTP)
	ctx := context.Background()

	session, err := client.OpenSession(ctx, "hw_27")
	require.NoError(t, err)
	assert.Equal(t, "hw_27", session.Backend())

	job, err := session.SubmitSampling(ctx, CircuitPayload{
		NumQubits: 5,
		Gammas:    []float64{0.1, 0.2},
		Betas:     []float64{0.3, 0.4},
	}, 1024)
	require.NoError(t, err)
	assert.Equal(t, "job-9", job.ID())

	status, err := job.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "QUEUED", status.State)
	assert.False(t, status.IsTerminal())

	status, err = job.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsTerminal())

	result, err := job.Result(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, result["11000"], 1e-9)

	require.NoError(t, session.Close(ctx))
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.True(t, JobStatus{State: JobStateDone}.IsTerminal())
	assert.True(t, JobStatus{State: JobStateError}.IsTerminal())
	assert.True(t, JobStatus{State: JobStateCancelled}.IsTerminal())
	assert.False(t, JobStatus{State: "RUNNING"}.IsTerminal())
	assert.False(t, JobStatus{State: "QUEUED"}.IsTerminal())
}
