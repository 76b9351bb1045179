package optimization

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func handlerFixture(t *testing.T) (*Service, *chi.Mux) {
	t.Helper()
	svc, _ := serviceFixture(t)
	handler := NewHandler(svc, testLogger())
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})
	return svc, router
}

func TestHandleOptimize(t *testing.T) {
	svc, router := handlerFixture(t)

	returns, covariance := testUniverse()
	body, err := json.Marshal(Request{
		Returns:    returns,
		Covariance: covariance,
		Budget:     2,
		Shots:      256,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/optimize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID, ok := resp["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	record := waitForTerminal(t, svc, jobID)
	assert.Equal(t, JobCompleted, record.State)
}

func TestHandleOptimize_BadRequests(t *testing.T) {
	_, router := handlerFixture(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/optimize", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty universe", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/optimize", bytes.NewReader([]byte(`{"budget":2}`)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGetJob(t *testing.T) {
	svc, router := handlerFixture(t)

	returns, covariance := testUniverse()
	jobID, err := svc.StartOptimization(context.Background(), Request{
		Returns:    returns,
		Covariance: covariance,
		Budget:     2,
		Shots:      256,
	})
	require.NoError(t, err)
	waitForTerminal(t, svc, jobID)

	req := httptest.NewRequest(http.MethodGet, "/api/optimize/jobs/"+jobID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var record JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, jobID, record.ID)
	assert.Equal(t, JobCompleted, record.State)

	t.Run("unknown job", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/optimize/jobs/missing", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleCancelJob_Unknown(t *testing.T) {
	_, router := handlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/optimize/jobs/missing/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleHistoryAndCost(t *testing.T) {
	svc, router := handlerFixture(t)

	returns, covariance := testUniverse()
	jobID, err := svc.StartOptimization(context.Background(), Request{
		Returns:    returns,
		Covariance: covariance,
		Budget:     2,
		Shots:      256,
	})
	require.NoError(t, err)
	waitForTerminal(t, svc, jobID)

	t.Run("history", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/optimize/history", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Entries []HistoryEntry `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Entries, 1)
		assert.Equal(t, jobID, resp.Entries[0].JobID)
	})

	t.Run("history export", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/optimize/history/export", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

		var entries []HistoryEntry
		require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, jobID, entries[0].JobID)
	})

	t.Run("history import replaces entries", func(t *testing.T) {
		blob, err := msgpack.Marshal([]HistoryEntry{
			{JobID: "restored-1", Bitstring: "00110", Weights: []float64{0, 0, 0.5, 0.5, 0}},
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/optimize/history/import", bytes.NewReader(blob))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		entries := svc.History()
		require.Len(t, entries, 1)
		assert.Equal(t, "restored-1", entries[0].JobID)
	})

	t.Run("history import rejects garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/optimize/history/import", bytes.NewReader([]byte("not msgpack")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cost", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/optimize/cost", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]float64
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		// Local reference tier accrues no cost.
		assert.Zero(t, resp["total_cost"])
	})
}
