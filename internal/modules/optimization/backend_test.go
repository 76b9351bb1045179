package optimization

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantum-trader/internal/clients/runtime"
	"github.com/quantfolio/quantum-trader/internal/events"
	"github.com/quantfolio/quantum-trader/pkg/logger"
)

// fakeRuntimeService implements RuntimeService for tests.
type fakeRuntimeService struct {
	backends    []runtime.BackendInfo
	backendsErr error
	sessionErr  error
	submitErr   error
	sessions    []*fakeSession
}

func (f *fakeRuntimeService) Backends(ctx context.Context) ([]runtime.BackendInfo, error) {
	return f.backends, f.backendsErr
}

func (f *fakeRuntimeService) OpenSession(ctx context.Context, backend string) (RuntimeSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	s := &fakeSession{backend: backend, submitErr: f.submitErr}
	f.sessions = append(f.sessions, s)
	return s, nil
}

type fakeSession struct {
	backend   string
	closed    bool
	submitErr error
	job       *fakeJob
}

func (s *fakeSession) SubmitSampling(ctx context.Context, circuit runtime.CircuitPayload, shots int) (RuntimeJob, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	if s.job == nil {
		s.job = &fakeJob{
			id:       "job-1",
			statuses: []string{runtime.JobStateDone},
			result:   map[string]float64{"11000": 1.0},
		}
	}
	return s.job, nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

// fakeJob walks through a scripted status sequence.
type fakeJob struct {
	id       string
	statuses []string
	queue    []int
	calls    int
	result   map[string]float64
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Status(ctx context.Context) (runtime.JobStatus, error) {
	idx := j.calls
	if idx >= len(j.statuses) {
		idx = len(j.statuses) - 1
	}
	j.calls++
	pos := 0
	if idx < len(j.queue) {
		pos = j.queue[idx]
	}
	return runtime.JobStatus{State: j.statuses[idx], QueuePosition: pos}, nil
}

func (j *fakeJob) Result(ctx context.Context) (map[string]float64, error) {
	return j.result, nil
}

func testLogger() zerolog.Logger {
	return logger.New(logger.Config{Level: "error", Pretty: false})
}

func testManager(t *testing.T, svc RuntimeService, mutate func(*ManagerConfig)) (*Manager, *events.Bus) {
	t.Helper()
	log := testLogger()
	bus := events.NewBus(log)
	cfg := ManagerConfig{
		MaxRetries:   3,
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
		BackoffUnit:  time.Microsecond,
		Bus:          bus,
		Log:          log,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if svc == nil {
		return NewManager(cfg), bus
	}
	return newManagerWithService(cfg, svc), bus
}

func TestSelectBackend(t *testing.T) {
	candidates := []runtime.BackendInfo{
		{Name: "small_hw", NumQubits: 5, Simulator: false, PendingJobs: 0},
		{Name: "big_hw", NumQubits: 27, Simulator: false, PendingJobs: 12},
		{Name: "big_sim", NumQubits: 32, Simulator: true, PendingJobs: 3},
	}

	t.Run("capacity filter applies", func(t *testing.T) {
		b, err := selectBackend(candidates, 10, false)
		require.NoError(t, err)
		assert.Equal(t, "big_sim", b.Name, "least pending among capable")
	})

	t.Run("no capable backend", func(t *testing.T) {
		_, err := selectBackend(candidates, 64, false)
		assert.ErrorIs(t, err, ErrNoCapableBackend)
	})

	t.Run("hardware preference wins over load", func(t *testing.T) {
		b, err := selectBackend(candidates, 10, true)
		require.NoError(t, err)
		assert.Equal(t, "big_hw", b.Name)
	})

	t.Run("hardware preference falls back to simulators", func(t *testing.T) {
		b, err := selectBackend(candidates, 30, true)
		require.NoError(t, err)
		assert.Equal(t, "big_sim", b.Name)
	})

	t.Run("ties keep first encountered", func(t *testing.T) {
		tied := []runtime.BackendInfo{
			{Name: "first", NumQubits: 10, PendingJobs: 2},
			{Name: "second", NumQubits: 10, PendingJobs: 2},
		}
		b, err := selectBackend(tied, 5, false)
		require.NoError(t, err)
		assert.Equal(t, "first", b.Name)
	})

	t.Run("repeated selection is deterministic", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			b, err := selectBackend(candidates, 10, false)
			require.NoError(t, err)
			assert.Equal(t, "big_sim", b.Name)
		}
	})
}

func TestExecuteWithRetries(t *testing.T) {
	t.Run("succeeds first try", func(t *testing.T) {
		m, _ := testManager(t, nil, nil)
		calls := 0
		err := m.ExecuteWithRetries(context.Background(), "op", func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("recovers after transient failures", func(t *testing.T) {
		m, _ := testManager(t, nil, nil)
		calls := 0
		err := m.ExecuteWithRetries(context.Background(), "op", func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("transient %d", calls)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhaustion wraps the last error", func(t *testing.T) {
		m, _ := testManager(t, nil, nil)
		boom := errors.New("backend down")
		calls := 0
		err := m.ExecuteWithRetries(context.Background(), "op", func() error {
			calls++
			return boom
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancellation interrupts backoff", func(t *testing.T) {
		m, _ := testManager(t, nil, func(cfg *ManagerConfig) {
			cfg.BackoffUnit = time.Hour
		})
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := m.ExecuteWithRetries(ctx, "op", func() error {
			return errors.New("always fails")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestAcquireSampler_NoCredentialsUsesLocalReference(t *testing.T) {
	m, bus := testManager(t, nil, nil)

	var acquired []*events.SamplerAcquiredData
	bus.Subscribe(events.SamplerAcquired, func(e *events.Event) {
		acquired = append(acquired, e.Data.(*events.SamplerAcquiredData))
	})

	acq := m.AcquireSampler(context.Background(), 5, 1024)
	defer acq.Release()

	require.NotNil(t, acq.Sampler)
	assert.Equal(t, TierLocalReference, acq.Tier)
	assert.Equal(t, "local_reference", acq.Backend)
	assert.Zero(t, m.TotalCost())

	require.Len(t, acquired, 1)
	assert.Equal(t, "local_reference", acquired[0].Backend)
	assert.Zero(t, acquired[0].EstimatedCost)
}

func TestAcquireSampler_AuthFailureFallsBackToLocalReference(t *testing.T) {
	// Credentials are configured but the runtime endpoint is unreachable,
	// so authentication fails and acquisition lands on the local tier.
	client := runtime.NewClient("http://127.0.0.1:1", "token", "", "", testLogger())
	m, _ := testManager(t, nil, func(cfg *ManagerConfig) {
		cfg.Credentials = client
	})

	acq := m.AcquireSampler(context.Background(), 5, 512)
	defer acq.Release()

	assert.Equal(t, TierLocalReference, acq.Tier)
	require.NotNil(t, acq.Sampler)
	assert.Zero(t, m.TotalCost())
}

func TestAcquireSampler_AuthFailureRetriedOnNextAcquisition(t *testing.T) {
	// A transient runtime outage must not demote the manager for good.
	// The account endpoint fails once and recovers; the next acquisition
	// authenticates again and reaches the hardware tier.
	var accountCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/account", func(w http.ResponseWriter, r *http.Request) {
		accountCalls++
		if accountCalls == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"channel":"ibm_quantum"}`)
	})
	mux.HandleFunc("GET /v1/backends", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"backends":[{"name":"hw_27","num_qubits":27,"simulator":false,"pending_jobs":0}]}`)
	})
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"session_id":"sess-1"}`)
	})
	mux.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := runtime.NewClient(srv.URL, "token", "", "", testLogger())
	m, _ := testManager(t, nil, func(cfg *ManagerConfig) {
		cfg.Credentials = client
	})

	first := m.AcquireSampler(context.Background(), 5, 512)
	first.Release()
	assert.Equal(t, TierLocalReference, first.Tier, "outage routes to the fallback tier")

	second := m.AcquireSampler(context.Background(), 5, 512)
	defer second.Release()
	assert.Equal(t, TierHardware, second.Tier)
	assert.Equal(t, "hw_27", second.Backend)
	assert.Equal(t, 2, accountCalls, "one failed attempt, one successful retry")
}

func TestAcquireSampler_HardwareTierRecordsCost(t *testing.T) {
	svc := &fakeRuntimeService{
		backends: []runtime.BackendInfo{
			{Name: "hw_27", NumQubits: 27, Simulator: false, PendingJobs: 1},
		},
	}
	m, _ := testManager(t, svc, func(cfg *ManagerConfig) {
		cfg.PricePerShot = 0.001
	})

	acq := m.AcquireSampler(context.Background(), 5, 2000)
	require.Equal(t, TierHardware, acq.Tier)
	assert.Equal(t, "hw_27", acq.Backend)
	assert.InDelta(t, 2.0, m.TotalCost(), 1e-9)

	// Cost is monotonic across acquisitions.
	acq2 := m.AcquireSampler(context.Background(), 5, 1000)
	assert.InDelta(t, 3.0, m.TotalCost(), 1e-9)

	acq.Release()
	acq2.Release()
	for _, s := range svc.sessions {
		assert.True(t, s.closed, "session on %s must be closed on release", s.backend)
	}
}

func TestAcquireSampler_FallsBackToManagedSimulator(t *testing.T) {
	svc := &fakeRuntimeService{
		backendsErr: errors.New("backend listing unavailable"),
	}
	m, _ := testManager(t, svc, func(cfg *ManagerConfig) {
		cfg.EnableManagedSim = true
		cfg.ManagedSimBackend = "cloud_sim"
	})

	acq := m.AcquireSampler(context.Background(), 5, 1024)
	defer acq.Release()

	assert.Equal(t, TierManagedSimulator, acq.Tier)
	assert.Equal(t, "cloud_sim", acq.Backend)
	assert.Zero(t, m.TotalCost(), "simulator tiers never accrue cost")
}

func TestAcquireSampler_FallsThroughToLocalReference(t *testing.T) {
	svc := &fakeRuntimeService{
		backendsErr: errors.New("backend listing unavailable"),
		sessionErr:  errors.New("session refused"),
	}
	m, _ := testManager(t, svc, func(cfg *ManagerConfig) {
		cfg.EnableManagedSim = true
	})

	acq := m.AcquireSampler(context.Background(), 5, 1024)
	defer acq.Release()

	assert.Equal(t, TierLocalReference, acq.Tier)
	assert.Zero(t, m.TotalCost())
}

func TestMonitorJob(t *testing.T) {
	t.Run("polls until done and returns the result", func(t *testing.T) {
		m, bus := testManager(t, nil, nil)
		var polled []*events.QuantumJobPolledData
		bus.Subscribe(events.QuantumJobPolled, func(e *events.Event) {
			polled = append(polled, e.Data.(*events.QuantumJobPolledData))
		})

		job := &fakeJob{
			id:       "job-42",
			statuses: []string{"QUEUED", "RUNNING", runtime.JobStateDone},
			queue:    []int{3, 0, 0},
			result:   map[string]float64{"11000": 0.9, "00000": 0.1},
		}

		result, err := m.MonitorJob(context.Background(), job)
		require.NoError(t, err)
		assert.InDelta(t, 0.9, result["11000"], 1e-9)

		require.Len(t, polled, 3)
		assert.Equal(t, "QUEUED", polled[0].Status)
		assert.Equal(t, 3, polled[0].QueuePosition)
		assert.Equal(t, runtime.JobStateDone, polled[2].Status)
	})

	t.Run("error state fails", func(t *testing.T) {
		m, _ := testManager(t, nil, nil)
		job := &fakeJob{id: "job-err", statuses: []string{runtime.JobStateError}}
		_, err := m.MonitorJob(context.Background(), job)
		require.Error(t, err)
		assert.Contains(t, err.Error(), runtime.JobStateError)
	})

	t.Run("times out on a stuck job", func(t *testing.T) {
		m, _ := testManager(t, nil, func(cfg *ManagerConfig) {
			cfg.PollTimeout = 5 * time.Millisecond
		})
		job := &fakeJob{id: "job-stuck", statuses: []string{"QUEUED"}}
		_, err := m.MonitorJob(context.Background(), job)
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestAcquisition_ReleaseIsIdempotent(t *testing.T) {
	closes := 0
	acq := &Acquisition{closeSession: func() { closes++ }}
	acq.Release()
	acq.Release()
	assert.Equal(t, 1, closes)
}
