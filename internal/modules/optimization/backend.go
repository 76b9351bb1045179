package optimization

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantum-trader/internal/clients/runtime"
	"github.com/quantfolio/quantum-trader/internal/events"
)

// Tier identifies which level of the backend hierarchy served an
// acquisition. Selection walks the tiers in order and the local reference
// tier always succeeds, so acquisition itself never fails.
type Tier int

const (
	TierHardware Tier = iota
	TierManagedSimulator
	TierLocalReference
)

// String returns a stable name for the tier.
func (t Tier) String() string {
	switch t {
	case TierHardware:
		return "hardware"
	case TierManagedSimulator:
		return "managed_simulator"
	case TierLocalReference:
		return "local_reference"
	default:
		return "unknown"
	}
}

// RuntimeService is the slice of the runtime client the manager depends
// on. Tests substitute fakes.
type RuntimeService interface {
	Backends(ctx context.Context) ([]runtime.BackendInfo, error)
	OpenSession(ctx context.Context, backend string) (RuntimeSession, error)
}

// RuntimeSession is a scoped execution context on a remote backend.
type RuntimeSession interface {
	SubmitSampling(ctx context.Context, circuit runtime.CircuitPayload, shots int) (RuntimeJob, error)
	Close(ctx context.Context) error
}

// RuntimeJob is a pollable handle to a submitted sampling job.
type RuntimeJob interface {
	ID() string
	Status(ctx context.Context) (runtime.JobStatus, error)
	Result(ctx context.Context) (map[string]float64, error)
}

// runtimeServiceAdapter adapts the concrete HTTP client to the manager's
// interfaces.
type runtimeServiceAdapter struct {
	client *runtime.Client
}

func (a runtimeServiceAdapter) Backends(ctx context.Context) ([]runtime.BackendInfo, error) {
	return a.client.Backends(ctx)
}

func (a runtimeServiceAdapter) OpenSession(ctx context.Context, backend string) (RuntimeSession, error) {
	session, err := a.client.OpenSession(ctx, backend)
	if err != nil {
		return nil, err
	}
	return runtimeSessionAdapter{session: session}, nil
}

type runtimeSessionAdapter struct {
	session *runtime.Session
}

func (a runtimeSessionAdapter) SubmitSampling(ctx context.Context, circuit runtime.CircuitPayload, shots int) (RuntimeJob, error) {
	return a.session.SubmitSampling(ctx, circuit, shots)
}

func (a runtimeSessionAdapter) Close(ctx context.Context) error {
	return a.session.Close(ctx)
}

// ManagerConfig configures the backend resource manager.
type ManagerConfig struct {
	// Credentials holds the authenticated runtime client factory. Nil
	// means no token was configured: the manager silently uses the
	// simulator fallback.
	Credentials *runtime.Client

	PreferHardware    bool
	EnableManagedSim  bool
	ManagedSimBackend string
	MaxRetries        int
	PricePerShot      float64
	PollInterval      time.Duration
	PollTimeout       time.Duration

	// BackoffUnit scales the retry backoff; defaults to one second.
	BackoffUnit time.Duration

	Bus *events.Bus
	Log zerolog.Logger
}

// Manager owns authentication, backend selection, tiered fallback, session
// lifetime, cost accounting, retry policy and job polling for quantum
// workloads.
type Manager struct {
	preferHardware    bool
	enableManagedSim  bool
	managedSimBackend string
	maxRetries        int
	pricePerShot      float64
	pollInterval      time.Duration
	pollTimeout       time.Duration
	backoffUnit       time.Duration

	bus *events.Bus
	log zerolog.Logger

	// Lazily initialized authenticated service handle, reused across
	// acquisitions. Only success is cached; a failed authentication is
	// retried on the next acquisition.
	credentials *runtime.Client
	svcMu       sync.Mutex
	svc         RuntimeService

	ledger costLedger
}

// NewManager creates a backend resource manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.PricePerShot <= 0 {
		cfg.PricePerShot = 1e-4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Minute
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.ManagedSimBackend == "" {
		cfg.ManagedSimBackend = "managed_simulator"
	}
	m := &Manager{
		preferHardware:    cfg.PreferHardware,
		enableManagedSim:  cfg.EnableManagedSim,
		managedSimBackend: cfg.ManagedSimBackend,
		maxRetries:        cfg.MaxRetries,
		pricePerShot:      cfg.PricePerShot,
		pollInterval:      cfg.PollInterval,
		pollTimeout:       cfg.PollTimeout,
		backoffUnit:       cfg.BackoffUnit,
		bus:               cfg.Bus,
		log:               cfg.Log.With().Str("component", "backend_manager").Logger(),
		credentials:       cfg.Credentials,
	}
	if m.credentials == nil {
		m.log.Info().Msg("No quantum runtime token configured; defaulting to simulator")
	}
	return m
}

// newManagerWithService wires a pre-built runtime service, bypassing the
// HTTP client. Used by tests and embedded deployments.
func newManagerWithService(cfg ManagerConfig, svc RuntimeService) *Manager {
	m := NewManager(cfg)
	m.svc = svc
	return m
}

// service returns the authenticated runtime service, or nil when no
// credentials are configured or authentication failed. Failures are
// absorbed: they route the current acquisition to the fallback tiers
// and authentication is attempted again on the next one. The mutex
// keeps concurrent acquisitions from authenticating twice.
func (m *Manager) service(ctx context.Context) RuntimeService {
	m.svcMu.Lock()
	defer m.svcMu.Unlock()
	if m.svc != nil {
		return m.svc
	}
	if m.credentials == nil {
		return nil
	}
	if err := m.credentials.Authenticate(ctx); err != nil {
		m.log.Error().Err(err).Msg("Unable to authenticate with quantum runtime")
		return nil
	}
	m.svc = runtimeServiceAdapter{client: m.credentials}
	return m.svc
}

// TotalCost returns the aggregate estimated execution cost.
func (m *Manager) TotalCost() float64 {
	return m.ledger.total()
}

// Acquisition is one successfully acquired sampler plus its provenance.
// Release must be called on every exit path; it is safe to call once the
// acquisition goes out of scope regardless of how the work ended.
type Acquisition struct {
	Sampler Sampler
	Tier    Tier
	Backend string

	closeSession func()
	once         sync.Once
}

// Release closes the underlying session, if any. Close failures are
// logged by the manager and never raised.
func (a *Acquisition) Release() {
	a.once.Do(func() {
		if a.closeSession != nil {
			a.closeSession()
		}
	})
}

// AcquireSampler walks the backend tiers and always yields a usable
// sampler: hardware/cloud first (when authenticated), then the managed
// simulator tier (when enabled), finally the exact local reference
// simulator. Authentication, selection and session failures fall through
// to the next tier instead of propagating.
func (m *Manager) AcquireSampler(ctx context.Context, numQubits, shots int) *Acquisition {
	if svc := m.service(ctx); svc != nil {
		acq, err := m.acquireRemote(ctx, svc, TierHardware, numQubits, shots)
		if err == nil {
			cost := float64(shots) * m.pricePerShot
			m.ledger.add(cost)
			m.emitSamplerAcquired(acq, shots, cost)
			return acq
		}
		m.log.Warn().Err(err).Msg("Falling back to simulator tier due to backend error")

		if m.enableManagedSim {
			acq, err = m.acquireManagedSim(ctx, svc, shots)
			if err == nil {
				m.emitSamplerAcquired(acq, shots, 0)
				return acq
			}
			m.log.Warn().Err(err).Msg("Managed simulator unavailable; using local reference sampler")
		}
	}

	m.log.Info().Int("shots", shots).Msg("Using local reference sampler")
	acq := &Acquisition{
		Sampler: NewReferenceSampler(),
		Tier:    TierLocalReference,
		Backend: "local_reference",
	}
	m.emitSamplerAcquired(acq, shots, 0)
	return acq
}

// acquireRemote selects a capable backend and opens a session on it.
func (m *Manager) acquireRemote(ctx context.Context, svc RuntimeService, tier Tier, numQubits, shots int) (*Acquisition, error) {
	candidates, err := svc.Backends(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve backends: %w", err)
	}

	backend, err := selectBackend(candidates, numQubits, m.preferHardware)
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("backend", backend.Name).
		Int("pending_jobs", backend.PendingJobs).
		Bool("simulator", backend.Simulator).
		Msg("Selected backend")

	return m.openSession(ctx, svc, tier, backend.Name, shots)
}

// acquireManagedSim opens a session on the configured managed simulator
// backend. The managed tier is assumed capable up to the practical qubit
// ceiling, so no capacity filtering applies.
func (m *Manager) acquireManagedSim(ctx context.Context, svc RuntimeService, shots int) (*Acquisition, error) {
	return m.openSession(ctx, svc, TierManagedSimulator, m.managedSimBackend, shots)
}

func (m *Manager) openSession(ctx context.Context, svc RuntimeService, tier Tier, backend string, shots int) (*Acquisition, error) {
	session, err := svc.OpenSession(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open session on %s: %w", backend, err)
	}

	return &Acquisition{
		Sampler: &runtimeSampler{manager: m, session: session},
		Tier:    tier,
		Backend: backend,
		closeSession: func() {
			// Session teardown must not block on the (possibly cancelled)
			// request context.
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := session.Close(closeCtx); err != nil {
				m.log.Warn().Err(err).Str("backend", backend).Msg("Failed to close quantum session")
			}
		},
	}, nil
}

func (m *Manager) emitSamplerAcquired(acq *Acquisition, shots int, cost float64) {
	if m.bus == nil {
		return
	}
	m.bus.Emit("backend_manager", &events.SamplerAcquiredData{
		Backend:       acq.Backend,
		Tier:          acq.Tier.String(),
		Shots:         shots,
		EstimatedCost: cost,
	})
}

// selectBackend filters candidates by qubit capacity and picks the least
// loaded. With hardware preference, non-simulator backends are considered
// first. Ties keep the first candidate encountered.
func selectBackend(candidates []runtime.BackendInfo, numQubits int, preferHardware bool) (runtime.BackendInfo, error) {
	var qualified []runtime.BackendInfo
	for _, b := range candidates {
		if b.NumQubits >= numQubits {
			qualified = append(qualified, b)
		}
	}
	if len(qualified) == 0 {
		return runtime.BackendInfo{}, fmt.Errorf("%w: no backend supports %d qubits",
			ErrNoCapableBackend, numQubits)
	}

	if preferHardware {
		var hardware []runtime.BackendInfo
		for _, b := range qualified {
			if !b.Simulator {
				hardware = append(hardware, b)
			}
		}
		if len(hardware) > 0 {
			return leastPending(hardware), nil
		}
	}
	return leastPending(qualified), nil
}

func leastPending(backends []runtime.BackendInfo) runtime.BackendInfo {
	best := backends[0]
	for _, b := range backends[1:] {
		if b.PendingJobs < best.PendingJobs {
			best = b
		}
	}
	return best
}

// ExecuteWithRetries runs op with bounded retries. Each failure is logged
// and followed by an exponential backoff of min(2^attempt, 30) backoff
// units, waited as a cancellable suspension point. After the bound is
// reached it fails with ErrRetriesExhausted wrapping the last error.
func (m *Manager) ExecuteWithRetries(ctx context.Context, description string, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		m.log.Info().Int("attempt", attempt).Str("operation", description).Msg("Executing operation")
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		m.log.Error().
			Err(err).
			Int("attempt", attempt).
			Str("operation", description).
			Msg("Execution attempt failed")

		backoff := time.Duration(math.Min(math.Pow(2, float64(attempt)), 30)) * m.backoffUnit
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: all %d attempts failed for %s: %w",
		ErrRetriesExhausted, m.maxRetries, description, lastErr)
}

// MonitorJob polls a remote job until it reaches a terminal state or the
// poll timeout elapses. Every tick emits an observability event with the
// job id, status and queue position; that event is the only externally
// visible signal during long executions.
func (m *Manager) MonitorJob(ctx context.Context, job RuntimeJob) (map[string]float64, error) {
	deadline := time.Now().Add(m.pollTimeout)
	for {
		status, err := job.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to poll job %s: %w", job.ID(), err)
		}

		m.log.Debug().
			Str("job_id", job.ID()).
			Str("status", status.State).
			Int("queue_position", status.QueuePosition).
			Msg("Job status update")
		if m.bus != nil {
			m.bus.Emit("backend_manager", &events.QuantumJobPolledData{
				JobID:         job.ID(),
				Status:        status.State,
				QueuePosition: status.QueuePosition,
			})
		}

		if status.IsTerminal() {
			if status.State != runtime.JobStateDone {
				return nil, fmt.Errorf("job %s ended in state %s", job.ID(), status.State)
			}
			return job.Result(ctx)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: job %s exceeded %s", ErrTimeout, job.ID(), m.pollTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// runtimeSampler executes circuits through a remote session, polling the
// submitted job to completion.
type runtimeSampler struct {
	manager *Manager
	session RuntimeSession
}

func (s *runtimeSampler) Sample(ctx context.Context, circuit Circuit, shots int) (Distribution, error) {
	payload := runtime.CircuitPayload{
		NumQubits: circuit.NumQubits,
		Gammas:    circuit.Gammas,
		Betas:     circuit.Betas,
		Linear:    circuit.Ising.H,
	}
	n := circuit.NumQubits
	payload.Quadratic = make([][]float64, n)
	for i := 0; i < n; i++ {
		payload.Quadratic[i] = make([]float64, n)
		for j := i + 1; j < n; j++ {
			payload.Quadratic[i][j] = circuit.Ising.J.At(i, j)
		}
	}

	job, err := s.session.SubmitSampling(ctx, payload, shots)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}

	raw, err := s.manager.MonitorJob(ctx, job)
	if err != nil {
		return nil, err
	}

	dist := make(Distribution, len(raw))
	for bitstring, p := range raw {
		dist[bitstring] = p
	}
	return dist, nil
}

// costLedger is the process-wide running total of estimated execution
// cost. Monotonic: incremented on successful non-fallback acquisitions,
// never decremented.
type costLedger struct {
	mu  sync.Mutex
	sum float64
}

func (l *costLedger) add(amount float64) {
	l.mu.Lock()
	l.sum += amount
	l.mu.Unlock()
}

func (l *costLedger) total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sum
}
