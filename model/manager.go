package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/capability"
	"github.com/chaos-io/cutout/segment"
)

// Supported model identifiers. Compatibility runs everywhere; Quality is the
// heavier matting model; Constrained is the lite variant pinned on
// constrained devices.
const (
	Compatibility = "u2net"
	Quality       = "birefnet-general"
	Constrained   = "u2netp"
)

var supported = map[string]bool{
	Compatibility: true,
	Quality:       true,
	Constrained:   true,
}

// State is the lifecycle state of the active model.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateSwitching
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateSwitching:
		return "switching"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy rejects a lifecycle request while another is in flight.
	// Requests are rejected rather than queued so the caller decides
	// whether to wait or drop.
	ErrBusy = errors.New("model lifecycle operation already in flight")
	// ErrNotReady means segmentation was attempted before a model is Ready.
	ErrNotReady = errors.New("no model is ready")
	// ErrConstrained rejects model switching on a pinned device.
	ErrConstrained = errors.New("constrained device is pinned to a fixed model")
	// ErrAlreadyInitialized rejects Initialize once a model is Ready.
	ErrAlreadyInitialized = errors.New("model already initialized, use SwitchTo")
	// ErrUnknownModel rejects ids outside the supported set.
	ErrUnknownModel = errors.New("unknown model id")
)

// Result reports the outcome of a lifecycle operation. FellBack distinguishes
// "the requested model failed but the compatibility model took over" from an
// opaque success or failure.
type Result struct {
	ModelID  string `json:"model"`
	FellBack bool   `json:"fellBack"`
}

// Status is a read-only snapshot of the model state.
type Status struct {
	State        State
	ActiveModel  string
	Capabilities capability.Capabilities
}

// Manager owns the active model id and its lifecycle. All state transitions
// go through Initialize and SwitchTo; at most one lifecycle operation is in
// flight at a time, and the backend call itself runs outside the lock.
type Manager struct {
	client segment.Client
	logger *zap.Logger

	mu        sync.Mutex
	caps      capability.Capabilities
	state     State
	active    string // valid when state is Ready; last Ready id otherwise
	lastReady string
	busy      bool
	probed    bool
}

func NewManager(client segment.Client, caps capability.Capabilities, logger *zap.Logger) *Manager {
	return &Manager{
		client: client,
		caps:   caps,
		logger: logger.Named("model_manager"),
		state:  StateUninitialized,
	}
}

// Initialize loads the first model. An empty id selects the compatibility
// model; constrained devices are forced onto the pinned lite model regardless
// of the argument. A failing quality model falls back to the compatibility
// model automatically, reported via Result.FellBack rather than an error.
func (m *Manager) Initialize(ctx context.Context, modelID string) (Result, error) {
	modelID, err := m.resolve(modelID)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return Result{}, ErrBusy
	}
	if m.state == StateReady {
		m.mu.Unlock()
		return Result{}, ErrAlreadyInitialized
	}
	m.busy = true
	m.state = StateInitializing
	m.mu.Unlock()

	m.probeAcceleration(ctx)

	fallback := Compatibility
	if m.Capabilities().ConstrainedDevice {
		// Pinned devices have no alternative model to fall back to.
		fallback = modelID
	}

	res, err := m.loadWithFallback(ctx, modelID, fallback)
	m.finish(res, err)
	return res, err
}

// SwitchTo hot-switches the model ready for new work. Legal from Ready or
// Failed only. In-flight segmentations started under the previous model
// finish under it. On failure the most recent Ready model is re-initialized;
// only if that also fails does the manager end up Failed.
func (m *Manager) SwitchTo(ctx context.Context, modelID string) (Result, error) {
	if m.Capabilities().ConstrainedDevice {
		return Result{}, ErrConstrained
	}
	if !supported[modelID] {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return Result{}, ErrBusy
	}
	if m.state != StateReady && m.state != StateFailed {
		m.mu.Unlock()
		return Result{}, ErrNotReady
	}
	if m.state == StateReady && m.active == modelID {
		m.mu.Unlock()
		return Result{ModelID: modelID}, nil
	}
	prev := m.lastReady
	m.busy = true
	m.state = StateSwitching
	m.mu.Unlock()

	fallback := prev
	if fallback == "" || fallback == modelID {
		fallback = Compatibility
	}

	res, err := m.loadWithFallback(ctx, modelID, fallback)
	m.finish(res, err)
	return res, err
}

// Active returns the model id ready for new work.
func (m *Manager) Active() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return "", ErrNotReady
	}
	return m.active, nil
}

// Snapshot returns the current state for status reporting.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:        m.state,
		ActiveModel:  m.active,
		Capabilities: m.caps,
	}
}

// Capabilities returns the immutable environment snapshot.
func (m *Manager) Capabilities() capability.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

func (m *Manager) resolve(modelID string) (string, error) {
	if m.Capabilities().ConstrainedDevice {
		return Constrained, nil
	}
	if modelID == "" {
		return Compatibility, nil
	}
	if !supported[modelID] {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	return modelID, nil
}

// probeAcceleration asks the backend once whether GPU inference is available.
// Acquiring the backend is the only reliable probe, so this happens at first
// initialization rather than at detection time.
func (m *Manager) probeAcceleration(ctx context.Context) {
	m.mu.Lock()
	done := m.probed
	m.mu.Unlock()
	if done {
		return
	}

	accelerated := m.client.AcceleratedBackendAvailable(ctx)

	m.mu.Lock()
	m.probed = true
	m.caps.AcceleratedBackend = accelerated
	m.mu.Unlock()

	m.logger.Info("probed inference backend", zap.Bool("accelerated", accelerated))
}

// loadWithFallback loads modelID, falling back to fallbackID on failure.
// Runs outside the manager lock; the caller holds the in-flight token.
func (m *Manager) loadWithFallback(ctx context.Context, modelID, fallbackID string) (Result, error) {
	err := m.client.Initialize(ctx, modelID)
	if err == nil {
		return Result{ModelID: modelID}, nil
	}

	m.logger.Warn("model initialization failed",
		zap.String("model", modelID),
		zap.Error(err))

	if fallbackID == modelID {
		return Result{ModelID: modelID}, fmt.Errorf("initialize model %s: %w", modelID, err)
	}

	if fbErr := m.client.Initialize(ctx, fallbackID); fbErr != nil {
		m.logger.Error("fallback model initialization failed",
			zap.String("model", fallbackID),
			zap.Error(fbErr))
		return Result{ModelID: fallbackID},
			fmt.Errorf("initialize model %s (and fallback %s): %w", modelID, fallbackID, fbErr)
	}

	m.logger.Info("fell back to model", zap.String("model", fallbackID))
	return Result{ModelID: fallbackID, FellBack: true}, nil
}

// finish commits the terminal state of a lifecycle operation and releases
// the in-flight token.
func (m *Manager) finish(res Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if err != nil {
		m.state = StateFailed
		// active reverts to the most recent Ready id.
		m.active = m.lastReady
		return
	}
	m.state = StateReady
	m.active = res.ModelID
	m.lastReady = res.ModelID
}
