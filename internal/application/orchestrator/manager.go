package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// Config holds the collaborators of one orchestrator instance
type Config struct {
	WorkflowID string
	SpaceID    string
	ProjectID  string

	Client    ports.RunClient
	Validator ports.Validator
	Reporter  ports.Reporter

	// Optional
	Overlay  ports.EdgeOverlay
	Document ports.Document
	Storage  ports.SnapshotStorage

	PollInterval time.Duration
	Logger       *zap.Logger
}

// Progress is delivered after every merged poll tick
type Progress struct {
	ExecuteID     string
	ExecuteStatus domain.ExecuteStatus
	NodeResults   []domain.NodeResult
	Edges         []domain.EdgeState
}

// ProgressHandler observes merged ticks. It must not change state.
type ProgressHandler func(p Progress)

// Manager coordinates one remote test run at a time for one workflow.
// It is the only writer of the run state and the result store.
type Manager struct {
	workflowID string
	spaceID    string
	projectID  string

	client    ports.RunClient
	validator ports.Validator
	reporter  ports.Reporter
	overlay   ports.EdgeOverlay
	document  ports.Document
	storage   ports.SnapshotStorage
	logger    *zap.Logger

	machine *StateMachine
	gate    *Gate
	store   *ResultStore
	poller  *Poller

	mu        sync.Mutex
	graph     *domain.Graph
	running   bool
	disposed  bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	progressMu    sync.Mutex
	progress      map[uint64]ProgressHandler
	progressOrder []uint64
	progressID    uint64

	stopReporting func()
}

// NewManager creates a new orchestrator in the Idle state
func NewManager(cfg *Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}

	m := &Manager{
		workflowID: cfg.WorkflowID,
		spaceID:    cfg.SpaceID,
		projectID:  cfg.ProjectID,
		client:     cfg.Client,
		validator:  cfg.Validator,
		reporter:   reporter,
		overlay:    cfg.Overlay,
		document:   cfg.Document,
		storage:    cfg.Storage,
		logger: logger.With(
			zap.String("workflow_id", cfg.WorkflowID),
			zap.String("space_id", cfg.SpaceID)),
		machine:  NewStateMachine(),
		store:    NewResultStore(),
		progress: make(map[uint64]ProgressHandler),
	}
	m.gate = NewGate(m.machine)
	m.poller = NewPoller(m.client, m.gate, cfg.PollInterval, m.apply, m.logger)
	m.stopReporting = m.machine.Subscribe(m.reportTransition)

	return m
}

// WorkflowID returns the workflow this instance runs
func (m *Manager) WorkflowID() string {
	return m.workflowID
}

// State returns the current run state
func (m *Manager) State() domain.RunState {
	return m.machine.State()
}

// Handle returns the current execution handle
func (m *Manager) Handle() domain.ExecutionHandle {
	return m.store.Handle()
}

// Subscribe observes state transitions in the order they happen
func (m *Manager) Subscribe(h TransitionHandler) func() {
	return m.machine.Subscribe(h)
}

// SubscribeProgress observes every merged poll tick
func (m *Manager) SubscribeProgress(h ProgressHandler) func() {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()

	id := m.progressID
	m.progressID++
	m.progress[id] = h
	m.progressOrder = append(m.progressOrder, id)

	return func() {
		m.progressMu.Lock()
		defer m.progressMu.Unlock()
		if _, ok := m.progress[id]; !ok {
			return
		}
		delete(m.progress, id)
		for i, v := range m.progressOrder {
			if v == id {
				m.progressOrder = append(m.progressOrder[:i], m.progressOrder[i+1:]...)
				break
			}
		}
	}
}

// SetGraph replaces the graph used for validation and edge state
func (m *Manager) SetGraph(g *domain.Graph) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph = g
}

// Graph returns the current graph
func (m *Manager) Graph() *domain.Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph
}

// Pause suspends polling of the current run
func (m *Manager) Pause() bool {
	paused := m.machine.CompareAndSet(domain.RunStateExecuting, domain.RunStatePaused)
	if paused {
		m.logger.Info("test run paused", zap.String("execute_id", m.store.Handle().ExecuteID))
	}
	return paused
}

// Resume continues a paused run; it is a no-op in any other state
func (m *Manager) Resume() bool {
	resumed := m.machine.CompareAndSet(domain.RunStatePaused, domain.RunStateExecuting)
	if resumed {
		m.logger.Info("test run resumed", zap.String("execute_id", m.store.Handle().ExecuteID))
	}
	return resumed
}

// ClearResult empties the result store and resets the execution handle
func (m *Manager) ClearResult() {
	m.store.Reset()
}

// Clear stops any local poll loop and resets to Idle with an empty store.
// It is safe to call from any state, any number of times.
func (m *Manager) Clear() {
	m.stopRun()
	m.ClearResult()
	m.machine.Set(domain.RunStateIdle)
}

// Dispose clears the instance and refuses further runs
func (m *Manager) Dispose() {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()

	m.Clear()
	m.gate.Close()
	m.stopReporting()

	m.logger.Info("orchestrator disposed")
}

// Snapshot returns a copy of the observable state
func (m *Manager) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		WorkflowID: m.workflowID,
		SpaceID:    m.spaceID,
		ProjectID:  m.projectID,
		State:      m.machine.State(),
	}
	m.store.fill(&snap)
	return snap
}

// Wait blocks until the current run routine, if any, has returned
func (m *Manager) Wait() {
	m.runWG.Wait()
}

// beginRun claims the single run slot
func (m *Manager) beginRun(ctx context.Context, op string) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, nil, newError(op, ErrManagerDisposed, "", "", nil)
	}
	if m.running || m.machine.State().IsActive() {
		return nil, nil, newError(op, ErrRunActive, m.store.Handle().ExecuteID, "", nil)
	}
	if m.document != nil && m.document.Saving() {
		return nil, nil, newError(op, ErrDocumentSaving, "", "", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.runCancel = cancel
	m.runWG.Add(1)

	finish := func() {
		m.mu.Lock()
		m.running = false
		m.runCancel = nil
		m.mu.Unlock()
		cancel()
		m.runWG.Done()
	}
	return runCtx, finish, nil
}

// claimStore takes the run slot for a store update made outside a run.
// It fails while a run owns the store.
func (m *Manager) claimStore(op string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, newError(op, ErrManagerDisposed, "", "", nil)
	}
	if m.running || m.machine.State().IsActive() {
		return nil, newError(op, ErrRunActive, m.store.Handle().ExecuteID, "", nil)
	}
	m.running = true

	return func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}, nil
}

// stopRun cancels the local poll loop and waits for the run routine
func (m *Manager) stopRun() {
	m.mu.Lock()
	cancel := m.runCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.runWG.Wait()
}

func (m *Manager) edges() []domain.Edge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graph == nil {
		return nil
	}
	return m.graph.Edges
}

// apply merges one poll result; called by the poller in fetch order
func (m *Manager) apply(ctx context.Context, result *domain.RunResult) {
	changed := m.store.Apply(result, m.edges())

	if m.overlay != nil {
		for _, e := range changed {
			m.overlay.SetProcessing(e.EdgeID, e.Processing)
		}
	}

	m.emitProgress(Progress{
		ExecuteID:     m.store.Handle().ExecuteID,
		ExecuteStatus: result.ExecuteStatus,
		NodeResults:   result.NodeResults,
		Edges:         changed,
	})
	m.persist(ctx)
}

func (m *Manager) emitProgress(p Progress) {
	m.progressMu.Lock()
	handlers := make([]ProgressHandler, 0, len(m.progressOrder))
	for _, id := range m.progressOrder {
		handlers = append(handlers, m.progress[id])
	}
	m.progressMu.Unlock()

	for _, h := range handlers {
		h(p)
	}
}

// persist writes the snapshot of the current execution, if there is one
func (m *Manager) persist(ctx context.Context) {
	if m.storage == nil {
		return
	}
	snap := m.Snapshot()
	if snap.Handle.ExecuteID == "" {
		return
	}
	if err := m.storage.Save(context.WithoutCancel(ctx), &snap); err != nil {
		m.logger.Warn("failed to save snapshot",
			zap.String("execute_id", snap.Handle.ExecuteID),
			zap.Error(err))
	}
}
