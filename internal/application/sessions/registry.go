package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/internal/application/orchestrator"
	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// DefaultTopic is the event bus topic run events are published on
const DefaultTopic = "testrun.events"

// Metrics is the subset of the metrics collector the registry feeds
type Metrics interface {
	ObserveRunDuration(scene domain.TestRunType, duration time.Duration)
	IncPollTicks()
	SetSessionCount(count int)
	RecordSessionStates(counts map[domain.RunState]int)
	RecordPublish(eventType domain.EventType, err error)
}

// DocumentFactory returns the document a new session guards runs with
type DocumentFactory func(workflowID, spaceID string) ports.Document

// Config holds the shared collaborators of every session
type Config struct {
	Client    ports.RunClient
	Validator ports.Validator
	Reporter  ports.Reporter
	Storage   ports.SnapshotStorage
	EventBus  ports.EventBus
	Metrics   Metrics
	Documents DocumentFactory

	Topic          string
	PollInterval   time.Duration
	MaxSessions    int
	HealthInterval time.Duration
	// OnHealth receives every health check result
	OnHealth func(status *HealthStatus)

	Logger *zap.Logger
}

// OpenRequest identifies the workflow a session runs
type OpenRequest struct {
	WorkflowID string
	SpaceID    string
	ProjectID  string
	Graph      *domain.Graph
}

// Registry hosts one orchestrator per workflow id
type Registry struct {
	cfg    Config
	logger *zap.Logger
	health *HealthMonitor

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	runs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates a new session registry
func NewRegistry(cfg *Config) *Registry {
	c := *cfg
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:      c,
		logger:   c.Logger,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.health = NewHealthMonitor(r, c.HealthInterval, c.Logger)

	return r
}

// Start starts the health monitor
func (r *Registry) Start() {
	r.logger.Info("starting session registry",
		zap.Int("max_sessions", r.cfg.MaxSessions),
		zap.String("topic", r.cfg.Topic))
	r.health.Start()
}

// Topic returns the event bus topic sessions publish on
func (r *Registry) Topic() string {
	return r.cfg.Topic
}

// Health returns the current health status
func (r *Registry) Health() *HealthStatus {
	return r.health.GetStatus()
}

// Open returns the session of a workflow, creating it when needed. A
// non-nil graph replaces the graph of an existing session.
func (r *Registry) Open(req OpenRequest) (*Session, error) {
	if req.WorkflowID == "" {
		return nil, ErrMissingWorkflow
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if s, ok := r.sessions[req.WorkflowID]; ok {
		if req.Graph != nil {
			s.manager.SetGraph(req.Graph)
		}
		return s, nil
	}

	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, r.cfg.MaxSessions)
	}

	s := r.newSession(req)
	r.sessions[req.WorkflowID] = s

	r.logger.Info("session opened",
		zap.String("workflow_id", req.WorkflowID),
		zap.String("space_id", req.SpaceID),
		zap.String("project_id", req.ProjectID))
	s.publish(domain.EventTypeSessionOpen, "", nil)

	return s, nil
}

// Get returns an open session
func (r *Registry) Get(workflowID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, workflowID)
	}
	return s, nil
}

// List returns all open sessions ordered by workflow id
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].WorkflowID() < list[j].WorkflowID()
	})
	return list
}

// Close disposes a session, stopping its local poll loop
func (r *Registry) Close(workflowID string) error {
	r.mu.Lock()
	s, ok := r.sessions[workflowID]
	if ok {
		delete(r.sessions, workflowID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, workflowID)
	}

	s.dispose()
	r.logger.Info("session closed", zap.String("workflow_id", workflowID))
	return nil
}

// Shutdown disposes every session and waits for launched runs to return
func (r *Registry) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down session registry")

	r.health.Stop()

	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	// Cancel context to stop launched runs
	r.cancel()
	for _, s := range sessions {
		s.dispose()
	}

	done := make(chan struct{})
	go func() {
		r.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("session registry shut down complete",
			zap.Int("sessions", len(sessions)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

func (r *Registry) newSession(req OpenRequest) *Session {
	var doc ports.Document
	if r.cfg.Documents != nil {
		doc = r.cfg.Documents(req.WorkflowID, req.SpaceID)
	}

	m := orchestrator.NewManager(&orchestrator.Config{
		WorkflowID:   req.WorkflowID,
		SpaceID:      req.SpaceID,
		ProjectID:    req.ProjectID,
		Client:       r.cfg.Client,
		Validator:    r.cfg.Validator,
		Reporter:     r.cfg.Reporter,
		Document:     doc,
		Storage:      r.cfg.Storage,
		PollInterval: r.cfg.PollInterval,
		Logger:       r.logger,
	})
	if req.Graph != nil {
		m.SetGraph(req.Graph)
	}

	s := &Session{
		registry: r,
		manager:  m,
		document: doc,
		openedAt: time.Now(),
		logger:   r.logger.With(zap.String("workflow_id", req.WorkflowID)),
	}
	s.bridge()
	return s
}
