package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/internal/application/orchestrator"
	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// RunFunc is one orchestrator operation run in the background
type RunFunc func(ctx context.Context, m *orchestrator.Manager) error

// Session is one workflow's orchestrator together with its event bridge
type Session struct {
	registry *Registry
	manager  *orchestrator.Manager
	document ports.Document
	openedAt time.Time
	logger   *zap.Logger

	unsubscribe []func()
	disposeOnce sync.Once
}

// Info is the listing view of a session
type Info struct {
	WorkflowID string          `json:"workflow_id"`
	State      domain.RunState `json:"state"`
	ExecuteID  string          `json:"execute_id,omitempty"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// WorkflowID returns the workflow this session runs
func (s *Session) WorkflowID() string {
	return s.manager.WorkflowID()
}

// Manager returns the orchestrator of this session
func (s *Session) Manager() *orchestrator.Manager {
	return s.manager
}

// Document returns the document guard, which may be nil
func (s *Session) Document() ports.Document {
	return s.document
}

// Info returns the listing view of the session
func (s *Session) Info() Info {
	return Info{
		WorkflowID: s.WorkflowID(),
		State:      s.manager.State(),
		ExecuteID:  s.manager.Handle().ExecuteID,
		OpenedAt:   s.openedAt,
	}
}

// Launch runs fn in the background and returns once the run is Executing
// or fn has returned, whichever happens first. started reports whether the
// run reached Executing. Errors returned after that are only logged; they
// are visible in the snapshot.
func (s *Session) Launch(ctx context.Context, scene domain.TestRunType, fn RunFunc) (started bool, err error) {
	r := s.registry

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, ErrRegistryClosed
	}
	r.runs.Add(1)
	r.mu.Unlock()

	executing := make(chan struct{})
	var once sync.Once
	stop := s.manager.Subscribe(func(t domain.Transition) {
		if t.To == domain.RunStateExecuting {
			once.Do(func() { close(executing) })
		}
	})

	done := make(chan error, 1)
	go func() {
		defer r.runs.Done()
		defer stop()

		begin := time.Now()
		err := fn(r.ctx, s.manager)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.ObserveRunDuration(scene, time.Since(begin))
		}
		if err != nil {
			s.logger.Warn("test run ended with error",
				zap.String("type", string(scene)),
				zap.String("execute_id", s.manager.Handle().ExecuteID),
				zap.Error(err))
		}
		done <- err
	}()

	select {
	case <-executing:
		return true, nil
	case err := <-done:
		// A run that finished quickly may have started too
		select {
		case <-executing:
			return true, nil
		default:
		}
		return false, err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// bridge publishes transitions and merged ticks on the event bus
func (s *Session) bridge() {
	s.unsubscribe = append(s.unsubscribe,
		s.manager.Subscribe(func(t domain.Transition) {
			data := map[string]interface{}{
				"from": string(t.From),
				"to":   string(t.To),
			}
			if snap := s.manager.Snapshot(); snap.SystemError != "" {
				data["system_error"] = snap.SystemError
			}
			s.publish(domain.EventTypeStateChanged, s.manager.Handle().ExecuteID, data)
		}),
		s.manager.SubscribeProgress(func(p orchestrator.Progress) {
			if m := s.registry.cfg.Metrics; m != nil {
				m.IncPollTicks()
			}
			s.publish(domain.EventTypeProgress, p.ExecuteID, map[string]interface{}{
				"execute_status": int(p.ExecuteStatus),
				"node_results":   p.NodeResults,
				"edges":          p.Edges,
			})
		}),
	)
}

func (s *Session) publish(eventType domain.EventType, executeID string, data map[string]interface{}) {
	bus := s.registry.cfg.EventBus
	if bus == nil {
		return
	}

	event := domain.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		WorkflowID: s.WorkflowID(),
		ExecuteID:  executeID,
		Timestamp:  time.Now(),
		Data:       data,
	}

	err := bus.Publish(context.Background(), s.registry.cfg.Topic, event)
	if m := s.registry.cfg.Metrics; m != nil {
		m.RecordPublish(eventType, err)
	}
	if err != nil {
		s.logger.Error("failed to publish event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func (s *Session) dispose() {
	s.disposeOnce.Do(func() {
		s.manager.Dispose()
		s.publish(domain.EventTypeSessionClose, "", nil)
		for _, unsub := range s.unsubscribe {
			unsub()
		}
	})
}
