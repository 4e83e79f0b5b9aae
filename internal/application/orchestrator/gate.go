package orchestrator

import (
	"context"
	"sync"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

// Gate lets the poll loop suspend while the run is paused. It never
// receives commands: it watches the state machine and opens as soon as a
// transition leaves Paused.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	release chan struct{}

	unsubscribe func()
}

// NewGate attaches a gate to m
func NewGate(m *StateMachine) *Gate {
	g := &Gate{}
	if m.State() == domain.RunStatePaused {
		g.paused = true
		g.release = make(chan struct{})
	}
	g.unsubscribe = m.Subscribe(g.observe)
	return g
}

func (g *Gate) observe(t domain.Transition) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.To == domain.RunStatePaused {
		if !g.paused {
			g.paused = true
			g.release = make(chan struct{})
		}
		return
	}
	if g.paused {
		g.paused = false
		close(g.release)
	}
}

// WaitIfPaused returns immediately unless paused; otherwise it blocks until
// the state leaves Paused or ctx is done.
func (g *Gate) WaitIfPaused(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	release := g.release
	g.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches the gate from its state machine
func (g *Gate) Close() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}
