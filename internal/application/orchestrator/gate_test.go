package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

func TestGate_NotPausedReturnsImmediately(t *testing.T) {
	m := NewStateMachine()
	g := NewGate(m)
	defer g.Close()

	m.Set(domain.RunStateExecuting)
	assert.NoError(t, g.WaitIfPaused(context.Background()))
}

func TestGate_BlocksUntilStateLeavesPaused(t *testing.T) {
	m := NewStateMachine()
	g := NewGate(m)
	defer g.Close()

	m.Set(domain.RunStateExecuting)
	m.Set(domain.RunStatePaused)

	done := make(chan error, 1)
	go func() { done <- g.WaitIfPaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("gate released while paused")
	case <-time.After(20 * time.Millisecond):
	}

	m.Set(domain.RunStateExecuting)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gate did not release after resume")
	}
}

func TestGate_ReleasesOnAnyNonPausedState(t *testing.T) {
	m := NewStateMachine()
	g := NewGate(m)
	defer g.Close()

	m.Set(domain.RunStatePaused)

	done := make(chan error, 1)
	go func() { done <- g.WaitIfPaused(context.Background()) }()

	m.Set(domain.RunStateCanceled)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gate did not release")
	}
}

func TestGate_ContextCancel(t *testing.T) {
	m := NewStateMachine()
	g := NewGate(m)
	defer g.Close()

	m.Set(domain.RunStatePaused)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.WaitIfPaused(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
