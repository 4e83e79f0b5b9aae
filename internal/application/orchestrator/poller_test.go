package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-testrun/pkg/adapters/backend/memory"
	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

func running(nodes ...domain.NodeResult) *domain.RunResult {
	return &domain.RunResult{ExecuteStatus: domain.ExecuteStatusRunning, NodeResults: nodes}
}

func finished(status domain.ExecuteStatus, nodes ...domain.NodeResult) *domain.RunResult {
	return &domain.RunResult{ExecuteStatus: status, NodeResults: nodes}
}

func node(id string, status domain.NodeStatus) domain.NodeResult {
	return domain.NodeResult{NodeID: id, NodeStatus: status}
}

func newTestPoller(client ports.RunClient, onResult ResultFunc) (*Poller, *StateMachine) {
	machine := NewStateMachine()
	machine.Set(domain.RunStateExecuting)
	return NewPoller(client, NewGate(machine), time.Millisecond, onResult, nil), machine
}

func TestPoller_PollsUntilTerminal(t *testing.T) {
	client := memory.NewClient()
	client.QueueProcess(
		running(node("n1", domain.NodeStatusRunning)),
		&domain.RunResult{ExecuteStatus: domain.ExecuteStatusUnset},
		finished(domain.ExecuteStatusSuccess, node("n1", domain.NodeStatusSuccess)),
	)

	var statuses []domain.ExecuteStatus
	p, _ := newTestPoller(client, func(_ context.Context, r *domain.RunResult) {
		statuses = append(statuses, r.ExecuteStatus)
	})

	status, err := p.Poll(context.Background(), ports.GetProcessRequest{ExecuteID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecuteStatusSuccess, status)
	assert.Equal(t, 3, client.GetProcessCalls())
	assert.Equal(t, []domain.ExecuteStatus{
		domain.ExecuteStatusRunning,
		domain.ExecuteStatusUnset,
		domain.ExecuteStatusSuccess,
	}, statuses)
}

func TestPoller_UnknownStatusKeepsPolling(t *testing.T) {
	client := memory.NewClient()
	client.QueueProcess(
		&domain.RunResult{ExecuteStatus: domain.ExecuteStatus(7)},
		finished(domain.ExecuteStatusCancel),
	)

	p, _ := newTestPoller(client, nil)

	status, err := p.Poll(context.Background(), ports.GetProcessRequest{ExecuteID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecuteStatusCancel, status)
	assert.Equal(t, 2, client.GetProcessCalls())
}

func TestPoller_FetchErrorIsNotRetried(t *testing.T) {
	client := memory.NewClient()
	boom := errors.New("connection reset")
	client.QueueProcess(running())
	client.QueueProcessError(boom)

	p, _ := newTestPoller(client, nil)

	_, err := p.Poll(context.Background(), ports.GetProcessRequest{ExecuteID: "e1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, client.GetProcessCalls())
}

func TestPoller_NormalizesBeforeApply(t *testing.T) {
	client := memory.NewClient()
	client.QueueProcess(finished(domain.ExecuteStatusSuccess, domain.NodeResult{
		NodeID:     "n1",
		ErrorLevel: domain.ErrorLevelLegacyWarn,
		Batch:      `[{"errorLevel":"Warn"}]`,
	}))

	var got domain.NodeResult
	p, _ := newTestPoller(client, func(_ context.Context, r *domain.RunResult) {
		got = r.NodeResults[0]
	})

	_, err := p.Poll(context.Background(), ports.GetProcessRequest{ExecuteID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorLevelWarning, got.ErrorLevel)
	assert.Equal(t, `[{"errorLevel":"warning"}]`, got.Batch)
}

func TestPoller_WaitBlocksWhilePaused(t *testing.T) {
	p, machine := newTestPoller(memory.NewClient(), nil)
	machine.Set(domain.RunStatePaused)

	done := make(chan error, 1)
	go func() { done <- p.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	machine.Set(domain.RunStateExecuting)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after resume")
	}
}

func TestPoller_ContextCancel(t *testing.T) {
	client := memory.NewClient()
	client.QueueProcess(running())

	p, _ := newTestPoller(client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Poll(ctx, ports.GetProcessRequest{ExecuteID: "e1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
