package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-testrun/pkg/adapters/backend/memory"
	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

const testInterval = 5 * time.Millisecond

type recordingReporter struct {
	mu      sync.Mutex
	starts  []domain.TestRunType
	ends    []domain.RunEnd
	results []domain.ResultEvent
}

func (r *recordingReporter) TryStart(scene domain.TestRunType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, scene)
}

func (r *recordingReporter) RunEnd(ev domain.RunEnd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, ev)
}

func (r *recordingReporter) ResultEvent(ev domain.ResultEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, ev)
}

func (r *recordingReporter) Ends() []domain.RunEnd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunEnd(nil), r.ends...)
}

func (r *recordingReporter) Results() []domain.ResultEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ResultEvent(nil), r.results...)
}

type recordingOverlay struct {
	mu    sync.Mutex
	edges map[string]bool
}

func (o *recordingOverlay) SetProcessing(edgeID string, processing bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.edges == nil {
		o.edges = make(map[string]bool)
	}
	o.edges[edgeID] = processing
}

type harness struct {
	m        *Manager
	client   *memory.Client
	reporter *recordingReporter
	doc      *memory.Document
	overlay  *recordingOverlay
}

func testGraph() *domain.Graph {
	return &domain.Graph{
		ID: "wf1",
		Nodes: []domain.Node{
			{ID: "n1", Type: "start"},
			{ID: "n2", Type: "llm"},
			{ID: "n3", Type: "end"},
			{ID: "n9", Type: "code"},
		},
		Edges: testEdges,
	}
}

func newHarness(t *testing.T, projectID string) *harness {
	t.Helper()

	h := &harness{
		client:   memory.NewClient(),
		reporter: &recordingReporter{},
		doc:      memory.NewDocument(),
		overlay:  &recordingOverlay{},
	}
	h.client.SetExecuteID("e1")
	h.m = NewManager(&Config{
		WorkflowID:   "wf1",
		SpaceID:      "space1",
		ProjectID:    projectID,
		Client:       h.client,
		Validator:    NewValidator(),
		Reporter:     h.reporter,
		Overlay:      h.overlay,
		Document:     h.doc,
		PollInterval: testInterval,
	})
	h.m.SetGraph(testGraph())
	t.Cleanup(h.m.Dispose)
	return h
}

// startAsync runs fn in the background and waits until the run is polling
func startAsync(t *testing.T, h *harness, fn func() error) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	require.Eventually(t, func() bool {
		return h.m.State() == domain.RunStateExecuting && h.client.GetProcessCalls() >= 1
	}, time.Second, time.Millisecond)
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

func TestManager_FullRunSucceeds(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(
		running(node("n1", domain.NodeStatusRunning)),
		finished(domain.ExecuteStatusSuccess, node("n1", domain.NodeStatusSuccess)),
	)

	var transitions []domain.Transition
	h.m.Subscribe(func(tr domain.Transition) { transitions = append(transitions, tr) })

	require.NoError(t, h.m.TestRun(context.Background(), TestRunInput{Input: map[string]string{"q": "hi"}}))

	assert.Equal(t, domain.RunStateSucceed, h.m.State())
	assert.Equal(t, []domain.Transition{
		{From: domain.RunStateIdle, To: domain.RunStateExecuting},
		{From: domain.RunStateExecuting, To: domain.RunStateSucceed},
	}, transitions)

	snap := h.m.Snapshot()
	require.Len(t, snap.NodeResults, 1)
	assert.Equal(t, "n1", snap.NodeResults[0].NodeID)
	assert.Equal(t, domain.NodeStatusSuccess, snap.NodeResults[0].NodeStatus)
	assert.Equal(t, "e1", snap.Handle.ExecuteID)
	assert.False(t, snap.Handle.IsSingleMode)
	assert.Equal(t, domain.ViewStatusDone, snap.ViewStatus)
	assert.False(t, snap.DetailOpen)

	assert.Equal(t, 2, h.client.GetProcessCalls())
	assert.Equal(t, 1, h.doc.Reloads())

	assert.Equal(t, []domain.TestRunType{domain.TestRunTypeFlow}, h.reporter.starts)
	assert.Equal(t, []domain.RunEnd{{
		Type:      domain.TestRunTypeFlow,
		Result:    domain.TestRunResultSuccess,
		ExecuteID: "e1",
	}}, h.reporter.Ends())
	results := h.reporter.Results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.ResultSuccess, results[0].Result)
	assert.Equal(t, "e1", results[0].ExecuteID)

	reqs := h.client.RunRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "wf1", reqs[0].WorkflowID)
	assert.Equal(t, "space1", reqs[0].SpaceID)
	assert.Equal(t, "hi", reqs[0].Input["q"])
}

func TestManager_StartFailureStaysIdle(t *testing.T) {
	h := newHarness(t, "")
	h.client.FailStart(errors.New("quota exceeded"))

	var transitions []domain.Transition
	h.m.Subscribe(func(tr domain.Transition) { transitions = append(transitions, tr) })

	err := h.m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.True(t, IsTriggerError(err))
	assert.Contains(t, err.Error(), "quota exceeded")

	assert.Equal(t, domain.RunStateIdle, h.m.State())
	assert.Empty(t, transitions)
	assert.Equal(t, 0, h.client.GetProcessCalls())
	assert.Equal(t, "quota exceeded", h.m.Snapshot().SystemError)

	results := h.reporter.Results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.ErrTypeTrigger, results[0].ErrType)
	assert.Equal(t, domain.FailEndServer, results[0].FailEnd)
	assert.Equal(t, []domain.RunEnd{{Type: domain.TestRunTypeFlow, Result: domain.TestRunResultError}}, h.reporter.Ends())
}

func TestManager_EmptyExecuteIDIsTriggerError(t *testing.T) {
	m := NewManager(&Config{
		WorkflowID: "wf1",
		SpaceID:    "space1",
		Client:     emptyIDClient{memory.NewClient()},
	})
	defer m.Dispose()

	err := m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTrigger)
	assert.ErrorIs(t, err, ErrEmptyExecuteID)
	assert.Equal(t, domain.RunStateIdle, m.State())
}

type emptyIDClient struct {
	*memory.Client
}

func (emptyIDClient) StartRun(context.Context, ports.StartRunRequest) (string, error) {
	return "", nil
}

func TestManager_PausePreventsPolling(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(running(node("n1", domain.NodeStatusRunning)))

	done := startAsync(t, h, func() error {
		return h.m.TestRun(context.Background(), TestRunInput{})
	})

	require.True(t, h.m.Pause())
	assert.Equal(t, domain.RunStatePaused, h.m.State())

	// let a tick already in flight settle
	time.Sleep(4 * testInterval)
	paused := h.client.GetProcessCalls()

	time.Sleep(10 * testInterval)
	assert.Equal(t, paused, h.client.GetProcessCalls(), "no status call while paused")

	h.client.ReplaceProcess(finished(domain.ExecuteStatusSuccess, node("n1", domain.NodeStatusSuccess)))
	require.True(t, h.m.Resume())

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, paused+1, h.client.GetProcessCalls())
	assert.Equal(t, domain.RunStateSucceed, h.m.State())
}

func TestManager_PauseResumeOnlyFromMatchingState(t *testing.T) {
	h := newHarness(t, "")

	assert.False(t, h.m.Pause())
	assert.False(t, h.m.Resume())
	assert.Equal(t, domain.RunStateIdle, h.m.State())
}

func TestManager_CancelWhilePaused(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(running(node("n1", domain.NodeStatusRunning)))

	done := startAsync(t, h, func() error {
		return h.m.TestRun(context.Background(), TestRunInput{})
	})
	require.True(t, h.m.Pause())

	require.NoError(t, h.m.Cancel(context.Background()))

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, domain.RunStateCanceled, h.m.State())
	assert.False(t, h.m.Snapshot().DetailOpen)

	cancels := h.client.CancelRequests()
	require.Len(t, cancels, 1)
	assert.Equal(t, "e1", cancels[0].ExecuteID)

	results := h.reporter.Results()
	require.NotEmpty(t, results)
	assert.Equal(t, domain.ActionManualEnd, results[0].Action)

	ends := h.reporter.Ends()
	require.Len(t, ends, 1)
	assert.Equal(t, domain.TestRunResultCancel, ends[0].Result)
}

func TestManager_CancelWhileExecuting(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(running())

	done := startAsync(t, h, func() error {
		return h.m.TestRun(context.Background(), TestRunInput{})
	})

	require.NoError(t, h.m.Cancel(context.Background()))
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, domain.RunStateCanceled, h.m.State())
}

func TestManager_CancelWithoutExecution(t *testing.T) {
	h := newHarness(t, "")

	err := h.m.Cancel(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoExecuteID)
	assert.Empty(t, h.client.CancelRequests())
}

func TestManager_SingleNodeRunFails(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(
		running(node("n9", domain.NodeStatusRunning)),
		&domain.RunResult{
			ExecuteStatus: domain.ExecuteStatusFail,
			Reason:        "code node raised",
			NodeResults: []domain.NodeResult{{
				NodeID:     "n9",
				NodeStatus: domain.NodeStatusFail,
				ErrorLevel: domain.ErrorLevelError,
				ErrorInfo:  "raised",
			}},
		},
	)

	singleAtEveryTransition := true
	h.m.Subscribe(func(domain.Transition) {
		if !h.m.Handle().IsSingleMode {
			singleAtEveryTransition = false
		}
	})

	err := h.m.TestRunOneNode(context.Background(), NodeRunInput{
		NodeID: "n9",
		Input:  map[string]string{"a": "1"},
		Batch:  map[string]string{"items": "[]"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRun)
	assert.Contains(t, err.Error(), "code node raised")

	assert.Equal(t, domain.RunStateFailed, h.m.State())
	assert.True(t, singleAtEveryTransition)
	assert.True(t, h.m.Handle().IsSingleMode)
	assert.Equal(t, 0, h.doc.Reloads())

	snap := h.m.Snapshot()
	assert.True(t, snap.DetailOpen)
	assert.Equal(t, "code node raised", snap.SystemError)
	require.Contains(t, snap.NodeErrors, "n9")

	assert.Empty(t, h.reporter.Results())
	assert.Equal(t, []domain.RunEnd{{
		Type:      domain.TestRunTypeNode,
		Result:    domain.TestRunResultFail,
		ExecuteID: "e1",
	}}, h.reporter.Ends())

	reqs := h.client.NodeRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "n9", reqs[0].NodeID)
	assert.Equal(t, "[]", reqs[0].Batch["items"])
}

func TestManager_SingleNodeRunUnknownNode(t *testing.T) {
	h := newHarness(t, "")

	err := h.m.TestRunOneNode(context.Background(), NodeRunInput{NodeID: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Empty(t, h.client.NodeRequests())
}

func TestManager_FullRunFailOpensDetail(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(&domain.RunResult{
		ExecuteStatus: domain.ExecuteStatusFail,
		Reason:        "node n2 failed",
	})

	err := h.m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRun)

	assert.Equal(t, domain.RunStateFailed, h.m.State())
	assert.True(t, h.m.Snapshot().DetailOpen)
	assert.Equal(t, 1, h.doc.Reloads())

	results := h.reporter.Results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.ErrTypeRun, results[0].ErrType)
}

func TestManager_PollErrorFails(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(running(node("n1", domain.NodeStatusRunning)))
	h.client.QueueProcessError(errors.New("decode failure"))

	err := h.m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSystem)

	assert.Equal(t, domain.RunStateFailed, h.m.State())
	snap := h.m.Snapshot()
	assert.Contains(t, snap.SystemError, "decode failure")
	assert.True(t, snap.DetailOpen)
	assert.Empty(t, snap.NodeResults)
	assert.Equal(t, []domain.RunEnd{{Type: domain.TestRunTypeFlow, Result: domain.TestRunResultError}}, h.reporter.Ends())
}

func TestManager_NewRunClearsPreviousResult(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(&domain.RunResult{
		ExecuteStatus: domain.ExecuteStatusFail,
		Reason:        "first run failed",
		NodeResults:   []domain.NodeResult{{NodeID: "n1", NodeStatus: domain.NodeStatusFail, ErrorLevel: domain.ErrorLevelError}},
	})
	require.Error(t, h.m.TestRun(context.Background(), TestRunInput{}))
	require.Equal(t, domain.RunStateFailed, h.m.State())

	var leaked []domain.Snapshot
	h.client.OnGetProcess(func(ports.GetProcessRequest) {
		leaked = append(leaked, h.m.Snapshot())
	})
	h.client.ReplaceProcess(finished(domain.ExecuteStatusSuccess, node("n2", domain.NodeStatusSuccess)))

	require.NoError(t, h.m.TestRun(context.Background(), TestRunInput{}))

	require.Len(t, leaked, 1)
	assert.Empty(t, leaked[0].NodeResults)
	assert.Empty(t, leaked[0].NodeErrors)
	assert.Empty(t, leaked[0].SystemError)

	snap := h.m.Snapshot()
	require.Len(t, snap.NodeResults, 1)
	assert.Equal(t, "n2", snap.NodeResults[0].NodeID)
	assert.Empty(t, snap.SystemError)
}

func TestManager_ClearFromAnyState(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(finished(domain.ExecuteStatusFail, node("n1", domain.NodeStatusFail)))
	require.Error(t, h.m.TestRun(context.Background(), TestRunInput{}))

	h.m.Clear()
	h.m.Clear()

	assert.Equal(t, domain.RunStateIdle, h.m.State())
	snap := h.m.Snapshot()
	assert.Empty(t, snap.NodeResults)
	assert.Empty(t, snap.Handle.ExecuteID)
}

func TestManager_ClearStopsPolling(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(running())

	done := startAsync(t, h, func() error {
		return h.m.TestRun(context.Background(), TestRunInput{})
	})
	require.True(t, h.m.Pause())

	h.m.Clear()

	err := waitDone(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.RunStateIdle, h.m.State())
	assert.Empty(t, h.reporter.Ends())

	calls := h.client.GetProcessCalls()
	time.Sleep(5 * testInterval)
	assert.Equal(t, calls, h.client.GetProcessCalls())
}

func TestManager_RejectsSecondRun(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(running())

	done := startAsync(t, h, func() error {
		return h.m.TestRun(context.Background(), TestRunInput{})
	})

	err := h.m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunActive)
	assert.True(t, IsClientError(err))

	require.NoError(t, h.m.Cancel(context.Background()))
	require.NoError(t, waitDone(t, done))
}

func TestManager_RejectsWhileSaving(t *testing.T) {
	h := newHarness(t, "")
	h.doc.SetSaving(true)

	err := h.m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentSaving)
	assert.Empty(t, h.client.RunRequests())
}

func TestManager_ValidationFailure(t *testing.T) {
	h := newHarness(t, "")
	h.m.SetGraph(&domain.Graph{ID: "wf1"})

	err := h.m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, h.client.RunRequests())
	assert.Equal(t, domain.RunStateIdle, h.m.State())

	results := h.reporter.Results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.ErrTypeValidate, results[0].ErrType)
	assert.Equal(t, domain.FailEndFront, results[0].FailEnd)
}

func TestManager_HistoryViewSkipsReload(t *testing.T) {
	h := newHarness(t, "")
	h.doc.SetViewingHistory(true)

	require.NoError(t, h.m.TestRun(context.Background(), TestRunInput{}))
	assert.Equal(t, 0, h.doc.Reloads())
}

func TestManager_BaseParams(t *testing.T) {
	tests := []struct {
		name       string
		projectID  string
		botID      string
		useProject bool
		wantBot    string
		wantProj   string
	}{
		{name: "no bot outside project", wantProj: ""},
		{name: "no bot inside project", projectID: "p1", wantProj: "p1"},
		{name: "bot id", botID: "b1", wantBot: "b1"},
		{name: "bot id inside project", projectID: "p1", botID: "b1", wantBot: "b1"},
		{name: "project selected", projectID: "p1", botID: "p2", useProject: true, wantProj: "p2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.projectID)
			require.NoError(t, h.m.TestRun(context.Background(), TestRunInput{BotID: tt.botID, UseProject: tt.useProject}))

			reqs := h.client.RunRequests()
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.wantBot, reqs[0].BotID)
			assert.Equal(t, tt.wantProj, reqs[0].ProjectID)
		})
	}
}

func TestManager_TriggerRun(t *testing.T) {
	t.Run("requires project", func(t *testing.T) {
		h := newHarness(t, "")
		err := h.m.TestRunTrigger(context.Background(), "t1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoProject)
		assert.Empty(t, h.client.TriggerRequests())
	})

	t.Run("inside project", func(t *testing.T) {
		h := newHarness(t, "p1")
		require.NoError(t, h.m.TestRunTrigger(context.Background(), "t1"))

		reqs := h.client.TriggerRequests()
		require.Len(t, reqs, 1)
		assert.Equal(t, ports.StartTriggerRunRequest{SpaceID: "space1", ProjectID: "p1", TriggerID: "t1"}, reqs[0])
		assert.Equal(t, []domain.TestRunType{domain.TestRunTypeTrigger}, h.reporter.starts)
		assert.Equal(t, domain.RunStateSucceed, h.m.State())
		assert.Equal(t, 1, h.doc.Reloads())
	})
}

func TestManager_AttachKeepsPollingOnZeroStatus(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(
		&domain.RunResult{ExecuteStatus: domain.ExecuteStatusUnset, NodeResults: []domain.NodeResult{node("n1", domain.NodeStatusRunning)}},
		finished(domain.ExecuteStatusSuccess, node("n1", domain.NodeStatusSuccess)),
	)

	var states []domain.RunState
	h.m.Subscribe(func(tr domain.Transition) { states = append(states, tr.To) })

	require.NoError(t, h.m.Attach(context.Background(), "chat-1"))

	assert.Equal(t, []domain.RunState{domain.RunStateExecuting, domain.RunStateSucceed}, states)
	assert.Equal(t, 2, h.client.GetProcessCalls())
	assert.Equal(t, "chat-1", h.m.Handle().ExecuteID)
	assert.Equal(t, 1, h.doc.Reloads())
}

func TestManager_AttachFinishedExecution(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(finished(domain.ExecuteStatusCancel))

	require.NoError(t, h.m.Attach(context.Background(), "e7"))
	assert.Equal(t, domain.RunStateCanceled, h.m.State())
	assert.Equal(t, 1, h.client.GetProcessCalls())
}

func TestManager_LoadProcessResult(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(&domain.RunResult{
		ExecuteID:     "e5",
		ExecuteStatus: domain.ExecuteStatusFail,
		Reason:        "old failure",
		NodeResults:   []domain.NodeResult{{NodeID: "n1", ErrorLevel: domain.ErrorLevelLegacyWarn}},
	})

	result, err := h.m.LoadProcessResult(context.Background(), ProcessQuery{ExecuteID: "e5"})
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorLevelWarning, result.NodeResults[0].ErrorLevel)

	snap := h.m.Snapshot()
	assert.Equal(t, domain.RunStateIdle, snap.State)
	assert.Equal(t, "old failure", snap.SystemError)
	assert.Empty(t, snap.NodeResults)

	_, err = h.m.LoadProcessResult(context.Background(), ProcessQuery{ExecuteID: "e5", ShowNodeResults: true})
	require.NoError(t, err)

	snap = h.m.Snapshot()
	assert.Equal(t, domain.RunStateIdle, snap.State)
	assert.Equal(t, domain.ViewStatusDone, snap.ViewStatus)
	require.Len(t, snap.NodeResults, 1)
	assert.Equal(t, domain.ErrorLevelWarning, snap.NodeErrors["n1"][0].ErrorLevel)
}

func TestManager_LoadProcessResultWithoutExecution(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.m.LoadProcessResult(context.Background(), ProcessQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoExecuteID)
}

func TestManager_LoadProcessResultRefusedDuringRun(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(running(node("n1", domain.NodeStatusRunning)))

	done := startAsync(t, h, func() error {
		return h.m.TestRun(context.Background(), TestRunInput{})
	})
	require.True(t, h.m.Pause())

	time.Sleep(4 * testInterval)
	before := h.m.Snapshot()
	calls := h.client.GetProcessCalls()

	_, err := h.m.LoadProcessResult(context.Background(), ProcessQuery{ExecuteID: "old", ShowNodeResults: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunActive)
	assert.True(t, IsClientError(err))

	assert.Equal(t, before, h.m.Snapshot())
	assert.Equal(t, calls, h.client.GetProcessCalls())
	assert.Equal(t, "e1", h.m.Handle().ExecuteID)
	assert.Empty(t, h.m.Handle().ExecuteLogID)

	require.NoError(t, h.m.Cancel(context.Background()))
	require.NoError(t, waitDone(t, done))

	h.client.QueueProcess(finished(domain.ExecuteStatusFail))
	_, err = h.m.LoadProcessResult(context.Background(), ProcessQuery{ExecuteID: "old"})
	require.NoError(t, err)
}

func TestManager_ActiveRunCheckedBeforeValidation(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(running())

	done := startAsync(t, h, func() error {
		return h.m.TestRun(context.Background(), TestRunInput{})
	})
	h.m.SetGraph(&domain.Graph{ID: "wf1"})

	err := h.m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunActive)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Empty(t, h.reporter.Results())

	require.NoError(t, h.m.Cancel(context.Background()))
	require.NoError(t, waitDone(t, done))
}

func TestManager_ProgressUnsubscribe(t *testing.T) {
	h := newHarness(t, "")

	var calls []string
	unsubA := h.m.SubscribeProgress(func(Progress) { calls = append(calls, "a") })
	unsubB := h.m.SubscribeProgress(func(Progress) { calls = append(calls, "b") })
	h.m.SubscribeProgress(func(Progress) { calls = append(calls, "c") })

	unsubB()
	unsubB()
	for i := 0; i < 10; i++ {
		h.m.SubscribeProgress(func(Progress) {})()
	}

	h.m.progressMu.Lock()
	assert.Len(t, h.m.progress, 2)
	assert.Len(t, h.m.progressOrder, 2)
	h.m.progressMu.Unlock()

	h.m.emitProgress(Progress{})
	assert.Equal(t, []string{"a", "c"}, calls)

	unsubA()
	h.m.emitProgress(Progress{})
	assert.Equal(t, []string{"a", "c", "c"}, calls)
}

func TestManager_OverlayAndProgress(t *testing.T) {
	h := newHarness(t, "")
	h.client.QueueProcess(
		running(node("n1", domain.NodeStatusSuccess), node("n2", domain.NodeStatusRunning)),
		finished(domain.ExecuteStatusSuccess, node("n2", domain.NodeStatusSuccess), node("n3", domain.NodeStatusSuccess)),
	)

	var ticks []Progress
	h.m.SubscribeProgress(func(p Progress) { ticks = append(ticks, p) })

	var overlayDuringRun map[string]bool
	h.m.SubscribeProgress(func(p Progress) {
		if p.ExecuteStatus == domain.ExecuteStatusRunning {
			h.overlay.mu.Lock()
			overlayDuringRun = map[string]bool{"e1": h.overlay.edges["e1"]}
			h.overlay.mu.Unlock()
		}
	})

	require.NoError(t, h.m.TestRun(context.Background(), TestRunInput{}))

	require.Len(t, ticks, 2)
	assert.Equal(t, []domain.EdgeState{{EdgeID: "e1", Processing: true}}, ticks[0].Edges)
	assert.Equal(t, "e1", ticks[0].ExecuteID)
	assert.True(t, overlayDuringRun["e1"])

	h.overlay.mu.Lock()
	defer h.overlay.mu.Unlock()
	assert.False(t, h.overlay.edges["e1"])
	assert.False(t, h.overlay.edges["e2"])
}

func TestManager_WorksWithoutOptionalCollaborators(t *testing.T) {
	client := memory.NewClient()
	client.QueueProcess(running(node("n1", domain.NodeStatusRunning)), finished(domain.ExecuteStatusSuccess))

	m := NewManager(&Config{WorkflowID: "wf1", SpaceID: "space1", Client: client, PollInterval: testInterval})
	defer m.Dispose()
	m.SetGraph(testGraph())

	require.NoError(t, m.TestRun(context.Background(), TestRunInput{}))
	assert.Equal(t, domain.RunStateSucceed, m.State())
}

func TestManager_DisposeRejectsRuns(t *testing.T) {
	h := newHarness(t, "")
	h.m.Dispose()

	err := h.m.TestRun(context.Background(), TestRunInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrManagerDisposed)
}

type recordingStorage struct {
	mu    sync.Mutex
	saves []domain.Snapshot
}

func (s *recordingStorage) Save(_ context.Context, snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, *snap)
	return nil
}

func (s *recordingStorage) Get(context.Context, string) (*domain.Snapshot, error) {
	return nil, ports.ErrSnapshotNotFound
}

func (s *recordingStorage) Delete(context.Context, string) error { return nil }

func (s *recordingStorage) List(context.Context) ([]string, error) { return nil, nil }

func TestManager_PersistsSnapshots(t *testing.T) {
	client := memory.NewClient()
	client.SetExecuteID("e1")
	client.QueueProcess(running(node("n1", domain.NodeStatusRunning)), finished(domain.ExecuteStatusSuccess, node("n1", domain.NodeStatusSuccess)))
	storage := &recordingStorage{}

	m := NewManager(&Config{
		WorkflowID:   "wf1",
		SpaceID:      "space1",
		Client:       client,
		Storage:      storage,
		PollInterval: testInterval,
	})
	defer m.Dispose()

	require.NoError(t, m.TestRun(context.Background(), TestRunInput{}))

	storage.mu.Lock()
	defer storage.mu.Unlock()
	require.Len(t, storage.saves, 3)
	last := storage.saves[len(storage.saves)-1]
	assert.Equal(t, "e1", last.Handle.ExecuteID)
	assert.Equal(t, domain.RunStateSucceed, last.State)
}
