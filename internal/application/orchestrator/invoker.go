package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// TestRunInput starts a full-graph run
type TestRunInput struct {
	Input map[string]string
	// BotID is sent as project_id when UseProject is set, as bot_id otherwise
	BotID      string
	UseProject bool
}

// NodeRunInput starts a single-node run
type NodeRunInput struct {
	NodeID     string
	Input      map[string]string
	Batch      map[string]string
	Setting    map[string]string
	BotID      string
	UseProject bool
}

// ProcessQuery selects a past execution to load
type ProcessQuery struct {
	// ExecuteID defaults to the current execution
	ExecuteID       string
	SubExecuteID    string
	ShowNodeResults bool
}

type startFunc func(ctx context.Context) (string, error)

// TestRun validates the graph, starts a full run and polls it to the end.
// It returns nil on Success and Cancel, an ErrRun error on Fail.
func (m *Manager) TestRun(ctx context.Context, in TestRunInput) error {
	const op = "test_run"

	runCtx, finish, err := m.beginRun(ctx, op)
	if err != nil {
		return err
	}
	defer finish()

	if err := m.validate(op); err != nil {
		return err
	}

	m.clearForRun(false)
	m.store.SetDetailOpen(false)
	m.store.SetViewStatus(domain.ViewStatusExecuting)
	m.reporter.TryStart(domain.TestRunTypeFlow)

	params := m.baseParams(in.BotID, in.UseProject)
	start := func(ctx context.Context) (string, error) {
		return m.client.StartRun(ctx, ports.StartRunRequest{BaseParams: params, Input: in.Input})
	}
	return m.execute(runCtx, op, domain.TestRunTypeFlow, start, true)
}

// TestRunOneNode runs a single node. The handle stays in single mode for
// the whole run, and readiness is never reloaded on completion.
func (m *Manager) TestRunOneNode(ctx context.Context, in NodeRunInput) error {
	const op = "test_run_node"

	if g := m.Graph(); g != nil && !g.HasNode(in.NodeID) {
		return newError(op, ErrNodeNotFound, "", in.NodeID, nil)
	}

	runCtx, finish, err := m.beginRun(ctx, op)
	if err != nil {
		return err
	}
	defer finish()

	m.clearForRun(true)
	m.store.SetDetailOpen(false)
	m.store.SetViewStatus(domain.ViewStatusExecuting)
	m.reporter.TryStart(domain.TestRunTypeNode)

	req := ports.StartNodeRunRequest{
		BaseParams: m.baseParams(in.BotID, in.UseProject),
		NodeID:     in.NodeID,
		Input:      in.Input,
		Batch:      in.Batch,
		Setting:    in.Setting,
	}
	start := func(ctx context.Context) (string, error) {
		return m.client.StartNodeRun(ctx, req)
	}
	return m.execute(runCtx, op, domain.TestRunTypeNode, start, false)
}

// TestRunTrigger runs the workflow through a project trigger
func (m *Manager) TestRunTrigger(ctx context.Context, triggerID string) error {
	const op = "test_run_trigger"

	if m.projectID == "" {
		return newError(op, ErrNoProject, "", "", nil)
	}

	runCtx, finish, err := m.beginRun(ctx, op)
	if err != nil {
		return err
	}
	defer finish()

	m.clearForRun(false)
	m.store.SetViewStatus(domain.ViewStatusExecuting)
	m.reporter.TryStart(domain.TestRunTypeTrigger)

	req := ports.StartTriggerRunRequest{
		SpaceID:   m.spaceID,
		ProjectID: m.projectID,
		TriggerID: triggerID,
	}
	start := func(ctx context.Context) (string, error) {
		return m.client.StartTriggerRun(ctx, req)
	}
	return m.execute(runCtx, op, domain.TestRunTypeTrigger, start, true)
}

// Attach follows an execution that was started elsewhere. A still-running
// execution (status Running or 0) is polled like one started here.
func (m *Manager) Attach(ctx context.Context, executeID string) error {
	const op = "attach"

	if executeID == "" {
		return newError(op, ErrNoExecuteID, "", "", nil)
	}

	runCtx, finish, err := m.beginRun(ctx, op)
	if err != nil {
		return err
	}
	defer finish()

	m.clearForRun(false)
	m.store.SetExecuteID(executeID)

	req := m.processRequest(executeID, "")
	result, err := m.poller.Fetch(runCtx, req)
	if err != nil {
		return m.pollFailed(runCtx, op, "", executeID, err)
	}
	m.apply(runCtx, result)

	status := result.ExecuteStatus
	if !status.IsTerminal() {
		m.store.SetViewStatus(domain.ViewStatusExecuting)
		m.machine.Set(domain.RunStateExecuting)
		m.logger.Info("attached to running execution", zap.String("execute_id", executeID))

		if err := m.poller.Wait(runCtx); err != nil {
			return m.pollFailed(runCtx, op, "", executeID, err)
		}
		status, err = m.poller.Poll(runCtx, req)
		if err != nil {
			return m.pollFailed(runCtx, op, "", executeID, err)
		}
	}

	m.finishProcess(runCtx, true)
	if state, ok := status.RunState(); ok {
		m.machine.Set(state)
	}
	m.persist(runCtx)
	return nil
}

// LoadProcessResult fetches one execution without touching the run state.
// With ShowNodeResults the node results are merged for display as well.
// It is refused with ErrRunActive while a run owns the result store.
func (m *Manager) LoadProcessResult(ctx context.Context, q ProcessQuery) (*domain.RunResult, error) {
	const op = "load_process"

	release, err := m.claimStore(op)
	if err != nil {
		return nil, err
	}
	defer release()

	executeID := q.ExecuteID
	if executeID == "" {
		executeID = m.store.Handle().ExecuteID
	}
	if executeID == "" {
		return nil, newError(op, ErrNoExecuteID, "", "", nil)
	}

	result, err := m.poller.Fetch(ctx, m.processRequest(executeID, q.SubExecuteID))
	if err != nil {
		m.logger.Error("failed to load process result",
			zap.String("execute_id", executeID),
			zap.Error(err))
		return nil, newError(op, ErrSystem, executeID, "", err)
	}

	m.store.ApplyConfig(result)
	if q.ShowNodeResults {
		m.store.SetViewStatus(domain.ViewStatusDone)
		m.apply(ctx, result)
	}
	return result, nil
}

// Cancel reports a manual end, asks the backend to stop the execution and
// then resumes the poll loop so it can observe the terminal status. The
// resume happens even when the cancel call fails.
func (m *Manager) Cancel(ctx context.Context) error {
	const op = "cancel"

	executeID := m.store.Handle().ExecuteID
	defer m.Resume()

	if executeID == "" {
		return newError(op, ErrNoExecuteID, "", "", nil)
	}

	m.reporter.ResultEvent(domain.ResultEvent{
		SpaceID:    m.spaceID,
		WorkflowID: m.workflowID,
		ExecuteID:  executeID,
		Action:     domain.ActionManualEnd,
	})

	err := m.client.CancelRun(ctx, ports.CancelRunRequest{
		WorkflowID: m.workflowID,
		SpaceID:    m.spaceID,
		ExecuteID:  executeID,
	})
	if err != nil {
		m.logger.Error("failed to cancel test run",
			zap.String("execute_id", executeID),
			zap.Error(err))
		return newError(op, ErrSystem, executeID, "", err)
	}

	m.logger.Info("test run cancel requested", zap.String("execute_id", executeID))
	return nil
}

func (m *Manager) validate(op string) error {
	if m.validator == nil {
		return nil
	}
	if err := m.validator.Validate(m.Graph()); err != nil {
		m.reporter.ResultEvent(domain.ResultEvent{
			SpaceID:    m.spaceID,
			WorkflowID: m.workflowID,
			Action:     domain.ActionTestRunEnd,
			Result:     domain.ResultFail,
			FailEnd:    domain.FailEndFront,
			ErrType:    domain.ErrTypeValidate,
		})
		return newError(op, ErrValidation, "", "", err)
	}
	return nil
}

// clearForRun drops the previous run so nothing leaks into the new one
func (m *Manager) clearForRun(single bool) {
	m.store.Reset()
	m.store.SetSingleMode(single)
	m.machine.Set(domain.RunStateIdle)
}

func (m *Manager) baseParams(botID string, useProject bool) ports.BaseParams {
	p := ports.BaseParams{
		WorkflowID: m.workflowID,
		SpaceID:    m.spaceID,
	}
	if botID != "" {
		if useProject {
			p.ProjectID = botID
		} else {
			p.BotID = botID
		}
	}
	if p.ProjectID == "" && p.BotID == "" {
		p.ProjectID = m.projectID
	}
	return p
}

func (m *Manager) processRequest(executeID, subExecuteID string) ports.GetProcessRequest {
	return ports.GetProcessRequest{
		WorkflowID:   m.workflowID,
		SpaceID:      m.spaceID,
		ExecuteID:    executeID,
		SubExecuteID: subExecuteID,
	}
}

// execute starts the run and polls it. Start failures are trigger errors
// and leave the state Idle; poll failures force Failed.
func (m *Manager) execute(ctx context.Context, op string, kind domain.TestRunType, start startFunc, reload bool) error {
	executeID, err := start(ctx)
	if err == nil && executeID == "" {
		err = ErrEmptyExecuteID
	}
	if err != nil {
		return m.triggerFailed(op, kind, err)
	}

	m.store.SetExecuteID(executeID)
	m.machine.Set(domain.RunStateExecuting)
	m.logger.Info("test run started",
		zap.String("execute_id", executeID),
		zap.String("type", string(kind)))

	status, err := m.poller.Poll(ctx, m.processRequest(executeID, ""))
	if err != nil {
		return m.pollFailed(ctx, op, kind, executeID, err)
	}

	m.finishProcess(ctx, reload)
	m.reporter.RunEnd(domain.RunEnd{
		Type:      kind,
		Result:    domain.TestRunResultOf(status),
		ExecuteID: executeID,
	})
	if status == domain.ExecuteStatusFail {
		m.store.SetDetailOpen(true)
	}
	if state, ok := status.RunState(); ok {
		m.machine.Set(state)
	}
	m.persist(ctx)

	m.logger.Info("test run finished",
		zap.String("execute_id", executeID),
		zap.Stringer("status", status))

	if status == domain.ExecuteStatusFail {
		return newError(op, ErrRun, executeID, m.store.SystemError(), nil)
	}
	return nil
}

func (m *Manager) triggerFailed(op string, kind domain.TestRunType, err error) error {
	single := m.store.Handle().IsSingleMode
	m.store.Reset()
	m.store.SetSingleMode(single)
	m.store.SetSystemError(err.Error())

	if !single {
		m.reporter.ResultEvent(domain.ResultEvent{
			SpaceID:    m.spaceID,
			WorkflowID: m.workflowID,
			Action:     domain.ActionTestRunEnd,
			Result:     domain.ResultFail,
			FailEnd:    domain.FailEndServer,
			ErrType:    domain.ErrTypeTrigger,
		})
	}
	m.reporter.RunEnd(domain.RunEnd{Type: kind, Result: domain.TestRunResultError})

	m.logger.Error("failed to start test run",
		zap.String("type", string(kind)),
		zap.Error(err))
	return newError(op, ErrTrigger, "", "", err)
}

// pollFailed handles errors raised inside the poll loop. A loop stopped by
// Clear or Dispose is abandoned quietly instead of being reported.
func (m *Manager) pollFailed(ctx context.Context, op string, kind domain.TestRunType, executeID string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		m.logger.Info("test run abandoned", zap.String("execute_id", executeID))
		m.machine.Set(domain.RunStateIdle)
		return newError(op, ErrSystem, executeID, "", err)
	}

	single := m.store.Handle().IsSingleMode
	m.store.Reset()
	m.store.SetSingleMode(single)
	m.store.SetSystemError(err.Error())
	m.store.SetDetailOpen(true)

	if kind != "" {
		m.reporter.RunEnd(domain.RunEnd{Type: kind, Result: domain.TestRunResultError})
	}
	m.machine.Set(domain.RunStateFailed)

	m.logger.Error("test run failed while polling",
		zap.String("execute_id", executeID),
		zap.Error(err))
	return newError(op, ErrSystem, executeID, "", err)
}

// finishProcess marks the view done and, for runs that change what the
// document may publish, recomputes its readiness.
func (m *Manager) finishProcess(ctx context.Context, reload bool) {
	m.store.SetViewStatus(domain.ViewStatusDone)

	if !reload || m.document == nil || m.document.ViewingHistory() {
		return
	}
	if err := m.document.ReloadReadiness(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("failed to reload document readiness", zap.Error(err))
	}
}
