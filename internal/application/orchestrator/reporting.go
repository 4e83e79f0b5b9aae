package orchestrator

import (
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

// reportTransition sends the classified result of a flow run when it ends.
// Single-node runs only report through RunEnd.
func (m *Manager) reportTransition(t domain.Transition) {
	m.logger.Debug("run state changed",
		zap.String("prev_state", string(t.From)),
		zap.String("state", string(t.To)))

	if m.store.Handle().IsSingleMode {
		return
	}

	executeID := m.store.Handle().ExecuteID
	switch t.To {
	case domain.RunStateSucceed:
		m.reporter.ResultEvent(domain.ResultEvent{
			SpaceID:    m.spaceID,
			WorkflowID: m.workflowID,
			ExecuteID:  executeID,
			Action:     domain.ActionTestRunEnd,
			Result:     domain.ResultSuccess,
		})
	case domain.RunStateFailed:
		m.reporter.ResultEvent(domain.ResultEvent{
			SpaceID:    m.spaceID,
			WorkflowID: m.workflowID,
			ExecuteID:  executeID,
			Action:     domain.ActionTestRunEnd,
			Result:     domain.ResultFail,
			FailEnd:    domain.FailEndServer,
			ErrType:    domain.ErrTypeRun,
		})
	}
}

type nopReporter struct{}

func (nopReporter) TryStart(domain.TestRunType) {}
func (nopReporter) RunEnd(domain.RunEnd)         {}
func (nopReporter) ResultEvent(domain.ResultEvent) {}
