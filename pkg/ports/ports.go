// Package ports declares the collaborators the test-run orchestrator depends on.
//
// Adapters under pkg/adapters implement these interfaces; the orchestrator
// only ever sees the interfaces.
package ports

import (
	"context"
	"errors"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

// ErrSnapshotNotFound is returned by SnapshotStorage.Get for unknown executions
var ErrSnapshotNotFound = errors.New("snapshot not found")

// BaseParams identifies the workflow a remote call targets
type BaseParams struct {
	WorkflowID string
	SpaceID    string
	BotID      string
	ProjectID  string
}

// StartRunRequest starts a full-graph run
type StartRunRequest struct {
	BaseParams
	Input map[string]string
}

// StartNodeRunRequest starts a single-node run
type StartNodeRunRequest struct {
	BaseParams
	NodeID  string
	Input   map[string]string
	Batch   map[string]string
	Setting map[string]string
}

// StartTriggerRunRequest starts a run through a project trigger
type StartTriggerRunRequest struct {
	SpaceID   string
	ProjectID string
	TriggerID string
}

// GetProcessRequest fetches the status of an execution
type GetProcessRequest struct {
	WorkflowID   string
	SpaceID      string
	ExecuteID    string
	SubExecuteID string
}

// CancelRunRequest asks the backend to stop an execution
type CancelRunRequest struct {
	WorkflowID string
	SpaceID    string
	ExecuteID  string
}

// RunClient is the remote side of a test run
type RunClient interface {
	StartRun(ctx context.Context, req StartRunRequest) (string, error)
	StartNodeRun(ctx context.Context, req StartNodeRunRequest) (string, error)
	StartTriggerRun(ctx context.Context, req StartTriggerRunRequest) (string, error)
	GetProcess(ctx context.Context, req GetProcessRequest) (*domain.RunResult, error)
	CancelRun(ctx context.Context, req CancelRunRequest) error
}

// Validator checks a graph before a run starts
type Validator interface {
	Validate(g *domain.Graph) error
}

// Reporter receives lifecycle telemetry. Calls are fire-and-forget.
type Reporter interface {
	TryStart(scene domain.TestRunType)
	RunEnd(ev domain.RunEnd)
	ResultEvent(ev domain.ResultEvent)
}

// EdgeOverlay is an optional visual sink for derived edge state
type EdgeOverlay interface {
	SetProcessing(edgeID string, processing bool)
}

// Document exposes the parts of the workflow document a run cares about
type Document interface {
	Saving() bool
	ViewingHistory() bool
	ReloadReadiness(ctx context.Context) error
}

// SnapshotStorage persists execution snapshots keyed by execute ID
type SnapshotStorage interface {
	Save(ctx context.Context, snap *domain.Snapshot) error
	Get(ctx context.Context, executeID string) (*domain.Snapshot, error)
	Delete(ctx context.Context, executeID string) error
	List(ctx context.Context) ([]string, error)
}

// EventHandler processes one event
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes run events to interested consumers
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}
