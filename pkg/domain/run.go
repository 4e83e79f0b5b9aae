package domain

import "time"

// NodeResult is the latest known result of one node within an execution.
// Later results for the same NodeID replace earlier ones.
type NodeResult struct {
	NodeID       string     `json:"nodeId"`
	NodeName     string     `json:"NodeName,omitempty"`
	NodeType     string     `json:"NodeType,omitempty"`
	NodeStatus   NodeStatus `json:"nodeStatus"`
	ErrorInfo    string     `json:"errorInfo,omitempty"`
	ErrorLevel   ErrorLevel `json:"errorLevel,omitempty"`
	Input        string     `json:"input,omitempty"`
	Output       string     `json:"output,omitempty"`
	NodeExeCost  string     `json:"nodeExeCost,omitempty"`
	IsBatch      bool       `json:"isBatch,omitempty"`
	Batch        string     `json:"batch,omitempty"`
	ExecuteID    string     `json:"executeId,omitempty"`
	SubExecuteID string     `json:"subExecuteId,omitempty"`
}

// RunResult is the payload returned by one status poll
type RunResult struct {
	WorkflowID      string        `json:"workFlowId,omitempty"`
	ExecuteID       string        `json:"executeId,omitempty"`
	ExecuteStatus   ExecuteStatus `json:"executeStatus"`
	NodeResults     []NodeResult  `json:"nodeResults"`
	Reason          string        `json:"reason,omitempty"`
	ProjectID       string        `json:"projectId,omitempty"`
	LogID           string        `json:"logID,omitempty"`
	WorkflowExeCost string        `json:"workflowExeCost,omitempty"`
}

// FailureReason returns Reason when the status makes it meaningful
func (r *RunResult) FailureReason() string {
	if r.ExecuteStatus == ExecuteStatusFail || r.ExecuteStatus == ExecuteStatusCancel {
		return r.Reason
	}
	return ""
}

// ExecutionHandle identifies the execution the orchestrator is tracking
type ExecutionHandle struct {
	ExecuteID    string `json:"execute_id"`
	IsSingleMode bool   `json:"is_single_mode"`
	ExecuteLogID string `json:"execute_log_id,omitempty"`
}

// EdgeState is derived from node results and never stored on its own
type EdgeState struct {
	EdgeID     string `json:"edge_id"`
	Processing bool   `json:"processing"`
}

// NodeError is one entry of the per-node error index
type NodeError struct {
	NodeID     string     `json:"node_id"`
	ErrorInfo  string     `json:"error_info"`
	ErrorLevel ErrorLevel `json:"error_level"`
	ErrorType  string     `json:"error_type"`
}

// Snapshot is a read-only copy of everything an observer may see
type Snapshot struct {
	WorkflowID    string                 `json:"workflow_id"`
	SpaceID       string                 `json:"space_id"`
	ProjectID     string                 `json:"project_id,omitempty"`
	State         RunState               `json:"state"`
	ViewStatus    ViewStatus             `json:"view_status"`
	Handle        ExecutionHandle        `json:"handle"`
	ExecuteStatus ExecuteStatus          `json:"execute_status"`
	SystemError   string                 `json:"system_error,omitempty"`
	NodeResults   []NodeResult           `json:"node_results"`
	NodeErrors    map[string][]NodeError `json:"node_errors"`
	Edges         []EdgeState            `json:"edges"`
	DetailOpen    bool                   `json:"detail_open"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Transition is delivered to observers on every state change
type Transition struct {
	From RunState
	To   RunState
}
