package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RunState is the client-side lifecycle of a test run
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateExecuting RunState = "executing"
	RunStatePaused    RunState = "paused"
	RunStateCanceled  RunState = "canceled"
	RunStateSucceed   RunState = "succeed"
	RunStateFailed    RunState = "failed"
)

// RunStates lists every run state
func RunStates() []RunState {
	return []RunState{
		RunStateIdle, RunStateExecuting, RunStatePaused,
		RunStateCanceled, RunStateSucceed, RunStateFailed,
	}
}

// IsTerminal reports whether the state ends a run
func (s RunState) IsTerminal() bool {
	return s == RunStateCanceled || s == RunStateSucceed || s == RunStateFailed
}

// IsActive reports whether a run is in flight
func (s RunState) IsActive() bool {
	return s == RunStateExecuting || s == RunStatePaused
}

// ExecuteStatus is the run-level status reported by the backend.
// Values follow the backend enum; 0 is sent by some chat-flow backends
// for executions that are still running.
type ExecuteStatus int

const (
	ExecuteStatusUnset   ExecuteStatus = 0
	ExecuteStatusRunning ExecuteStatus = 1
	ExecuteStatusSuccess ExecuteStatus = 2
	ExecuteStatusFail    ExecuteStatus = 3
	ExecuteStatusCancel  ExecuteStatus = 4
)

var executeStatusNames = map[ExecuteStatus]string{
	ExecuteStatusUnset:   "",
	ExecuteStatusRunning: "Running",
	ExecuteStatusSuccess: "Success",
	ExecuteStatusFail:    "Fail",
	ExecuteStatusCancel:  "Cancel",
}

func (s ExecuteStatus) String() string {
	if name, ok := executeStatusNames[s]; ok {
		return name
	}
	return strconv.Itoa(int(s))
}

// IsTerminal reports whether polling should stop
func (s ExecuteStatus) IsTerminal() bool {
	return s == ExecuteStatusSuccess || s == ExecuteStatusFail || s == ExecuteStatusCancel
}

// RunState maps a terminal status to the run state it ends in
func (s ExecuteStatus) RunState() (RunState, bool) {
	switch s {
	case ExecuteStatusSuccess:
		return RunStateSucceed, true
	case ExecuteStatusFail:
		return RunStateFailed, true
	case ExecuteStatusCancel:
		return RunStateCanceled, true
	default:
		return "", false
	}
}

// UnmarshalJSON accepts the numeric enum as well as its name
func (s *ExecuteStatus) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, executeStatusNames)
	if err != nil {
		return fmt.Errorf("execute status: %w", err)
	}
	*s = ExecuteStatus(v)
	return nil
}

// NodeStatus is the per-node execution status
type NodeStatus int

const (
	NodeStatusUnset   NodeStatus = 0
	NodeStatusWaiting NodeStatus = 1
	NodeStatusRunning NodeStatus = 2
	NodeStatusSuccess NodeStatus = 3
	NodeStatusFail    NodeStatus = 4
)

var nodeStatusNames = map[NodeStatus]string{
	NodeStatusUnset:   "",
	NodeStatusWaiting: "Waiting",
	NodeStatusRunning: "Running",
	NodeStatusSuccess: "Success",
	NodeStatusFail:    "Fail",
}

func (s NodeStatus) String() string {
	if name, ok := nodeStatusNames[s]; ok {
		return name
	}
	return strconv.Itoa(int(s))
}

// UnmarshalJSON accepts the numeric enum as well as its name
func (s *NodeStatus) UnmarshalJSON(data []byte) error {
	v, err := decodeEnum(data, nodeStatusNames)
	if err != nil {
		return fmt.Errorf("node status: %w", err)
	}
	*s = NodeStatus(v)
	return nil
}

// ErrorLevel classifies a node error
type ErrorLevel string

const (
	ErrorLevelError   ErrorLevel = "error"
	ErrorLevelWarning ErrorLevel = "warning"
	ErrorLevelPending ErrorLevel = "pending"

	// ErrorLevelLegacyWarn is still emitted by older backends and must be
	// rewritten to ErrorLevelWarning before anything consumes it.
	ErrorLevelLegacyWarn ErrorLevel = "Warn"
)

// Indexed reports whether a node with this level belongs in the error index
func (l ErrorLevel) Indexed() bool {
	switch ErrorLevel(strings.ToLower(string(l))) {
	case ErrorLevelError, ErrorLevelWarning, ErrorLevelPending:
		return true
	}
	return false
}

// ViewStatus mirrors what the canvas shows for the current run
type ViewStatus string

const (
	ViewStatusDefault   ViewStatus = "default"
	ViewStatusExecuting ViewStatus = "executing"
	ViewStatusDone      ViewStatus = "done"
)

func decodeEnum[T ~int](data []byte, names map[T]string) (int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, nil
	}

	if data[0] != '"' {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return 0, err
		}
		return n, nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	for v, name := range names {
		if name != "" && strings.EqualFold(name, raw) {
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("unknown value %q", raw)
}
