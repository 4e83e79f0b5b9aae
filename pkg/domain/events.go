package domain

import "time"

// EventType identifies a published run event
type EventType string

const (
	EventTypeStateChanged EventType = "testrun.state_changed"
	EventTypeProgress     EventType = "testrun.progress"
	EventTypeSessionOpen  EventType = "testrun.session_opened"
	EventTypeSessionClose EventType = "testrun.session_closed"
)

// Event is the envelope carried by the event bus
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	WorkflowID string                 `json:"workflow_id"`
	ExecuteID  string                 `json:"execute_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// TestRunType distinguishes flow, node and trigger runs for telemetry
type TestRunType string

const (
	TestRunTypeFlow    TestRunType = "flow"
	TestRunTypeNode    TestRunType = "node"
	TestRunTypeTrigger TestRunType = "trigger"
)

// TestRunResult is the outcome label sent with RunEnd
type TestRunResult string

const (
	TestRunResultSuccess TestRunResult = "success"
	TestRunResultFail    TestRunResult = "fail"
	TestRunResultCancel  TestRunResult = "cancel"
	TestRunResultError   TestRunResult = "error"
	TestRunResultUnknown TestRunResult = "unknown"
)

// TestRunResultOf maps a final execute status to its telemetry label
func TestRunResultOf(s ExecuteStatus) TestRunResult {
	switch s {
	case ExecuteStatusSuccess:
		return TestRunResultSuccess
	case ExecuteStatusFail:
		return TestRunResultFail
	case ExecuteStatusCancel:
		return TestRunResultCancel
	default:
		return TestRunResultUnknown
	}
}

// RunEnd is reported once per run routine
type RunEnd struct {
	Type      TestRunType
	Result    TestRunResult
	ExecuteID string
}

// Result event actions and error classes
const (
	ActionTestRunEnd = "testrun_end"
	ActionManualEnd  = "manual_end"

	ResultSuccess = "success"
	ResultFail    = "fail"

	FailEndFront  = "front_end"
	FailEndServer = "server_end"

	ErrTypeValidate = "flow_validate"
	ErrTypeTrigger  = "trigger_error"
	ErrTypeRun      = "run_error"
)

// ResultEvent is the classified outcome of a flow run
type ResultEvent struct {
	SpaceID    string
	WorkflowID string
	ExecuteID  string
	Action     string
	Result     string
	FailEnd    string
	ErrType    string
}
