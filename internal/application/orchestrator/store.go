package orchestrator

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

// ResultStore is the aggregated snapshot of the current execution.
// Node results are keyed by node ID (last write wins); edge state is
// recomputed from scratch after every merge.
type ResultStore struct {
	mu sync.RWMutex

	handle        domain.ExecutionHandle
	executeStatus domain.ExecuteStatus
	systemError   string
	projectID     string
	viewStatus    domain.ViewStatus
	detailOpen    bool
	updatedAt     time.Time

	nodeResults map[string]domain.NodeResult
	nodeOrder   []string
	nodeErrors  map[string][]domain.NodeError
	edges       map[string]bool
	edgeOrder   []string
}

// NewResultStore creates an empty store
func NewResultStore() *ResultStore {
	s := &ResultStore{}
	s.reset()
	return s
}

// Reset drops every trace of the previous execution
func (s *ResultStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *ResultStore) reset() {
	s.handle = domain.ExecutionHandle{}
	s.executeStatus = domain.ExecuteStatusUnset
	s.systemError = ""
	s.viewStatus = domain.ViewStatusDefault
	s.nodeResults = make(map[string]domain.NodeResult)
	s.nodeOrder = nil
	s.nodeErrors = make(map[string][]domain.NodeError)
	s.edges = make(map[string]bool)
	s.edgeOrder = nil
	s.updatedAt = time.Now()
}

// SetExecuteID records the execution returned by a start call
func (s *ResultStore) SetExecuteID(executeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle.ExecuteID = executeID
	s.updatedAt = time.Now()
}

// SetSingleMode flags the handle as a single-node run
func (s *ResultStore) SetSingleMode(single bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle.IsSingleMode = single
}

// SetSystemError records a message for display
func (s *ResultStore) SetSystemError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemError = msg
	s.updatedAt = time.Now()
}

// SetViewStatus records what the canvas shows
func (s *ResultStore) SetViewStatus(v domain.ViewStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewStatus = v
}

// SetDetailOpen opens or closes the error-detail surface
func (s *ResultStore) SetDetailOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailOpen = open
}

// ApplyConfig copies run-level fields of result without touching node results
func (s *ResultStore) ApplyConfig(result *domain.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyConfig(result)
}

func (s *ResultStore) applyConfig(result *domain.RunResult) {
	s.executeStatus = result.ExecuteStatus
	if result.ExecuteID != "" {
		s.handle.ExecuteLogID = result.ExecuteID
	}
	if result.ProjectID != "" {
		s.projectID = result.ProjectID
	}
	s.systemError = result.FailureReason()
	s.updatedAt = time.Now()
}

// Apply merges one poll result and recomputes derived edge state from the
// merged snapshot. It returns the state of every edge whose target node
// appeared in this result.
func (s *ResultStore) Apply(result *domain.RunResult, edges []domain.Edge) []domain.EdgeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]bool, len(result.NodeResults))
	for _, nr := range result.NodeResults {
		if nr.NodeID == "" {
			continue
		}
		if _, ok := s.nodeResults[nr.NodeID]; !ok {
			s.nodeOrder = append(s.nodeOrder, nr.NodeID)
		}
		s.nodeResults[nr.NodeID] = nr
		touched[nr.NodeID] = true

		if nr.ErrorLevel.Indexed() {
			s.nodeErrors[nr.NodeID] = []domain.NodeError{{
				NodeID:     nr.NodeID,
				ErrorInfo:  nr.ErrorInfo,
				ErrorLevel: domain.ErrorLevel(strings.ToLower(string(nr.ErrorLevel))),
				ErrorType:  "node",
			}}
		}
	}

	s.applyConfig(result)

	s.edges = make(map[string]bool, len(edges))
	s.edgeOrder = s.edgeOrder[:0]
	var changed []domain.EdgeState
	for _, e := range edges {
		key := e.Key()
		processing := s.edgeProcessing(e)
		if _, seen := s.edges[key]; !seen {
			s.edgeOrder = append(s.edgeOrder, key)
		}
		s.edges[key] = processing
		if touched[e.TargetNodeID] {
			changed = append(changed, domain.EdgeState{EdgeID: key, Processing: processing})
		}
	}
	return changed
}

// edgeProcessing: target running and source running or succeeded
func (s *ResultStore) edgeProcessing(e domain.Edge) bool {
	target, ok := s.nodeResults[e.TargetNodeID]
	if !ok || target.NodeStatus != domain.NodeStatusRunning {
		return false
	}
	source, ok := s.nodeResults[e.SourceNodeID]
	if !ok {
		return false
	}
	return source.NodeStatus == domain.NodeStatusRunning || source.NodeStatus == domain.NodeStatusSuccess
}

// Handle returns the current execution handle
func (s *ResultStore) Handle() domain.ExecutionHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// ExecuteStatus returns the status of the last applied poll
func (s *ResultStore) ExecuteStatus() domain.ExecuteStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executeStatus
}

// SystemError returns the message captured for display
func (s *ResultStore) SystemError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemError
}

// NodeResult returns the latest result for nodeID
func (s *ResultStore) NodeResult(nodeID string) (domain.NodeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nr, ok := s.nodeResults[nodeID]
	return nr, ok
}

// HasNodeResults reports whether any node result is stored
func (s *ResultStore) HasNodeResults() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodeResults) > 0
}

// NodeResults returns node results in first-seen order
func (s *ResultStore) NodeResults() []domain.NodeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeResultsLocked()
}

func (s *ResultStore) nodeResultsLocked() []domain.NodeResult {
	out := make([]domain.NodeResult, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		out = append(out, s.nodeResults[id])
	}
	return out
}

// NodeErrors returns a copy of the error index
func (s *ResultStore) NodeErrors() map[string][]domain.NodeError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeErrorsLocked()
}

func (s *ResultStore) nodeErrorsLocked() map[string][]domain.NodeError {
	out := make(map[string][]domain.NodeError, len(s.nodeErrors))
	for id, errs := range s.nodeErrors {
		out[id] = append([]domain.NodeError(nil), errs...)
	}
	return out
}

// Edges returns derived edge state sorted by edge ID
func (s *ResultStore) Edges() []domain.EdgeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked()
}

func (s *ResultStore) edgesLocked() []domain.EdgeState {
	out := make([]domain.EdgeState, 0, len(s.edges))
	for _, key := range s.edgeOrder {
		out = append(out, domain.EdgeState{EdgeID: key, Processing: s.edges[key]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdgeID < out[j].EdgeID })
	return out
}

// fill copies the store into snap
func (s *ResultStore) fill(snap *domain.Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap.Handle = s.handle
	snap.ExecuteStatus = s.executeStatus
	snap.SystemError = s.systemError
	if s.projectID != "" {
		snap.ProjectID = s.projectID
	}
	snap.ViewStatus = s.viewStatus
	snap.DetailOpen = s.detailOpen
	snap.UpdatedAt = s.updatedAt
	snap.NodeResults = s.nodeResultsLocked()
	snap.NodeErrors = s.nodeErrorsLocked()
	snap.Edges = s.edgesLocked()
}
