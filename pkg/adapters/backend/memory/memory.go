package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

type processStep struct {
	result *domain.RunResult
	err    error
}

// Client is a scripted in-process RunClient. GetProcess answers from a
// queue of steps; the last step repeats until more are queued. With an
// empty script every execution succeeds at once.
type Client struct {
	mu sync.Mutex

	startErr  error
	executeID string
	steps     []processStep
	canceled  map[string]bool
	hook      func(req ports.GetProcessRequest)

	runRequests     []ports.StartRunRequest
	nodeRequests    []ports.StartNodeRunRequest
	triggerRequests []ports.StartTriggerRunRequest
	cancelRequests  []ports.CancelRunRequest

	getCalls atomic.Int64
}

// NewClient creates a new scripted client
func NewClient() *Client {
	return &Client{
		canceled: make(map[string]bool),
	}
}

// SetExecuteID fixes the id returned by start calls; "" generates one
func (c *Client) SetExecuteID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executeID = id
}

// FailStart makes every start call return err
func (c *Client) FailStart(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startErr = err
}

// QueueProcess appends poll results to the script
func (c *Client) QueueProcess(results ...*domain.RunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range results {
		c.steps = append(c.steps, processStep{result: r})
	}
}

// ReplaceProcess drops the remaining script and queues results instead
func (c *Client) ReplaceProcess(results ...*domain.RunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = c.steps[:0]
	for _, r := range results {
		c.steps = append(c.steps, processStep{result: r})
	}
}

// QueueProcessError appends a failing poll to the script
func (c *Client) QueueProcessError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, processStep{err: err})
}

// OnGetProcess registers a hook called at the start of every GetProcess
func (c *Client) OnGetProcess(hook func(req ports.GetProcessRequest)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = hook
}

// GetProcessCalls returns how many status calls were made
func (c *Client) GetProcessCalls() int {
	return int(c.getCalls.Load())
}

// RunRequests returns every full-run start request
func (c *Client) RunRequests() []ports.StartRunRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.StartRunRequest(nil), c.runRequests...)
}

// NodeRequests returns every node-run start request
func (c *Client) NodeRequests() []ports.StartNodeRunRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.StartNodeRunRequest(nil), c.nodeRequests...)
}

// TriggerRequests returns every trigger-run start request
func (c *Client) TriggerRequests() []ports.StartTriggerRunRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.StartTriggerRunRequest(nil), c.triggerRequests...)
}

// CancelRequests returns every cancel request
func (c *Client) CancelRequests() []ports.CancelRunRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.CancelRunRequest(nil), c.cancelRequests...)
}

// StartRun starts a scripted full run
func (c *Client) StartRun(ctx context.Context, req ports.StartRunRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runRequests = append(c.runRequests, req)
	return c.start()
}

// StartNodeRun starts a scripted single-node run
func (c *Client) StartNodeRun(ctx context.Context, req ports.StartNodeRunRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeRequests = append(c.nodeRequests, req)
	return c.start()
}

// StartTriggerRun starts a scripted trigger run
func (c *Client) StartTriggerRun(ctx context.Context, req ports.StartTriggerRunRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggerRequests = append(c.triggerRequests, req)
	return c.start()
}

func (c *Client) start() (string, error) {
	if c.startErr != nil {
		return "", c.startErr
	}
	if c.executeID != "" {
		return c.executeID, nil
	}
	return uuid.New().String(), nil
}

// GetProcess returns the next scripted step. A canceled execution always
// reports Cancel.
func (c *Client) GetProcess(ctx context.Context, req ports.GetProcessRequest) (*domain.RunResult, error) {
	c.getCalls.Add(1)

	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.canceled[req.ExecuteID] {
		return &domain.RunResult{
			ExecuteID:     req.ExecuteID,
			ExecuteStatus: domain.ExecuteStatusCancel,
		}, nil
	}

	if len(c.steps) == 0 {
		return &domain.RunResult{
			ExecuteID:     req.ExecuteID,
			ExecuteStatus: domain.ExecuteStatusSuccess,
		}, nil
	}

	step := c.steps[0]
	if len(c.steps) > 1 {
		c.steps = c.steps[1:]
	}
	if step.err != nil {
		return nil, step.err
	}
	return cloneResult(step.result), nil
}

// CancelRun marks the execution canceled
func (c *Client) CancelRun(ctx context.Context, req ports.CancelRunRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRequests = append(c.cancelRequests, req)
	c.canceled[req.ExecuteID] = true
	return nil
}

// cloneResult keeps repeated steps independent of in-place normalization
func cloneResult(r *domain.RunResult) *domain.RunResult {
	if r == nil {
		return nil
	}
	out := *r
	out.NodeResults = append([]domain.NodeResult(nil), r.NodeResults...)
	return &out
}

// Document is an in-process document with switchable flags
type Document struct {
	saving  atomic.Bool
	history atomic.Bool
	reloads atomic.Int64
	err     error
}

// NewDocument creates a new document that is neither saving nor in history view
func NewDocument() *Document {
	return &Document{}
}

// SetSaving toggles the saving flag
func (d *Document) SetSaving(saving bool) {
	d.saving.Store(saving)
}

// SetViewingHistory toggles the history view flag
func (d *Document) SetViewingHistory(history bool) {
	d.history.Store(history)
}

// Saving reports whether the document is being saved
func (d *Document) Saving() bool {
	return d.saving.Load()
}

// ViewingHistory reports whether a historical version is shown
func (d *Document) ViewingHistory() bool {
	return d.history.Load()
}

// ReloadReadiness counts the call
func (d *Document) ReloadReadiness(ctx context.Context) error {
	d.reloads.Add(1)
	return d.err
}

// Reloads returns how many times readiness was reloaded
func (d *Document) Reloads() int {
	return int(d.reloads.Load())
}

var (
	_ ports.RunClient = (*Client)(nil)
	_ ports.Document  = (*Document)(nil)
)
