package http

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/ports"
)

// Canvas tracks the workflow document a session edits. Readiness is the
// publish status the canvas endpoint reports; it is refreshed after full
// runs.
type Canvas struct {
	client     *Client
	workflowID string
	spaceID    string
	logger     *zap.Logger

	saving  atomic.Bool
	history atomic.Bool

	mu        sync.RWMutex
	devStatus int64
	pluginID  string
}

// NewCanvas creates a document bound to one workflow
func NewCanvas(client *Client, workflowID, spaceID string, logger *zap.Logger) *Canvas {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Canvas{
		client:     client,
		workflowID: workflowID,
		spaceID:    spaceID,
		logger:     logger,
	}
}

// SetSaving marks the document as being saved
func (c *Canvas) SetSaving(saving bool) {
	c.saving.Store(saving)
}

// SetViewingHistory marks a historical version as shown
func (c *Canvas) SetViewingHistory(history bool) {
	c.history.Store(history)
}

// Saving reports whether the document is being saved
func (c *Canvas) Saving() bool {
	return c.saving.Load()
}

// ViewingHistory reports whether a historical version is shown
func (c *Canvas) ViewingHistory() bool {
	return c.history.Load()
}

// ReloadReadiness refetches the canvas and records its publish status
func (c *Canvas) ReloadReadiness(ctx context.Context) error {
	data, err := c.client.Canvas(ctx, c.workflowID, c.spaceID)
	if err != nil {
		return err
	}

	parsed := gjson.ParseBytes(data)
	status := parsed.Get("workflow.status").Int()

	c.mu.Lock()
	c.devStatus = status
	c.pluginID = parsed.Get("workflow.plugin_id").String()
	c.mu.Unlock()

	c.logger.Debug("document readiness reloaded",
		zap.String("workflow_id", c.workflowID),
		zap.Int64("dev_status", status))
	return nil
}

// DevStatus returns the last known publish status
func (c *Canvas) DevStatus() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devStatus
}

// PluginID returns the published plugin id, "0" when never published
func (c *Canvas) PluginID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pluginID
}

var _ ports.Document = (*Canvas)(nil)
