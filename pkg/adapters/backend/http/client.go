package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
	"github.com/aescanero/dago-testrun/pkg/telemetry"
)

// Workflow API paths
const (
	PathTestRun    = "/api/workflow_api/test_run"
	PathNodeDebug  = "/api/workflow_api/nodeDebug"
	PathGetProcess = "/api/workflow_api/get_process"
	PathCancel     = "/api/workflow_api/cancel"
	PathCanvas     = "/api/workflow_api/canvas"

	DefaultTriggerPath = "/api/workflow_api/trigger/test_run"
)

const maxResponseBytes = 16 << 20

// Config holds workflow API client configuration
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	TriggerPath string

	// Optional
	HTTPClient *http.Client
	Tracer     trace.Tracer
}

// Client implements ports.RunClient over the workflow HTTP API
type Client struct {
	baseURL     string
	token       string
	triggerPath string
	httpClient  *http.Client
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewClient creates a new workflow API client
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("testrun/backend")
	}

	triggerPath := cfg.TriggerPath
	if triggerPath == "" {
		triggerPath = DefaultTriggerPath
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		triggerPath: triggerPath,
		httpClient:  httpClient,
		tracer:      tracer,
		logger:      logger,
	}
}

type testRunBody struct {
	WorkflowID string            `json:"workflow_id"`
	SpaceID    string            `json:"space_id"`
	BotID      string            `json:"bot_id,omitempty"`
	ProjectID  string            `json:"project_id,omitempty"`
	Input      map[string]string `json:"input"`
}

type nodeDebugBody struct {
	WorkflowID string            `json:"workflow_id"`
	SpaceID    string            `json:"space_id"`
	NodeID     string            `json:"node_id"`
	BotID      string            `json:"bot_id,omitempty"`
	ProjectID  string            `json:"project_id,omitempty"`
	Input      map[string]string `json:"input"`
	Batch      map[string]string `json:"batch,omitempty"`
	Setting    map[string]string `json:"setting,omitempty"`
}

type triggerBody struct {
	SpaceID   string `json:"space_id"`
	ProjectID string `json:"project_id"`
	TriggerID string `json:"trigger_id"`
}

type cancelBody struct {
	ExecuteID  string `json:"execute_id"`
	WorkflowID string `json:"workflow_id"`
	SpaceID    string `json:"space_id"`
}

type startData struct {
	ExecuteID  string `json:"execute_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// StartRun starts a full-graph test run
func (c *Client) StartRun(ctx context.Context, req ports.StartRunRequest) (string, error) {
	body := testRunBody{
		WorkflowID: req.WorkflowID,
		SpaceID:    req.SpaceID,
		BotID:      req.BotID,
		ProjectID:  req.ProjectID,
		Input:      nonNil(req.Input),
	}

	var data startData
	if err := c.do(ctx, "start_run", http.MethodPost, PathTestRun, nil, body, &data); err != nil {
		return "", fmt.Errorf("failed to start test run: %w", err)
	}
	return data.ExecuteID, nil
}

// StartNodeRun starts a single-node debug run
func (c *Client) StartNodeRun(ctx context.Context, req ports.StartNodeRunRequest) (string, error) {
	body := nodeDebugBody{
		WorkflowID: req.WorkflowID,
		SpaceID:    req.SpaceID,
		NodeID:     req.NodeID,
		BotID:      req.BotID,
		ProjectID:  req.ProjectID,
		Input:      nonNil(req.Input),
		Batch:      req.Batch,
		Setting:    req.Setting,
	}

	var data startData
	if err := c.do(ctx, "start_node_run", http.MethodPost, PathNodeDebug, nil, body, &data); err != nil {
		return "", fmt.Errorf("failed to start node run: %w", err)
	}
	return data.ExecuteID, nil
}

// StartTriggerRun starts a run through a project trigger
func (c *Client) StartTriggerRun(ctx context.Context, req ports.StartTriggerRunRequest) (string, error) {
	body := triggerBody{
		SpaceID:   req.SpaceID,
		ProjectID: req.ProjectID,
		TriggerID: req.TriggerID,
	}

	var data startData
	if err := c.do(ctx, "start_trigger_run", http.MethodPost, c.triggerPath, nil, body, &data); err != nil {
		return "", fmt.Errorf("failed to start trigger run: %w", err)
	}
	return data.ExecuteID, nil
}

// GetProcess fetches the status of an execution
func (c *Client) GetProcess(ctx context.Context, req ports.GetProcessRequest) (*domain.RunResult, error) {
	query := url.Values{}
	query.Set("workflow_id", req.WorkflowID)
	query.Set("space_id", req.SpaceID)
	query.Set("execute_id", req.ExecuteID)
	if req.SubExecuteID != "" {
		query.Set("sub_execute_id", req.SubExecuteID)
	}

	result := &domain.RunResult{}
	if err := c.do(ctx, "get_process", http.MethodGet, PathGetProcess, query, nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// CancelRun asks the backend to stop an execution
func (c *Client) CancelRun(ctx context.Context, req ports.CancelRunRequest) error {
	body := cancelBody{
		ExecuteID:  req.ExecuteID,
		WorkflowID: req.WorkflowID,
		SpaceID:    req.SpaceID,
	}
	if err := c.do(ctx, "cancel_run", http.MethodPost, PathCancel, nil, body, nil); err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	return nil
}

// Canvas fetches the canvas info of a workflow as raw JSON
func (c *Client) Canvas(ctx context.Context, workflowID, spaceID string) (json.RawMessage, error) {
	body := map[string]string{
		"workflow_id": workflowID,
		"space_id":    spaceID,
	}

	var data json.RawMessage
	if err := c.do(ctx, "canvas", http.MethodPost, PathCanvas, nil, body, &data); err != nil {
		return nil, fmt.Errorf("failed to get canvas: %w", err)
	}
	return data, nil
}

type envelope struct {
	Code int64           `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do sends one request and decodes the data field of the response envelope into out
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	ctx, span := telemetry.StartSpan(ctx, c.tracer, "backend "+op,
		attribute.String(telemetry.HTTPMethodKey, method),
		attribute.String(telemetry.HTTPPathKey, path),
	)
	defer span.End()

	err := c.send(ctx, method, path, query, body, out)
	if err != nil {
		telemetry.SetError(span, err)
		c.logger.Debug("backend call failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err))
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Path: path, Status: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Code != 0 || resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Path: path, Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ ports.RunClient = (*Client)(nil)
