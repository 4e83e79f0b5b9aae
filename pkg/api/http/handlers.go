package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/internal/application/orchestrator"
	"github.com/aescanero/dago-testrun/internal/application/sessions"
	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// OpenSessionRequest opens or updates a workflow session
type OpenSessionRequest struct {
	SpaceID   string        `json:"space_id"`
	ProjectID string        `json:"project_id"`
	Graph     *domain.Graph `json:"graph"`
}

// TestRunRequest starts a full-graph run
type TestRunRequest struct {
	Input      map[string]string `json:"input"`
	BotID      string            `json:"bot_id"`
	UseProject bool              `json:"use_project"`
}

// NodeRunRequest starts a single-node run
type NodeRunRequest struct {
	Input      map[string]string `json:"input"`
	Batch      map[string]string `json:"batch"`
	Setting    map[string]string `json:"setting"`
	BotID      string            `json:"bot_id"`
	UseProject bool              `json:"use_project"`
}

// AttachRequest follows an execution started elsewhere
type AttachRequest struct {
	ExecuteID string `json:"execute_id" binding:"required"`
}

// DocumentRequest updates the document guard flags
type DocumentRequest struct {
	Saving         *bool `json:"saving"`
	ViewingHistory *bool `json:"viewing_history"`
}

// RunResponse is returned by every launch endpoint
type RunResponse struct {
	WorkflowID string          `json:"workflow_id"`
	ExecuteID  string          `json:"execute_id,omitempty"`
	State      domain.RunState `json:"state"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// documentControl is implemented by documents whose flags can be driven
// over the API
type documentControl interface {
	SetSaving(saving bool)
	SetViewingHistory(history bool)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := s.registry.Health()

	code := http.StatusOK
	state := "healthy"
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(code, gin.H{
		"status":    state,
		"timestamp": status.Timestamp,
		"checks": gin.H{
			"sessions": status,
		},
	})
}

// handleListSessions handles listing open sessions
func (s *Server) handleListSessions(c *gin.Context) {
	list := s.registry.List()

	infos := make([]sessions.Info, 0, len(list))
	for _, sess := range list {
		infos = append(infos, sess.Info())
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"total":    len(infos),
	})
}

// handleOpenSession opens a session, or replaces the graph of an open one
func (s *Server) handleOpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	sess, err := s.registry.Open(sessions.OpenRequest{
		WorkflowID: c.Param("id"),
		SpaceID:    req.SpaceID,
		ProjectID:  req.ProjectID,
		Graph:      req.Graph,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sess.Info())
}

// handleGetSession returns the snapshot of a session
func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, sess.Manager().Snapshot())
}

// handleCloseSession disposes a session
func (s *Server) handleCloseSession(c *gin.Context) {
	workflowID := c.Param("id")

	if err := s.registry.Close(workflowID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workflow_id": workflowID,
		"status":      "closed",
	})
}

// handleSetGraph replaces the graph used for validation and edge state
func (s *Server) handleSetGraph(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	var g domain.Graph
	if err := c.ShouldBindJSON(&g); err != nil {
		s.badRequest(c, err)
		return
	}
	sess.Manager().SetGraph(&g)

	c.JSON(http.StatusOK, gin.H{
		"workflow_id": sess.WorkflowID(),
		"nodes":       len(g.Nodes),
		"edges":       len(g.Edges),
	})
}

// handleSetDocument updates the saving and history-view flags
func (s *Server) handleSetDocument(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	doc, ok := sess.Document().(documentControl)
	if !ok {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error: ErrorDetail{
				Code:    "DOCUMENT_NOT_AVAILABLE",
				Message: "session has no controllable document",
			},
		})
		return
	}

	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Saving != nil {
		doc.SetSaving(*req.Saving)
	}
	if req.ViewingHistory != nil {
		doc.SetViewingHistory(*req.ViewingHistory)
	}

	c.JSON(http.StatusOK, gin.H{
		"saving":          sess.Document().Saving(),
		"viewing_history": sess.Document().ViewingHistory(),
	})
}

// handleTestRun starts a full-graph run
func (s *Server) handleTestRun(c *gin.Context) {
	var req TestRunRequest
	if !s.bindOptional(c, &req) {
		return
	}

	in := orchestrator.TestRunInput{
		Input:      req.Input,
		BotID:      req.BotID,
		UseProject: req.UseProject,
	}
	s.launch(c, domain.TestRunTypeFlow, func(ctx context.Context, m *orchestrator.Manager) error {
		return m.TestRun(ctx, in)
	})
}

// handleTestRunNode starts a single-node run
func (s *Server) handleTestRunNode(c *gin.Context) {
	var req NodeRunRequest
	if !s.bindOptional(c, &req) {
		return
	}

	in := orchestrator.NodeRunInput{
		NodeID:     c.Param("node_id"),
		Input:      req.Input,
		Batch:      req.Batch,
		Setting:    req.Setting,
		BotID:      req.BotID,
		UseProject: req.UseProject,
	}
	s.launch(c, domain.TestRunTypeNode, func(ctx context.Context, m *orchestrator.Manager) error {
		return m.TestRunOneNode(ctx, in)
	})
}

// handleTestRunTrigger starts a run through a project trigger
func (s *Server) handleTestRunTrigger(c *gin.Context) {
	triggerID := c.Param("trigger_id")
	s.launch(c, domain.TestRunTypeTrigger, func(ctx context.Context, m *orchestrator.Manager) error {
		return m.TestRunTrigger(ctx, triggerID)
	})
}

// handleAttach follows an execution started elsewhere
func (s *Server) handleAttach(c *gin.Context) {
	var req AttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	s.launch(c, domain.TestRunTypeFlow, func(ctx context.Context, m *orchestrator.Manager) error {
		return m.Attach(ctx, req.ExecuteID)
	})
}

// handleGetProcess loads one execution result
func (s *Server) handleGetProcess(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	show, _ := strconv.ParseBool(c.DefaultQuery("show_node_results", "false"))
	result, err := sess.Manager().LoadProcessResult(c.Request.Context(), orchestrator.ProcessQuery{
		ExecuteID:       c.Query("execute_id"),
		SubExecuteID:    c.Query("sub_execute_id"),
		ShowNodeResults: show,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handlePause suspends polling of the current run
func (s *Server) handlePause(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	if !sess.Manager().Pause() {
		s.conflict(c, "NOT_EXECUTING", "no executing run to pause", sess)
		return
	}
	c.JSON(http.StatusOK, s.runResponse(sess))
}

// handleResume continues a paused run
func (s *Server) handleResume(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	if !sess.Manager().Resume() {
		s.conflict(c, "NOT_PAUSED", "no paused run to resume", sess)
		return
	}
	c.JSON(http.StatusOK, s.runResponse(sess))
}

// handleCancel cancels the current execution on the backend
func (s *Server) handleCancel(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	if err := sess.Manager().Cancel(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, s.runResponse(sess))
}

// handleClear stops the local poll loop and empties the results
func (s *Server) handleClear(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	sess.Manager().Clear()
	c.JSON(http.StatusOK, s.runResponse(sess))
}

// handleListSnapshots lists stored execution snapshots
func (s *Server) handleListSnapshots(c *gin.Context) {
	if !s.requireStorage(c) {
		return
	}

	ids, err := s.storage.List(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list snapshots", zap.Error(err))
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execute_ids": ids,
		"total":       len(ids),
	})
}

// handleGetSnapshot returns the stored snapshot of an execution
func (s *Server) handleGetSnapshot(c *gin.Context) {
	if !s.requireStorage(c) {
		return
	}

	snap, err := s.storage.Get(c.Request.Context(), c.Param("execute_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// handleDeleteSnapshot removes the stored snapshot of an execution
func (s *Server) handleDeleteSnapshot(c *gin.Context) {
	if !s.requireStorage(c) {
		return
	}

	executeID := c.Param("execute_id")
	if err := s.storage.Delete(c.Request.Context(), executeID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execute_id": executeID,
		"status":     "deleted",
	})
}

// launch runs fn in the session's background and answers once the run is
// executing (202) or has already ended (200 with the snapshot)
func (s *Server) launch(c *gin.Context, scene domain.TestRunType, fn sessions.RunFunc) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.startTimeout)
	defer cancel()

	started, err := sess.Launch(ctx, scene, fn)
	switch {
	case started, errors.Is(err, context.DeadlineExceeded):
		// Progress arrives on the event stream
		c.JSON(http.StatusAccepted, s.runResponse(sess))
	case errors.Is(err, orchestrator.ErrRun), errors.Is(err, orchestrator.ErrSystem):
		c.JSON(http.StatusOK, gin.H{
			"snapshot": sess.Manager().Snapshot(),
			"error":    err.Error(),
		})
	case err != nil:
		s.writeError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{
			"snapshot": sess.Manager().Snapshot(),
		})
	}
}

func (s *Server) session(c *gin.Context) (*sessions.Session, bool) {
	sess, err := s.registry.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) runResponse(sess *sessions.Session) RunResponse {
	return RunResponse{
		WorkflowID: sess.WorkflowID(),
		ExecuteID:  sess.Manager().Handle().ExecuteID,
		State:      sess.Manager().State(),
	}
}

// bindOptional binds a JSON body if one was sent
func (s *Server) bindOptional(c *gin.Context, out interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		s.badRequest(c, err)
		return false
	}
	return true
}

func (s *Server) requireStorage(c *gin.Context) bool {
	if s.storage != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: ErrorDetail{
			Code:    "STORAGE_NOT_AVAILABLE",
			Message: "Snapshot storage is not configured",
		},
	})
	return false
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.logger.Error("invalid request", zap.Error(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

func (s *Server) conflict(c *gin.Context, code, msg string, sess *sessions.Session) {
	c.JSON(http.StatusConflict, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: msg,
			Details: s.runResponse(sess),
		},
	})
}

// writeError maps error kinds to HTTP statuses
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, orchestrator.ErrNodeNotFound):
		return http.StatusNotFound, "NODE_NOT_FOUND"
	case errors.Is(err, ports.ErrSnapshotNotFound):
		return http.StatusNotFound, "SNAPSHOT_NOT_FOUND"
	case errors.Is(err, sessions.ErrMissingWorkflow):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, orchestrator.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, orchestrator.ErrRunActive):
		return http.StatusConflict, "RUN_ACTIVE"
	case errors.Is(err, orchestrator.ErrDocumentSaving):
		return http.StatusConflict, "DOCUMENT_SAVING"
	case errors.Is(err, orchestrator.ErrNoExecuteID):
		return http.StatusConflict, "NO_EXECUTION"
	case errors.Is(err, orchestrator.ErrManagerDisposed):
		return http.StatusGone, "SESSION_CLOSED"
	case errors.Is(err, orchestrator.ErrNoProject):
		return http.StatusPreconditionFailed, "NO_PROJECT"
	case errors.Is(err, sessions.ErrTooManySessions):
		return http.StatusTooManyRequests, "TOO_MANY_SESSIONS"
	case errors.Is(err, sessions.ErrRegistryClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	case errors.Is(err, orchestrator.ErrTrigger), errors.Is(err, orchestrator.ErrSystem):
		return http.StatusBadGateway, "BACKEND_ERROR"
	case errors.Is(err, context.Canceled):
		return 499, "CLIENT_CLOSED_REQUEST"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
