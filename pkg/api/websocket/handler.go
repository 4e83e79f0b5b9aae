package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotFunc returns the current snapshot of a workflow session
type SnapshotFunc func(workflowID string) (domain.Snapshot, bool)

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	topic    string
	snapshot SnapshotFunc
	buffer   int
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler streaming topic. snapshot may
// be nil; when set, every connection starts with the current snapshot.
func NewHandler(eventBus ports.EventBus, topic string, snapshot SnapshotFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		topic:    topic,
		snapshot: snapshot,
		buffer:   64,
		logger:   logger,
	}
}

// message is one frame sent to the client
type message struct {
	Kind     string           `json:"kind"`
	Event    *domain.Event    `json:"event,omitempty"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
}

// HandleSessionStream streams the events of one workflow session. The
// optional "types" query parameter is a comma separated event type filter.
func (h *Handler) HandleSessionStream(c *gin.Context) {
	workflowID := c.Param("id")
	types := parseTypes(c.Query("types"))

	// Upgrade connection
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("workflow_id", workflowID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before the snapshot so nothing falls between the two
	eventChan := make(chan domain.Event, h.buffer)
	if err := h.eventBus.Subscribe(ctx, h.topic, h.forward(workflowID, types, eventChan)); err != nil {
		h.logger.Error("failed to subscribe to events",
			zap.String("topic", h.topic),
			zap.Error(err))
		return
	}

	go h.readPump(conn, cancel)

	if h.snapshot != nil {
		if snap, ok := h.snapshot(workflowID); ok {
			if err := h.write(conn, message{Kind: "snapshot", Snapshot: &snap}); err != nil {
				return
			}
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// Send events to client
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-eventChan:
			ev := event
			if err := h.write(conn, message{Kind: "event", Event: &ev}); err != nil {
				return
			}
		}
	}
}

// forward filters events for one connection. It never blocks, since the
// in-memory bus delivers on the publishing goroutine.
func (h *Handler) forward(workflowID string, types map[domain.EventType]bool, ch chan<- domain.Event) ports.EventHandler {
	return func(ctx context.Context, event domain.Event) error {
		// Only send events for this workflow
		if event.WorkflowID != workflowID {
			return nil
		}
		if len(types) > 0 && !types[event.Type] {
			return nil
		}

		select {
		case ch <- event:
		default:
			// Channel full, skip event
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}

// readPump consumes control frames and ends the stream when the client goes away
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return nil
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Error("failed to write message", zap.Error(err))
		return err
	}
	return nil
}

func parseTypes(raw string) map[domain.EventType]bool {
	if raw == "" {
		return nil
	}
	types := make(map[domain.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[domain.EventType(t)] = true
		}
	}
	return types
}
