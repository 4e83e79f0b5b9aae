package sessions

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

// HealthMonitor periodically records session state counts
type HealthMonitor struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// HealthStatus represents the health of the session registry
type HealthStatus struct {
	TotalSessions int                     `json:"total_sessions"`
	MaxSessions   int                     `json:"max_sessions"`
	ByState       map[domain.RunState]int `json:"by_state"`
	Healthy       bool                    `json:"healthy"`
	Timestamp     time.Time               `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(registry *Registry, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	go h.run(h.stopCh, h.doneCh)
}

// Stop stops the health monitor and waits for the loop to exit
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stopCh, doneCh := h.stopCh, h.doneCh
	h.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// run is the main health monitoring loop
func (h *HealthMonitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.checkHealth()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth records session status and logs it
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Debug("session registry health check",
		zap.Int("total", status.TotalSessions),
		zap.Int("executing", status.ByState[domain.RunStateExecuting]),
		zap.Int("paused", status.ByState[domain.RunStatePaused]),
		zap.Bool("healthy", status.Healthy))

	// Record metrics
	if m := h.registry.cfg.Metrics; m != nil {
		m.SetSessionCount(status.TotalSessions)
		m.RecordSessionStates(status.ByState)
	}

	if !status.Healthy {
		h.logger.Warn("session limit reached - new workflows will be refused",
			zap.Int("total", status.TotalSessions),
			zap.Int("max", status.MaxSessions))
	}

	if fn := h.registry.cfg.OnHealth; fn != nil {
		fn(status)
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	r := h.registry

	r.mu.RLock()
	closed := r.closed
	byState := make(map[domain.RunState]int)
	for _, s := range r.sessions {
		byState[s.manager.State()]++
	}
	total := len(r.sessions)
	r.mu.RUnlock()

	limit := r.cfg.MaxSessions
	healthy := !closed && (limit <= 0 || total < limit)

	return &HealthStatus{
		TotalSessions: total,
		MaxSessions:   limit,
		ByState:       byState,
		Healthy:       healthy,
		Timestamp:     time.Now(),
	}
}

// IsHealthy returns true if the registry accepts new sessions
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
