package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// DefaultPollInterval is the pause between two status fetches
const DefaultPollInterval = 300 * time.Millisecond

// ResultFunc receives every normalized poll result, in fetch order
type ResultFunc func(ctx context.Context, result *domain.RunResult)

// Poller fetches execution status until the backend reports a terminal
// status. Tick n+1 is only issued after tick n has been applied.
type Poller struct {
	client   ports.RunClient
	gate     *Gate
	interval time.Duration
	onResult ResultFunc
	logger   *zap.Logger
}

// NewPoller creates a poller; onResult may be nil
func NewPoller(client ports.RunClient, gate *Gate, interval time.Duration, onResult ResultFunc, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client:   client,
		gate:     gate,
		interval: interval,
		onResult: onResult,
		logger:   logger,
	}
}

// Poll runs the loop for req.ExecuteID and returns the terminal status.
// Fetch errors are returned as-is; the loop never retries.
func (p *Poller) Poll(ctx context.Context, req ports.GetProcessRequest) (domain.ExecuteStatus, error) {
	for {
		result, err := p.Fetch(ctx, req)
		if err != nil {
			return domain.ExecuteStatusUnset, err
		}
		p.apply(ctx, result)

		// Running and the bare 0 some backends send both mean "keep going"
		if result.ExecuteStatus.IsTerminal() {
			return result.ExecuteStatus, nil
		}

		if err := p.Wait(ctx); err != nil {
			return domain.ExecuteStatusUnset, err
		}
	}
}

// Fetch performs one status call and normalizes the result
func (p *Poller) Fetch(ctx context.Context, req ports.GetProcessRequest) (*domain.RunResult, error) {
	result, err := p.client.GetProcess(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get process %s: %w", req.ExecuteID, err)
	}
	if result == nil {
		result = &domain.RunResult{}
	}

	if err := NormalizeRunResult(result); err != nil {
		p.logger.Warn("failed to normalize batch payload",
			zap.String("execute_id", req.ExecuteID),
			zap.Error(err))
	}

	p.logger.Debug("process fetched",
		zap.String("execute_id", req.ExecuteID),
		zap.Stringer("status", result.ExecuteStatus),
		zap.Int("node_results", len(result.NodeResults)))

	return result, nil
}

// Wait sleeps one interval and then blocks while the run is paused, so
// the next fetch never starts in the Paused state.
func (p *Poller) Wait(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	return p.gate.WaitIfPaused(ctx)
}

func (p *Poller) apply(ctx context.Context, result *domain.RunResult) {
	if p.onResult != nil {
		p.onResult(ctx, result)
	}
}
