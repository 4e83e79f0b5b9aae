package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

const keyPrefix = "testrun:snapshot:"

// SnapshotStorage implements SnapshotStorage using Redis
type SnapshotStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSnapshotStorage creates a new Redis snapshot storage. A zero ttl
// keeps snapshots until they are deleted.
func NewSnapshotStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists the snapshot of an execution and refreshes its TTL
func (s *SnapshotStorage) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.Handle.ExecuteID == "" {
		return fmt.Errorf("snapshot has no execute id")
	}
	key := getSnapshotKey(snap.Handle.ExecuteID)

	// Serialize snapshot
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Save to Redis with TTL
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("execute_id", snap.Handle.ExecuteID),
		zap.String("workflow_id", snap.WorkflowID),
		zap.String("state", string(snap.State)))

	return nil
}

// Get retrieves the snapshot of an execution
func (s *SnapshotStorage) Get(ctx context.Context, executeID string) (*domain.Snapshot, error) {
	key := getSnapshotKey(executeID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ports.ErrSnapshotNotFound, executeID)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	// Deserialize snapshot
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// Delete removes the snapshot of an execution
func (s *SnapshotStorage) Delete(ctx context.Context, executeID string) error {
	key := getSnapshotKey(executeID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	s.logger.Debug("snapshot deleted",
		zap.String("execute_id", executeID))

	return nil
}

// List returns all execute IDs that have a stored snapshot
func (s *SnapshotStorage) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	// Extract execute IDs from keys
	executeIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		if id := strings.TrimPrefix(key, keyPrefix); id != "" && id != key {
			executeIDs = append(executeIDs, id)
		}
	}

	return executeIDs, nil
}

// getSnapshotKey returns the Redis key for an execution snapshot
func getSnapshotKey(executeID string) string {
	return keyPrefix + executeID
}

var _ ports.SnapshotStorage = (*SnapshotStorage)(nil)
