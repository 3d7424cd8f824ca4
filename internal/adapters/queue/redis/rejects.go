package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/ports"
)

const (
	rejectsKey     = "tally:rejects"
	defaultMaxKept = 1000
)

// RejectStore keeps the most recent rejected batch items in a sorted set scored by
// rejection time.
type RejectStore struct {
	client  *redis.Client
	maxKept int64
}

var _ ports.RejectStore = (*RejectStore)(nil)

func NewRejectStore(client *redis.Client) *RejectStore {
	return &RejectStore{client: client, maxKept: defaultMaxKept}
}

func (s *RejectStore) AddReject(ctx context.Context, rec domain.RejectedRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal rejected record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, rejectsKey, redis.Z{
		Score:  float64(rec.RejectedAt.UnixNano()),
		Member: data,
	})
	// Trim everything but the newest maxKept entries.
	pipe.ZRemRangeByRank(ctx, rejectsKey, 0, -s.maxKept-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store rejected record: %w", err)
	}
	return nil
}

// ListRejects returns up to limit records, newest first.
func (s *RejectStore) ListRejects(ctx context.Context, limit int64) ([]*domain.RejectedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := s.client.ZRevRange(ctx, rejectsKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rejected records: %w", err)
	}

	out := make([]*domain.RejectedRecord, 0, len(members))
	for _, m := range members {
		var rec domain.RejectedRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *RejectStore) Count(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, rejectsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count rejected records: %w", err)
	}
	return count, nil
}
