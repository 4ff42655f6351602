package gradebook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/classworks/assess-backend/internal/config"
)

// Sink accepts scores for asynchronous delivery to the gradebook.
type Sink interface {
	Enqueue(ctx context.Context, score Score) error
}

// Queue pushes scores onto the Redis gradebook_sync_queue consumed by the
// gradebook worker. Enqueue is cheap and never blocks on the gradebook itself.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates a Queue.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue appends one score to the sync queue.
func (q *Queue) Enqueue(ctx context.Context, score Score) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.GradebookSyncQueue, raw).Err()
}
