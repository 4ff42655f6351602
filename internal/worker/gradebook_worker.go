package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/config"
	"github.com/classworks/assess-backend/internal/gradebook"
)

// GradebookWorker consumes gradebook_sync_queue and posts scores to the
// external gradebook. A gradebook outage never fails the save or submit that
// produced the score; items are requeued and retried here instead.
type GradebookWorker struct {
	rdb    *redis.Client
	client gradebook.Client
	log    zerolog.Logger
}

// NewGradebookWorker creates a new GradebookWorker.
func NewGradebookWorker(rdb *redis.Client, client gradebook.Client, log zerolog.Logger) *GradebookWorker {
	return &GradebookWorker{
		rdb:    rdb,
		client: client,
		log:    log.With().Str("component", "gradebook_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *GradebookWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *GradebookWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.GradebookSyncQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var score gradebook.Score
	if err := json.Unmarshal([]byte(result[1]), &score); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.client.PostScore(ctx, score); err != nil {
		w.log.Error().Err(err).
			Str("student_key", score.StudentKey).
			Str("item_id", score.ItemID).
			Msg("Gradebook push failed, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.GradebookSyncQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

// drain posts all remaining queued scores before shutdown.
func (w *GradebookWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.GradebookSyncQueue).Result()
		if err != nil {
			break
		}

		var score gradebook.Score
		if err := json.Unmarshal([]byte(result), &score); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.client.PostScore(ctx, score); err != nil {
			w.log.Error().Err(err).Msg("Drain push error")
			w.rdb.RPush(ctx, config.WorkerKey.GradebookSyncQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
