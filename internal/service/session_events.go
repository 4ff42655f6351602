package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/config"
)

// SessionEventType enumerates Session Store change notifications.
type SessionEventType string

const (
	EventSessionCreated SessionEventType = "session_created"
	EventAnswerSaved    SessionEventType = "answer_saved"
	EventSessionSubmit  SessionEventType = "session_completed"
	EventSessionExited  SessionEventType = "session_exited"
)

// SessionEvent is one change notification for an assessment session.
// Observers (other tabs, monitors) receive these over the session's
// Pub/Sub channel instead of polling the store.
type SessionEvent struct {
	SessionID  uuid.UUID        `json:"session_id"`
	StudentKey string           `json:"student_key"`
	Type       SessionEventType `json:"type"`
	QuestionID string           `json:"question_id,omitempty"`
	At         time.Time        `json:"at"`
}

// EventPublisher pushes Session Store change events to observers.
type EventPublisher interface {
	Publish(ctx context.Context, event SessionEvent)
}

// RedisEventPublisher publishes events on the session's Redis Pub/Sub channel.
type RedisEventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisEventPublisher creates a RedisEventPublisher.
func NewRedisEventPublisher(rdb *redis.Client, log zerolog.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{
		rdb: rdb,
		log: log.With().Str("component", "session_events").Logger(),
	}
}

// Publish sends one event. Publication is best-effort: a failed publish is
// logged and never fails the store write that produced it.
func (p *RedisEventPublisher) Publish(ctx context.Context, event SessionEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Msg("Encode event failed")
		return
	}

	channel := config.CacheKey.SessionEventsChannel(event.SessionID.String())
	if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("Publish failed")
	}
}
