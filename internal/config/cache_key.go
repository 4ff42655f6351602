package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session (JTI).
func (r *CacheKeyStruct) StudentSessionKey(studentKey string) string {
	return fmt.Sprintf("login:%s", studentKey)
}

// SessionAnswersKey returns the cache key for a session's saved answers hash.
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// SessionStartKey returns the cache key for a session's start time (unix seconds).
func (r *CacheKeyStruct) SessionStartKey(sessionID string) string {
	return fmt.Sprintf("session:%s:start", sessionID)
}

// SessionEventsChannel returns the Redis Pub/Sub channel carrying change
// notifications for one assessment session.
func (r *CacheKeyStruct) SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

var CacheKey = NewCacheKeyStruct()
