package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int64) string {
	return fmt.Sprintf("login:%d", studentID)
}

// AttemptAnswersKey returns the cache key for an attempt's saved answers
func (r *CacheKeyStruct) AttemptAnswersKey(kind string, attemptID int64) string {
	return fmt.Sprintf("attempt:%s:%d:answers", kind, attemptID)
}

// AttemptSessionChannel returns the Redis PubSub channel announcing launch session changes
func (r *CacheKeyStruct) AttemptSessionChannel(kind string, attemptID int64) string {
	return fmt.Sprintf("attempt:%s:%d:sessions", kind, attemptID)
}

var CacheKey = NewCacheKeyStruct()
