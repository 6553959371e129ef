package model

import "time"

// ExamAppLaunchSession is one live connection of the exam-taking app to an attempt.
type ExamAppLaunchSession struct {
	ID            int64      `json:"id"`
	StudentID     int64      `json:"student_id"`
	Attempt       AttemptRef `json:"-"`
	TokenHash     string     `json:"-"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
}

// HashedToken implements token.Record.
func (s *ExamAppLaunchSession) HashedToken() string { return s.TokenHash }

// Live reports whether the session still authenticates requests at now.
func (s *ExamAppLaunchSession) Live(now time.Time) bool {
	return s.InvalidatedAt == nil && now.Before(s.ExpiresAt)
}

// StartRequest is the payload for POST /api/exam-app/start.
type StartRequest struct {
	AuthorizationToken string `json:"authorizationToken" binding:"required,min=16,max=128"`
}

// StartResult is returned by a successful start.
type StartResult struct {
	AttemptID    int64     `json:"attemptId"`
	Kind         ExamKind  `json:"kind"`
	LaunchToken  string    `json:"launchToken"`
	ExpiresAtUTC time.Time `json:"expiresAtUtc"`
	Resumed      bool      `json:"resumed"`
}
