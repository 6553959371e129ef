package model

import "time"

// ConsumeReason records why an authorization stopped being usable.
type ConsumeReason string

const (
	ConsumeReasonStarted    ConsumeReason = "STARTED"
	ConsumeReasonSuperseded ConsumeReason = "SUPERSEDED"
	// ConsumeReasonExpired closes a row that expired unused, stamped at its expiry.
	ConsumeReasonExpired ConsumeReason = "EXPIRED"
)

// ExamAppAuthorization is one issued authorization token. Only the token's
// hash is ever held; the plaintext is returned to the student once.
type ExamAppAuthorization struct {
	ID             int64          `json:"id"`
	StudentID      int64          `json:"student_id"`
	Code           CodeRef        `json:"-"`
	TokenHash      string         `json:"-"`
	IssuedAt       time.Time      `json:"issued_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	ConsumedAt     *time.Time     `json:"consumed_at,omitempty"`
	ConsumedReason *ConsumeReason `json:"consumed_reason,omitempty"`
}

// HashedToken implements token.Record.
func (a *ExamAppAuthorization) HashedToken() string { return a.TokenHash }

// Live reports whether the authorization can still be exchanged at now.
func (a *ExamAppAuthorization) Live(now time.Time) bool {
	return a.ConsumedAt == nil && now.Before(a.ExpiresAt)
}

// AuthorizeRequest is the payload for POST /api/exam-app/authorize.
type AuthorizeRequest struct {
	Code            string `json:"code" binding:"required,examcode"`
	TeacherPassword string `json:"teacherPassword" binding:"omitempty,max=128"`
}

// AuthorizeResult is returned once per issued authorization.
type AuthorizeResult struct {
	AuthorizationToken string    `json:"authorizationToken"`
	ExpiresAtUTC       time.Time `json:"expiresAtUtc"`
	Exam               ExamInfo  `json:"exam"`
}
