// Package audit keeps an append-only trail of authentication outcomes.
// Recording is best-effort: a failed write is logged and swallowed, it never
// blocks or fails the operation being recorded.
package audit

import (
	"context"
	"time"
)

// Event kinds recorded by the gateway.
const (
	KindLoginSucceeded   = "login_succeeded"
	KindLoginRejected    = "login_rejected"
	KindStepUpChallenged = "stepup_challenged"
	KindStepUpVerified   = "stepup_verified"
	KindStepUpFailed     = "stepup_failed"
	KindFactorEnrolled   = "factor_enrolled"
	KindFactorUnenrolled = "factor_unenrolled"
	KindEnrollCompleted  = "enrollment_completed"
	KindPasswordSet      = "password_set"
	KindInviteSent       = "invite_sent"
	KindLogout           = "logout"
)

// Event is one authentication outcome.
type Event struct {
	ID       int64
	Kind     string
	UserID   string
	Email    string
	ClientIP string
	Detail   string
	At       time.Time
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// NopRecorder discards every event. Used when no database is configured.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Event) {}
