package domain

import "errors"

var (
	// ErrValidation indicates malformed caller input that never reached the IdP.
	ErrValidation = errors.New("auth: invalid input")
	// ErrAuthRejected indicates the IdP declined the presented credentials or tokens.
	ErrAuthRejected = errors.New("auth: rejected by identity provider")
	// ErrVerificationFailed indicates a wrong, expired, or already-redeemed one-time code.
	ErrVerificationFailed = errors.New("auth: verification failed")
	// ErrNotAuthenticated indicates no usable token pair was presented.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	// ErrTransientAuth indicates the IdP was unreachable or failed unexpectedly.
	ErrTransientAuth = errors.New("auth: transient identity provider failure")
	// ErrInvalidSession indicates a token pair with a missing field was offered
	// for persistence.
	ErrInvalidSession = errors.New("auth: session is missing auth tokens")
	// ErrFactorVerified indicates enrollment was requested while a verified
	// factor already exists.
	ErrFactorVerified = errors.New("auth: a verified factor already exists")
)
