// Package service orchestrates the authentication protocols against the
// identity provider. Services return token pairs; persisting them as cookies
// stays at the transport boundary.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/proofmarked/stepup-gateway/internal/audit"
	"github.com/proofmarked/stepup-gateway/internal/domain"
	"github.com/proofmarked/stepup-gateway/internal/idp"
)

// MinPasswordLength is the weakest password the gateway will forward to the
// provider.
const MinPasswordLength = 8

// LoginOutcome classifies the result of a successful password check.
type LoginOutcome int

const (
	// LoginAuthenticated means no step-up is required; cookies may be
	// persisted and the user proceeds to the protected area.
	LoginAuthenticated LoginOutcome = iota
	// LoginEnrollRequired means step-up is required but the user holds no
	// verified factor; cookies are persisted and the user is sent to
	// enrollment.
	LoginEnrollRequired
	// LoginStepUpRequired means a verified factor exists and a challenge was
	// issued; the pair travels in the step-up payload, not in cookies.
	LoginStepUpRequired
)

// LoginInput carries the credentials presented to the login protocol.
type LoginInput struct {
	Email    string
	Password string
	ClientIP string
}

// StepUpRequired is the step-up branch payload: the challenge to redeem and
// the provisional pair the client carries until verification succeeds.
type StepUpRequired struct {
	FactorID    string
	FactorLabel string
	ChallengeID string
	TempTokens  domain.TokenPair
}

// LoginResult is the single-pass outcome of the login protocol.
type LoginResult struct {
	Outcome   LoginOutcome
	TokenPair domain.TokenPair
	Session   domain.Session
	StepUp    *StepUpRequired
}

// LoginService runs the two-factor login protocol.
type LoginService struct {
	api      idp.API
	factory  *idp.Factory
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewLoginService wires the login protocol.
func NewLoginService(api idp.API, factory *idp.Factory, recorder audit.Recorder, logger *zap.Logger) *LoginService {
	if logger == nil {
		logger = zap.L()
	}
	return &LoginService{api: api, factory: factory, recorder: recorder, logger: logger}
}

// Login validates the credential shape, authenticates against the provider,
// and classifies the assurance requirement of the fresh session.
func (s *LoginService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, MinPasswordLength)
	}

	pair, err := s.api.SignIn(ctx, email, in.Password)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRejected) {
			s.recorder.Record(ctx, audit.Event{Kind: audit.KindLoginRejected, Email: email, ClientIP: in.ClientIP})
		}
		return nil, err
	}

	client, err := s.factory.FromTokenPair(ctx, pair)
	if err != nil {
		// The pair was minted moments ago; a refusal now is not a credential
		// problem.
		if errors.Is(err, domain.ErrAuthRejected) {
			return nil, fmt.Errorf("%w: fresh session rejected", domain.ErrTransientAuth)
		}
		return nil, err
	}

	sess := client.Session()
	result := &LoginResult{Session: sess, TokenPair: client.TokenPair()}

	if !sess.NeedsStepUp() {
		result.Outcome = LoginAuthenticated
		s.recorder.Record(ctx, audit.Event{Kind: audit.KindLoginSucceeded, UserID: sess.UserID, Email: sess.Email, ClientIP: in.ClientIP})
		return result, nil
	}

	factor, ok := domain.VerifiedTOTP(client.Factors())
	if !ok {
		result.Outcome = LoginEnrollRequired
		s.recorder.Record(ctx, audit.Event{Kind: audit.KindLoginSucceeded, UserID: sess.UserID, Email: sess.Email, ClientIP: in.ClientIP, Detail: "enrollment required"})
		return result, nil
	}

	challenge, err := client.Challenge(ctx, factor.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: start challenge: %v", domain.ErrTransientAuth, err)
	}

	label := factor.Label
	if label == "" {
		label = "Authenticator app"
	}
	result.Outcome = LoginStepUpRequired
	result.StepUp = &StepUpRequired{
		FactorID:    factor.ID,
		FactorLabel: label,
		ChallengeID: challenge.ID,
		TempTokens:  client.TokenPair(),
	}
	s.recorder.Record(ctx, audit.Event{Kind: audit.KindStepUpChallenged, UserID: sess.UserID, Email: sess.Email, ClientIP: in.ClientIP})
	return result, nil
}

// NormalizeEmail lowercases and shape-checks an email address without
// contacting the provider.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: email is not valid", domain.ErrValidation)
	}
	return email, nil
}
