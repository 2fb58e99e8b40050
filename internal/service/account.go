package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/proofmarked/stepup-gateway/internal/audit"
	"github.com/proofmarked/stepup-gateway/internal/domain"
	"github.com/proofmarked/stepup-gateway/internal/idp"
)

// AccountService covers the invitation and first-password flows around the
// core protocols.
type AccountService struct {
	api      idp.API
	factory  *idp.Factory
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewAccountService wires the account flows.
func NewAccountService(api idp.API, factory *idp.Factory, recorder audit.Recorder, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.L()
	}
	return &AccountService{api: api, factory: factory, recorder: recorder, logger: logger}
}

// Invite sends an invitation email through the provider's admin surface.
func (s *AccountService) Invite(ctx context.Context, email, redirectTo string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.api.InviteUser(ctx, normalized, redirectTo); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Event{Kind: audit.KindInviteSent, Email: normalized})
	return nil
}

// SetPassword sets the first password for an invited user who arrived with a
// recovery token pair, then refreshes the session so the persisted cookies
// reflect the new credential state.
func (s *AccountService) SetPassword(ctx context.Context, pair domain.TokenPair, password string) (domain.TokenPair, error) {
	if len(password) < MinPasswordLength {
		return domain.TokenPair{}, fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, MinPasswordLength)
	}

	client, err := s.factory.FromTokenPair(ctx, pair)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRejected) || errors.Is(err, domain.ErrNotAuthenticated) {
			return domain.TokenPair{}, fmt.Errorf("%w: invitation link expired", domain.ErrNotAuthenticated)
		}
		return domain.TokenPair{}, err
	}
	sess := client.Session()

	if err := client.UpdatePassword(ctx, password); err != nil {
		return domain.TokenPair{}, err
	}

	rotated, err := client.RefreshSession(ctx)
	if err != nil {
		// The password took; fall back to the pair the client is bound to
		// rather than failing the whole flow.
		s.logger.Warn("session refresh after password set failed", zap.Error(err))
		rotated = client.TokenPair()
	}

	s.recorder.Record(ctx, audit.Event{Kind: audit.KindPasswordSet, UserID: sess.UserID, Email: sess.Email})
	return rotated, nil
}
