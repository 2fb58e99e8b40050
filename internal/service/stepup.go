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

// StepUpService issues and redeems one-time-code challenges to upgrade an
// AAL1 session to AAL2.
type StepUpService struct {
	factory  *idp.Factory
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewStepUpService wires the step-up protocol.
func NewStepUpService(factory *idp.Factory, recorder audit.Recorder, logger *zap.Logger) *StepUpService {
	if logger == nil {
		logger = zap.L()
	}
	return &StepUpService{factory: factory, recorder: recorder, logger: logger}
}

// Challenge issues a brand-new challenge for the factor. It also serves as
// rotation: the previous challenge is superseded and its id must be
// discarded, never reused.
func (s *StepUpService) Challenge(ctx context.Context, pair domain.TokenPair, factorID string) (domain.Challenge, error) {
	if factorID == "" {
		return domain.Challenge{}, fmt.Errorf("%w: factor id is required", domain.ErrValidation)
	}

	client, err := s.bind(ctx, pair)
	if err != nil {
		return domain.Challenge{}, err
	}

	challenge, err := client.Challenge(ctx, factorID)
	if err != nil {
		return domain.Challenge{}, err
	}
	return challenge, nil
}

// Verify redeems the code against the provider. A failed verify invalidates
// the challenge it targeted; the caller retries with a freshly issued one.
// Success returns the upgraded AAL2 pair.
func (s *StepUpService) Verify(ctx context.Context, pair domain.TokenPair, factorID, challengeID, code string) (domain.TokenPair, error) {
	if factorID == "" || challengeID == "" {
		return domain.TokenPair{}, fmt.Errorf("%w: factor id and challenge id are required", domain.ErrValidation)
	}
	if err := ValidateCode(code); err != nil {
		return domain.TokenPair{}, err
	}

	client, err := s.bind(ctx, pair)
	if err != nil {
		return domain.TokenPair{}, err
	}
	sess := client.Session()

	upgraded, err := client.Verify(ctx, factorID, challengeID, code)
	if err != nil {
		if errors.Is(err, domain.ErrVerificationFailed) {
			s.recorder.Record(ctx, audit.Event{Kind: audit.KindStepUpFailed, UserID: sess.UserID, Email: sess.Email})
		}
		return domain.TokenPair{}, err
	}

	s.recorder.Record(ctx, audit.Event{Kind: audit.KindStepUpVerified, UserID: sess.UserID, Email: sess.Email})
	return upgraded, nil
}

// bind maps a provider refusal onto ErrNotAuthenticated: a pair that cannot
// bind a client is no session at all for step-up purposes.
func (s *StepUpService) bind(ctx context.Context, pair domain.TokenPair) (*idp.Client, error) {
	client, err := s.factory.FromTokenPair(ctx, pair)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRejected) || errors.Is(err, domain.ErrNotAuthenticated) {
			return nil, domain.ErrNotAuthenticated
		}
		return nil, err
	}
	return client, nil
}

// ValidateCode shape-checks a one-time code without contacting the provider.
func ValidateCode(code string) error {
	if len(code) < 6 || len(code) > 10 {
		return fmt.Errorf("%w: code must be 6 to 10 digits", domain.ErrValidation)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: code must be numeric", domain.ErrValidation)
		}
	}
	return nil
}
