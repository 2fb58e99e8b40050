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

// defaultFactorLabel names newly enrolled factors in the provider.
const defaultFactorLabel = "Proofmarked authenticator"

// EnrollService binds and first-time-verifies a new TOTP factor.
type EnrollService struct {
	factory  *idp.Factory
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewEnrollService wires the enrollment protocol.
func NewEnrollService(factory *idp.Factory, recorder audit.Recorder, logger *zap.Logger) *EnrollService {
	if logger == nil {
		logger = zap.L()
	}
	return &EnrollService{factory: factory, recorder: recorder, logger: logger}
}

// Start issues a new pending TOTP factor for the session.
//
// A verified factor makes enrollment redundant and fails with
// ErrFactorVerified (the caller redirects to the protected area). Pending
// factors are unenrolled first so at most one exists per user; those
// removals are best-effort and never block the new enrollment.
func (s *EnrollService) Start(ctx context.Context, pair domain.TokenPair) (domain.Enrollment, error) {
	client, err := s.bind(ctx, pair)
	if err != nil {
		return domain.Enrollment{}, err
	}
	sess := client.Session()

	factors := client.Factors()
	if _, ok := domain.VerifiedTOTP(factors); ok {
		return domain.Enrollment{}, domain.ErrFactorVerified
	}

	for _, pending := range domain.PendingTOTP(factors) {
		if err := client.Unenroll(ctx, pending.ID); err != nil {
			s.logger.Warn("unenroll stale pending factor failed",
				zap.String("factor_id", pending.ID),
				zap.Error(err),
			)
			continue
		}
		s.recorder.Record(ctx, audit.Event{Kind: audit.KindFactorUnenrolled, UserID: sess.UserID, Email: sess.Email, Detail: pending.ID})
	}

	enrollment, err := client.Enroll(ctx, defaultFactorLabel)
	if err != nil {
		return domain.Enrollment{}, fmt.Errorf("%w: enroll factor: %v", domain.ErrTransientAuth, err)
	}

	s.recorder.Record(ctx, audit.Event{Kind: audit.KindFactorEnrolled, UserID: sess.UserID, Email: sess.Email, Detail: enrollment.FactorID})
	return enrollment, nil
}

// Confirm atomically challenge-and-verifies the first code for a freshly
// enrolled factor. Success returns a fresh pair already reflecting AAL2.
func (s *EnrollService) Confirm(ctx context.Context, pair domain.TokenPair, factorID, code string) (domain.TokenPair, error) {
	if factorID == "" {
		return domain.TokenPair{}, fmt.Errorf("%w: factor id is required", domain.ErrValidation)
	}
	if err := ValidateCode(code); err != nil {
		return domain.TokenPair{}, err
	}

	client, err := s.bind(ctx, pair)
	if err != nil {
		return domain.TokenPair{}, err
	}
	sess := client.Session()

	upgraded, err := client.ChallengeAndVerify(ctx, factorID, code)
	if err != nil {
		if errors.Is(err, domain.ErrVerificationFailed) {
			return domain.TokenPair{}, err
		}
		// Unknown factor ids surface from the provider as a refusal; the
		// caller treats both the same way.
		if errors.Is(err, domain.ErrAuthRejected) {
			return domain.TokenPair{}, fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
		}
		return domain.TokenPair{}, err
	}

	s.recorder.Record(ctx, audit.Event{Kind: audit.KindEnrollCompleted, UserID: sess.UserID, Email: sess.Email, Detail: factorID})
	return upgraded, nil
}

func (s *EnrollService) bind(ctx context.Context, pair domain.TokenPair) (*idp.Client, error) {
	client, err := s.factory.FromTokenPair(ctx, pair)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRejected) || errors.Is(err, domain.ErrNotAuthenticated) {
			return nil, domain.ErrNotAuthenticated
		}
		return nil, err
	}
	return client, nil
}
