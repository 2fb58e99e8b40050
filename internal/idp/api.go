// Package idp talks to the remote identity provider. The provider is the
// single source of truth for credentials, factors, and tokens; this package
// exposes the narrow capability contract the gateway depends on.
package idp

import (
	"context"

	"github.com/proofmarked/stepup-gateway/internal/domain"
)

// UserInfo is the provider's view of an authenticated user, as returned by
// the user endpoint. MFAEnforced is carried in the invite metadata and makes
// step-up mandatory before any verified factor exists.
type UserInfo struct {
	ID          string
	Email       string
	Factors     []domain.Factor
	MFAEnforced bool
}

// API is the outbound surface of the identity provider. Every call is
// independent; nothing is cached across requests.
type API interface {
	// SignIn exchanges email+password for a token pair via the password grant.
	SignIn(ctx context.Context, email, password string) (domain.TokenPair, error)
	// Refresh redeems a refresh token for a brand-new pair.
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
	// User fetches the profile and factor list for an access token.
	User(ctx context.Context, accessToken string) (UserInfo, error)
	// UpdatePassword sets a new password on the authenticated user.
	UpdatePassword(ctx context.Context, accessToken, password string) error
	// EnrollFactor creates a new pending TOTP factor.
	EnrollFactor(ctx context.Context, accessToken, label string) (domain.Enrollment, error)
	// UnenrollFactor removes a factor.
	UnenrollFactor(ctx context.Context, accessToken, factorID string) error
	// ChallengeFactor issues a single-use challenge against a factor.
	ChallengeFactor(ctx context.Context, accessToken, factorID string) (domain.Challenge, error)
	// VerifyFactor redeems a code against a challenge. Success returns the
	// upgraded token pair; the challenge is invalidated regardless of outcome.
	VerifyFactor(ctx context.Context, accessToken, factorID, challengeID, code string) (domain.TokenPair, error)
	// InviteUser sends an invitation email through the admin surface.
	InviteUser(ctx context.Context, email, redirectTo string) error
}
