package idp

import (
	"context"
	"errors"
	"time"

	"github.com/proofmarked/stepup-gateway/internal/domain"
)

// Factory produces a short-lived provider client bound to one token pair.
// Binding is cheap and stateless; a fresh client per operation keeps every
// authentication step independently retryable and free of cross-request
// state.
type Factory struct {
	api API
}

// NewFactory wires the factory over the outbound provider API.
func NewFactory(api API) *Factory {
	return &Factory{api: api}
}

// FromTokenPair binds a client by presenting the pair to the provider. An
// expired access token is rotated through the refresh grant first; if the
// provider cannot establish a session either way the bind fails with
// ErrAuthRejected.
func (f *Factory) FromTokenPair(ctx context.Context, pair domain.TokenPair) (*Client, error) {
	if !pair.Complete() {
		return nil, domain.ErrNotAuthenticated
	}

	claims, err := parseAccessClaims(pair.AccessToken)
	if err != nil {
		return nil, err
	}
	if claims.expired(time.Now()) {
		return f.bindViaRefresh(ctx, pair)
	}

	user, err := f.api.User(ctx, pair.AccessToken)
	if err != nil {
		// The provider may have revoked an unexpired token; one refresh
		// attempt settles it.
		if errors.Is(err, domain.ErrAuthRejected) {
			return f.bindViaRefresh(ctx, pair)
		}
		return nil, err
	}

	return &Client{api: f.api, pair: pair, claims: claims, user: user}, nil
}

// FromSession binds a client from a session resolved earlier in the same
// request.
func (f *Factory) FromSession(ctx context.Context, s domain.Session) (*Client, error) {
	return f.FromTokenPair(ctx, s.TokenPair)
}

func (f *Factory) bindViaRefresh(ctx context.Context, pair domain.TokenPair) (*Client, error) {
	rotated, err := f.api.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		return nil, err
	}
	claims, err := parseAccessClaims(rotated.AccessToken)
	if err != nil {
		return nil, err
	}
	user, err := f.api.User(ctx, rotated.AccessToken)
	if err != nil {
		return nil, err
	}
	return &Client{api: f.api, pair: rotated, claims: claims, user: user}, nil
}

// Client is a provider client bound to an established session. It is built
// for exactly one authentication operation and never reused across requests.
type Client struct {
	api    API
	pair   domain.TokenPair
	claims accessClaims
	user   UserInfo
}

// TokenPair returns the pair the client is bound to. It may differ from the
// presented pair when binding rotated an expired token.
func (c *Client) TokenPair() domain.TokenPair {
	return c.pair
}

// Session derives the session view of the bound pair: identity plus current
// and next required assurance level.
func (c *Client) Session() domain.Session {
	current, next := c.assurance(c.user.Factors)
	return domain.Session{
		TokenPair:    c.pair,
		UserID:       c.user.ID,
		Email:        c.user.Email,
		CurrentLevel: current,
		NextLevel:    next,
	}
}

// Factors returns the factor list fetched when the client was bound.
func (c *Client) Factors() []domain.Factor {
	return c.user.Factors
}

// ListFactors re-fetches the factor list from the provider.
func (c *Client) ListFactors(ctx context.Context) ([]domain.Factor, error) {
	user, err := c.api.User(ctx, c.pair.AccessToken)
	if err != nil {
		return nil, err
	}
	c.user = user
	return user.Factors, nil
}

// AssuranceLevel reports the current and next required level for the bound
// session, from a fresh factor list.
func (c *Client) AssuranceLevel(ctx context.Context) (current, next domain.AssuranceLevel, err error) {
	factors, err := c.ListFactors(ctx)
	if err != nil {
		return "", "", err
	}
	current, next = c.assurance(factors)
	return current, next, nil
}

// assurance mirrors the provider's classification: the token's aal claim is
// the current level; the next required level is AAL2 when a verified factor
// exists or MFA is enforced for the user.
func (c *Client) assurance(factors []domain.Factor) (domain.AssuranceLevel, domain.AssuranceLevel) {
	current := c.claims.AAL
	if current == "" {
		current = domain.AAL1
	}
	next := current
	if _, ok := domain.VerifiedTOTP(factors); ok || c.user.MFAEnforced {
		next = domain.AAL2
	}
	return current, next
}

// Enroll creates a new pending TOTP factor.
func (c *Client) Enroll(ctx context.Context, label string) (domain.Enrollment, error) {
	return c.api.EnrollFactor(ctx, c.pair.AccessToken, label)
}

// Unenroll removes a factor by id.
func (c *Client) Unenroll(ctx context.Context, factorID string) error {
	return c.api.UnenrollFactor(ctx, c.pair.AccessToken, factorID)
}

// Challenge issues a fresh single-use challenge against the factor. The
// previous challenge, if any, is superseded and its id must be discarded.
func (c *Client) Challenge(ctx context.Context, factorID string) (domain.Challenge, error) {
	return c.api.ChallengeFactor(ctx, c.pair.AccessToken, factorID)
}

// Verify redeems a code against a challenge and returns the upgraded pair.
func (c *Client) Verify(ctx context.Context, factorID, challengeID, code string) (domain.TokenPair, error) {
	return c.api.VerifyFactor(ctx, c.pair.AccessToken, factorID, challengeID, code)
}

// ChallengeAndVerify issues a challenge and immediately redeems the code
// against it, in one step. Used for first-time verification during
// enrollment.
func (c *Client) ChallengeAndVerify(ctx context.Context, factorID, code string) (domain.TokenPair, error) {
	challenge, err := c.api.ChallengeFactor(ctx, c.pair.AccessToken, factorID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return c.api.VerifyFactor(ctx, c.pair.AccessToken, factorID, challenge.ID, code)
}

// RefreshSession redeems the refresh token for a brand-new pair.
func (c *Client) RefreshSession(ctx context.Context) (domain.TokenPair, error) {
	rotated, err := c.api.Refresh(ctx, c.pair.RefreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}
	c.pair = rotated
	return rotated, nil
}

// UpdatePassword sets a new password on the bound user.
func (c *Client) UpdatePassword(ctx context.Context, password string) error {
	return c.api.UpdatePassword(ctx, c.pair.AccessToken, password)
}
