package idp

import (
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/proofmarked/stepup-gateway/internal/domain"
)

// Signature algorithms a GoTrue deployment may mint tokens with.
var providerAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.RS256, jose.ES256, jose.EdDSA,
}

// accessClaims are the provider-minted claims this layer reads. The token is
// never verified locally — the provider is the arbiter of validity — so the
// claims are only used for cheap pre-checks (expiry) and the aal hint.
type accessClaims struct {
	Subject string                `json:"sub"`
	Email   string                `json:"email"`
	AAL     domain.AssuranceLevel `json:"aal"`
	Expiry  int64                 `json:"exp"`
}

func (c accessClaims) expired(now time.Time) bool {
	return c.Expiry > 0 && now.Unix() >= c.Expiry
}

// parseAccessClaims decodes the unverified claim set of a provider access
// token.
func parseAccessClaims(accessToken string) (accessClaims, error) {
	token, err := jwt.ParseSigned(accessToken, providerAlgorithms)
	if err != nil {
		return accessClaims{}, fmt.Errorf("%w: parse access token: %v", domain.ErrAuthRejected, err)
	}
	var claims accessClaims
	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return accessClaims{}, fmt.Errorf("%w: decode access claims: %v", domain.ErrAuthRejected, err)
	}
	return claims, nil
}
