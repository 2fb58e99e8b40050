// Package idptest provides an in-memory identity provider for tests. It
// mints real (HS256-signed) access tokens so the claim-parsing path runs
// against the same token shapes the live provider produces.
package idptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/proofmarked/stepup-gateway/internal/domain"
	"github.com/proofmarked/stepup-gateway/internal/idp"
)

var signingKey = []byte("idptest-signing-key-0123456789ab")

// User is a provisioned account in the fake provider.
type User struct {
	ID          string
	Email       string
	Password    string
	MFAEnforced bool
	TOTPCode    string
	Factors     []domain.Factor
}

type grantState struct {
	userID string
	level  domain.AssuranceLevel
}

type challengeState struct {
	factorID string
	spent    bool
}

// Fake implements idp.API against in-memory state. All methods are safe for
// concurrent use.
type Fake struct {
	mu         sync.Mutex
	users      map[string]*User // keyed by email
	byAccess   map[string]grantState
	byRefresh  map[string]grantState
	challenges map[string]*challengeState
	invited    []string
	seq        int

	// FailWith, when set, makes every call return that error. Used to
	// exercise transient-failure handling.
	FailWith error
}

// New returns an empty fake provider.
func New() *Fake {
	return &Fake{
		users:      make(map[string]*User),
		byAccess:   make(map[string]grantState),
		byRefresh:  make(map[string]grantState),
		challenges: make(map[string]*challengeState),
	}
}

var _ idp.API = (*Fake)(nil)

// AddUser provisions an account and returns it for later mutation.
func (f *Fake) AddUser(u User) *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		f.seq++
		u.ID = fmt.Sprintf("user-%d", f.seq)
	}
	stored := u
	f.users[u.Email] = &stored
	return &stored
}

// Invited reports the emails invited so far, in order.
func (f *Fake) Invited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invited...)
}

// MintPair issues a pair for the user at the given level, exactly as a
// completed grant would. ttl below zero produces an already-expired access
// token.
func (f *Fake) MintPair(email string, level domain.AssuranceLevel, ttl time.Duration) domain.TokenPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		panic("idptest: no such user " + email)
	}
	return f.mintLocked(u, level, ttl)
}

func (f *Fake) mintLocked(u *User, level domain.AssuranceLevel, ttl time.Duration) domain.TokenPair {
	f.seq++
	access := f.signToken(u, level, ttl)
	refresh := fmt.Sprintf("refresh-%d", f.seq)
	state := grantState{userID: u.ID, level: level}
	f.byAccess[access] = state
	f.byRefresh[refresh] = state
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh}
}

func (f *Fake) signToken(u *User, level domain.AssuranceLevel, ttl time.Duration) string {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		panic(err)
	}
	claims := map[string]interface{}{
		"sub":   u.ID,
		"email": u.Email,
		"aal":   string(level),
		"exp":   time.Now().Add(ttl).Unix(),
		"jti":   fmt.Sprintf("jti-%d", f.seq),
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		panic(err)
	}
	return token
}

func (f *Fake) userByAccess(accessToken string) (*User, grantState, error) {
	state, ok := f.byAccess[accessToken]
	if !ok {
		return nil, grantState{}, fmt.Errorf("%w: unknown access token", domain.ErrAuthRejected)
	}
	for _, u := range f.users {
		if u.ID == state.userID {
			return u, state, nil
		}
	}
	return nil, grantState{}, fmt.Errorf("%w: user gone", domain.ErrAuthRejected)
}

// SignIn implements the password grant.
func (f *Fake) SignIn(ctx context.Context, email, password string) (domain.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return domain.TokenPair{}, f.FailWith
	}
	u, ok := f.users[email]
	if !ok || u.Password != password {
		return domain.TokenPair{}, fmt.Errorf("%w: invalid login credentials", domain.ErrAuthRejected)
	}
	return f.mintLocked(u, domain.AAL1, time.Hour), nil
}

// Refresh rotates a pair. The spent refresh token is invalidated.
func (f *Fake) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return domain.TokenPair{}, f.FailWith
	}
	state, ok := f.byRefresh[refreshToken]
	if !ok {
		return domain.TokenPair{}, fmt.Errorf("%w: invalid refresh token", domain.ErrAuthRejected)
	}
	delete(f.byRefresh, refreshToken)
	for _, u := range f.users {
		if u.ID == state.userID {
			return f.mintLocked(u, state.level, time.Hour), nil
		}
	}
	return domain.TokenPair{}, fmt.Errorf("%w: user gone", domain.ErrAuthRejected)
}

// User returns the profile and factor list for an access token.
func (f *Fake) User(ctx context.Context, accessToken string) (idp.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return idp.UserInfo{}, f.FailWith
	}
	u, _, err := f.userByAccess(accessToken)
	if err != nil {
		return idp.UserInfo{}, err
	}
	return idp.UserInfo{
		ID:          u.ID,
		Email:       u.Email,
		Factors:     append([]domain.Factor(nil), u.Factors...),
		MFAEnforced: u.MFAEnforced,
	}, nil
}

// UpdatePassword sets a new password for the bound user.
func (f *Fake) UpdatePassword(ctx context.Context, accessToken, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	u, _, err := f.userByAccess(accessToken)
	if err != nil {
		return err
	}
	u.Password = password
	return nil
}

// EnrollFactor creates a pending TOTP factor.
func (f *Fake) EnrollFactor(ctx context.Context, accessToken, label string) (domain.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return domain.Enrollment{}, f.FailWith
	}
	u, _, err := f.userByAccess(accessToken)
	if err != nil {
		return domain.Enrollment{}, err
	}
	f.seq++
	id := fmt.Sprintf("factor-%d", f.seq)
	u.Factors = append(u.Factors, domain.Factor{
		ID:     id,
		Type:   domain.FactorTypeTOTP,
		Label:  label,
		Status: domain.FactorPending,
	})
	return domain.Enrollment{
		FactorID:  id,
		Secret:    "SECRET" + id,
		QRPayload: "data:image/svg+xml;" + id,
		URI:       "otpauth://totp/" + id,
	}, nil
}

// UnenrollFactor removes a factor by id.
func (f *Fake) UnenrollFactor(ctx context.Context, accessToken, factorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	u, _, err := f.userByAccess(accessToken)
	if err != nil {
		return err
	}
	for i, factor := range u.Factors {
		if factor.ID == factorID {
			u.Factors = append(u.Factors[:i], u.Factors[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: factor not found", domain.ErrAuthRejected)
}

// ChallengeFactor issues a fresh challenge; earlier challenges against the
// same factor are invalidated.
func (f *Fake) ChallengeFactor(ctx context.Context, accessToken, factorID string) (domain.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return domain.Challenge{}, f.FailWith
	}
	u, _, err := f.userByAccess(accessToken)
	if err != nil {
		return domain.Challenge{}, err
	}
	var found bool
	for _, factor := range u.Factors {
		if factor.ID == factorID {
			found = true
			break
		}
	}
	if !found {
		return domain.Challenge{}, fmt.Errorf("%w: factor not found", domain.ErrAuthRejected)
	}
	for _, ch := range f.challenges {
		if ch.factorID == factorID {
			ch.spent = true
		}
	}
	f.seq++
	id := fmt.Sprintf("challenge-%d", f.seq)
	f.challenges[id] = &challengeState{factorID: factorID}
	return domain.Challenge{ID: id, FactorID: factorID, IssuedAt: time.Now()}, nil
}

// VerifyFactor redeems a code. The challenge is spent regardless of outcome;
// success verifies the factor and mints an AAL2 pair.
func (f *Fake) VerifyFactor(ctx context.Context, accessToken, factorID, challengeID, code string) (domain.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return domain.TokenPair{}, f.FailWith
	}
	u, _, err := f.userByAccess(accessToken)
	if err != nil {
		return domain.TokenPair{}, err
	}
	ch, ok := f.challenges[challengeID]
	if !ok || ch.spent || ch.factorID != factorID {
		return domain.TokenPair{}, fmt.Errorf("%w: challenge expired", domain.ErrVerificationFailed)
	}
	ch.spent = true
	if code != u.TOTPCode {
		return domain.TokenPair{}, fmt.Errorf("%w: invalid TOTP code", domain.ErrVerificationFailed)
	}
	for i := range u.Factors {
		if u.Factors[i].ID == factorID {
			u.Factors[i].Status = domain.FactorVerified
		}
	}
	return f.mintLocked(u, domain.AAL2, time.Hour), nil
}

// InviteUser records the invitation. Inviting an existing account fails the
// way the live provider does.
func (f *Fake) InviteUser(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	if _, exists := f.users[email]; exists {
		return fmt.Errorf("%w: user already registered", domain.ErrAuthRejected)
	}
	f.invited = append(f.invited, email)
	f.seq++
	f.users[email] = &User{ID: fmt.Sprintf("user-%d", f.seq), Email: email, MFAEnforced: true}
	return nil
}
