package domain

// AssuranceLevel classifies session strength as reported by the IdP.
type AssuranceLevel string

const (
	// AAL1 is a single-factor session (password only).
	AAL1 AssuranceLevel = "aal1"
	// AAL2 is a step-up-verified session (password plus TOTP).
	AAL2 AssuranceLevel = "aal2"
)

// TokenPair is the access/refresh credential bundle representing a session to
// the IdP. It is immutable once issued and superseded wholesale on rotation.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Complete reports whether both token fields are present. A pair missing
// either half is unusable and treated as absent.
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Session is derived on demand from a TokenPair by querying the IdP. It is
// never persisted server-side beyond the cookie-held pair.
type Session struct {
	TokenPair    TokenPair
	UserID       string
	Email        string
	CurrentLevel AssuranceLevel
	NextLevel    AssuranceLevel
}

// NeedsStepUp reports whether the IdP requires this session to upgrade to
// AAL2 before it may reach protected resources.
func (s Session) NeedsStepUp() bool {
	return s.NextLevel == AAL2 && s.CurrentLevel != AAL2
}
