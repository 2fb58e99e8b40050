package domain

import "time"

// FactorType identifies the authentication method a factor binds. Only TOTP
// is supported.
type FactorType string

// FactorTypeTOTP is a time-based one-time password factor.
const FactorTypeTOTP FactorType = "totp"

// FactorStatus is the IdP-reported lifecycle state of a factor.
type FactorStatus string

const (
	// FactorPending is an enrolled factor whose first code was never
	// verified. It grants nothing and must be superseded before a new
	// enrollment is issued.
	FactorPending FactorStatus = "unverified"
	// FactorVerified is a factor that completed first-time verification and
	// may be challenged for step-up.
	FactorVerified FactorStatus = "verified"
)

// Factor is a bound authentication method a user can be challenged against.
type Factor struct {
	ID     string
	Type   FactorType
	Label  string
	Status FactorStatus
}

// Verified reports whether the factor completed first-time verification.
func (f Factor) Verified() bool {
	return f.Status == FactorVerified
}

// VerifiedTOTP returns the first verified TOTP factor, if any.
func VerifiedTOTP(factors []Factor) (Factor, bool) {
	for _, f := range factors {
		if f.Type == FactorTypeTOTP && f.Status == FactorVerified {
			return f, true
		}
	}
	return Factor{}, false
}

// PendingTOTP returns every TOTP factor still awaiting first verification.
func PendingTOTP(factors []Factor) []Factor {
	var pending []Factor
	for _, f := range factors {
		if f.Type == FactorTypeTOTP && f.Status == FactorPending {
			pending = append(pending, f)
		}
	}
	return pending
}

// Challenge is a single-use one-time-code challenge issued by the IdP.
// Redeeming it invalidates it regardless of outcome; a stale challenge is
// replaced by issuing a new one, never reused.
type Challenge struct {
	ID       string
	FactorID string
	IssuedAt time.Time
}

// Enrollment is the scannable payload returned when a new TOTP factor is
// created. Rendering the QR image is the caller's concern.
type Enrollment struct {
	FactorID  string
	Secret    string
	QRPayload string
	URI       string
}
