package provider

import (
	"time"

	"github.com/jrsteele09/go-fitness-auth/internal/utils"
)

// User is the identity provider's account record.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	ConfirmedAt      *time.Time     `json:"confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	Identities       []UserIdentity `json:"identities"`
	Factors          []Factor       `json:"factors,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Confirmed reports whether the account's email has been verified.
func (u *User) Confirmed() bool {
	if u == nil {
		return false
	}
	return u.ConfirmedAt != nil || u.EmailConfirmedAt != nil
}

// MetadataString returns a string user_metadata value, or "".
func (u *User) MetadataString(key string) string {
	if u == nil || u.UserMetadata == nil {
		return ""
	}
	s, _ := u.UserMetadata[key].(string)
	return s
}

// VerifiedFactor returns the first verified factor of the given type.
func (u *User) VerifiedFactor(factorType FactorType) (Factor, bool) {
	if u == nil {
		return Factor{}, false
	}
	for _, f := range u.Factors {
		if f.FactorType == factorType && f.Status == FactorStatusVerified {
			return f, true
		}
	}
	return Factor{}, false
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.AppMetadata = cloneMap(u.AppMetadata)
	c.UserMetadata = cloneMap(u.UserMetadata)
	c.EmailConfirmedAt = utils.ClonePtr(u.EmailConfirmedAt)
	c.ConfirmedAt = utils.ClonePtr(u.ConfirmedAt)
	c.LastSignInAt = utils.ClonePtr(u.LastSignInAt)
	if u.Identities != nil {
		c.Identities = append([]UserIdentity{}, u.Identities...)
	}
	if u.Factors != nil {
		c.Factors = append([]Factor{}, u.Factors...)
	}
	return &c
}

// UserIdentity links an account to a sign-in method (email, google, ...).
type UserIdentity struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Provider     string         `json:"provider"`
	IdentityData map[string]any `json:"identity_data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Session is the provider-issued credential bundle. It is replaced wholesale, never mutated in place.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}

// Clone returns a deep copy so stores never share state with the provider.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}

// Expired reports whether the access token is past its expiry, allowing for margin.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// UserID returns the session's user id, or "".
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// FactorType identifies an MFA factor kind.
type FactorType string

const (
	FactorTypeTOTP  FactorType = "totp"
	FactorTypePhone FactorType = "phone"
)

// FactorStatus is the enrollment state of a factor.
type FactorStatus string

const (
	FactorStatusUnverified FactorStatus = "unverified"
	FactorStatusVerified   FactorStatus = "verified"
)

// Factor is an enrolled MFA factor.
type Factor struct {
	ID           string       `json:"id"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	FactorType   FactorType   `json:"factor_type"`
	Status       FactorStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TOTPEnrollment is returned by an enroll call.
type TOTPEnrollment struct {
	ID     string     `json:"id"`
	Type   FactorType `json:"type"`
	Secret string     `json:"secret"`
	QRCode string     `json:"qr_code"` // SVG data URI
	URI    string     `json:"uri"`     // otpauth:// URI
}

// Challenge is a single-use verification handle bound to one factor.
type Challenge struct {
	ID        string    `json:"id"`
	FactorID  string    `json:"factor_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OTPType selects the verification flow for VerifyOTP and Resend.
type OTPType string

const (
	OTPTypeSignup      OTPType = "signup"
	OTPTypeEmail       OTPType = "email"
	OTPTypeRecovery    OTPType = "recovery"
	OTPTypeMagicLink   OTPType = "magiclink"
	OTPTypeEmailChange OTPType = "email_change"
	OTPTypeInvite      OTPType = "invite"
)

// SignUpResult is the outcome of a sign-up call. Session is nil when email confirmation is required.
type SignUpResult struct {
	User    *User
	Session *Session
}

// UserAttributes is the payload of UpdateUser. Empty fields are left unchanged.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// OAuthRedirect is where the caller must send the browser to start an OAuth sign-in.
type OAuthRedirect struct {
	Provider string
	URL      string
	State    string
}

// AssuranceLevel is the authenticator assurance level carried by a session.
type AssuranceLevel string

const (
	AAL1 AssuranceLevel = "aal1"
	AAL2 AssuranceLevel = "aal2"
)

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
