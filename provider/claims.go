package provider

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// AMREntry records one authentication method used for the session.
type AMREntry struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// Claims are the access-token claims the client relies on.
type Claims struct {
	jwtlib.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	AAL          AssuranceLevel `json:"aal,omitempty"`
	AMR          []AMREntry     `json:"amr,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// ParseClaims decodes an access token without verifying its signature.
// The client never holds the provider's signing key; the provider verifies tokens it receives.
func ParseClaims(accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, errors.New("empty access token")
	}
	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// AssuranceLevel returns the session's aal claim, aal1 when absent or unreadable.
func (s *Session) AssuranceLevel() AssuranceLevel {
	if s == nil {
		return ""
	}
	claims, err := ParseClaims(s.AccessToken)
	if err != nil || claims.AAL == "" {
		return AAL1
	}
	return claims.AAL
}

// AwaitingSecondFactor reports whether the user has a verified TOTP factor that this session
// has not satisfied yet. Such a session must not be treated as signed in.
func (s *Session) AwaitingSecondFactor() bool {
	if s == nil {
		return false
	}
	if _, ok := s.User.VerifiedFactor(FactorTypeTOTP); !ok {
		return false
	}
	return s.AssuranceLevel() != AAL2
}

// ExpiryFromClaims fills ExpiresAt from the token's exp claim when the provider omitted it.
func (s *Session) ExpiryFromClaims() {
	if s == nil || !s.ExpiresAt.IsZero() {
		return
	}
	claims, err := ParseClaims(s.AccessToken)
	if err != nil || claims.ExpiresAt == nil {
		if s.ExpiresIn > 0 {
			s.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
		}
		return
	}
	s.ExpiresAt = claims.ExpiresAt.Time
}
