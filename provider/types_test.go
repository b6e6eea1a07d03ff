package provider_test

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-fitness-auth/internal/utils"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims provider.Claims) string {
	t.Helper()
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSessionCloneSharesNothing(t *testing.T) {
	confirmed := time.Unix(1735689600, 0)
	orig := &provider.Session{
		AccessToken: "access",
		User: &provider.User{
			ID:           "user-1",
			ConfirmedAt:  utils.Ptr(confirmed),
			UserMetadata: map[string]any{"name": "Jo"},
			Identities:   []provider.UserIdentity{{ID: "identity-1", Provider: "email"}},
		},
	}

	c := orig.Clone()
	c.User.UserMetadata["name"] = "Changed"
	c.User.Identities[0].Provider = "google"
	*c.User.ConfirmedAt = confirmed.Add(time.Hour)

	require.Equal(t, "Jo", orig.User.MetadataString("name"))
	require.Equal(t, "email", orig.User.Identities[0].Provider)
	require.Equal(t, confirmed, *orig.User.ConfirmedAt)
	require.Nil(t, (*provider.Session)(nil).Clone())
}

func TestAssuranceLevel(t *testing.T) {
	aal2 := &provider.Session{AccessToken: signedToken(t, provider.Claims{AAL: provider.AAL2})}
	require.Equal(t, provider.AAL2, aal2.AssuranceLevel())

	// Missing or unreadable claims count as a single factor.
	require.Equal(t, provider.AAL1, (&provider.Session{AccessToken: signedToken(t, provider.Claims{})}).AssuranceLevel())
	require.Equal(t, provider.AAL1, (&provider.Session{AccessToken: "not-a-jwt"}).AssuranceLevel())
}

func TestExpiryFromClaims(t *testing.T) {
	exp := time.Unix(1735689600, 0)
	s := &provider.Session{AccessToken: signedToken(t, provider.Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{ExpiresAt: jwtlib.NewNumericDate(exp)},
	})}
	s.ExpiryFromClaims()
	require.True(t, exp.Equal(s.ExpiresAt))

	// An explicit expiry is kept.
	set := &provider.Session{AccessToken: s.AccessToken, ExpiresAt: exp.Add(time.Hour)}
	set.ExpiryFromClaims()
	require.True(t, exp.Add(time.Hour).Equal(set.ExpiresAt))
}

func TestSessionExpired(t *testing.T) {
	now := time.Unix(1735689600, 0)
	s := &provider.Session{ExpiresAt: now.Add(30 * time.Second)}

	require.False(t, s.Expired(now, 0))
	require.True(t, s.Expired(now, time.Minute))
	require.True(t, (*provider.Session)(nil).Expired(now, 0))
	require.False(t, (&provider.Session{}).Expired(now, time.Hour))
}
