package guard_test

import (
	"net/url"
	"testing"

	"github.com/jrsteele09/go-fitness-auth/guard"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"github.com/jrsteele09/go-fitness-auth/sessions"
	"github.com/stretchr/testify/require"
)

var (
	loading         = sessions.Snapshot{Loading: true}
	unauthenticated = sessions.Snapshot{Resolved: true}
	authenticated   = sessions.Snapshot{Resolved: true, Session: &provider.Session{User: &provider.User{ID: "u1"}}}
	mfaPending      = sessions.Snapshot{Resolved: true, SecondFactorPending: true}
)

func TestAccessFor(t *testing.T) {
	require.Equal(t, guard.Public, guard.AccessFor("/"))
	require.Equal(t, guard.Public, guard.AccessFor("/auth/signin/"))
	require.Equal(t, guard.Public, guard.AccessFor("/auth/reset-password?token=x"))
	require.Equal(t, guard.Protected, guard.AccessFor("/dashboard"))
	require.Equal(t, guard.Protected, guard.AccessFor("/settings/security"))
	require.Equal(t, guard.Protected, guard.AccessFor("/not-a-route"))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		state    sessions.Snapshot
		path     string
		query    url.Values
		outcome  guard.Outcome
		location string
	}{
		{name: "public while loading renders", state: loading, path: guard.RouteSignIn, outcome: guard.Render},
		{name: "public while signed out renders", state: unauthenticated, path: guard.RouteHome, outcome: guard.Render},
		{name: "protected while loading waits", state: loading, path: guard.RouteDashboard, outcome: guard.Placeholder},
		{name: "protected signed out redirects", state: unauthenticated, path: guard.RouteSecurity, outcome: guard.Redirect, location: guard.RouteSignIn},
		{name: "protected signed in renders", state: authenticated, path: guard.RouteProfile, outcome: guard.Render},
		{name: "pending second factor redirects to the code prompt", state: mfaPending, path: guard.RouteDashboard, outcome: guard.Redirect, location: guard.RouteSignIn + "?mfa=required"},
		{name: "unknown path is protected", state: unauthenticated, path: "/secret", outcome: guard.Redirect, location: guard.RouteSignIn},
		{
			name:     "recovery token wins over auth state",
			state:    authenticated,
			path:     guard.RouteDashboard,
			query:    url.Values{"token": {"abc"}, "type": {"recovery"}},
			outcome:  guard.Redirect,
			location: "/auth/reset-password?token=abc&type=recovery",
		},
		{
			name:     "recovery token while loading redirects immediately",
			state:    loading,
			path:     guard.RouteHome,
			query:    url.Values{"token": {"abc"}, "type": {"recovery"}},
			outcome:  guard.Redirect,
			location: "/auth/reset-password?token=abc&type=recovery",
		},
		{
			name:    "recovery token on reset page renders",
			state:   unauthenticated,
			path:    guard.RouteResetPassword,
			query:   url.Values{"token": {"abc"}, "type": {"recovery"}},
			outcome: guard.Render,
		},
		{
			name:     "token without recovery type is ignored",
			state:    unauthenticated,
			path:     guard.RouteDashboard,
			query:    url.Values{"token": {"abc"}, "type": {"signup"}},
			outcome:  guard.Redirect,
			location: guard.RouteSignIn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := guard.Decide(tt.state, tt.path, tt.query)
			require.Equal(t, tt.outcome, d.Outcome, d.Outcome.String())
			require.Equal(t, tt.location, d.Location)
		})
	}
}
