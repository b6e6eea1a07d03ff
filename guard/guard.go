package guard

import (
	"net/url"

	"github.com/jrsteele09/go-fitness-auth/sessions"
)

// Outcome is what the navigation layer should do with a request.
type Outcome int

const (
	Render Outcome = iota
	Placeholder
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Placeholder:
		return "placeholder"
	default:
		return "redirect"
	}
}

// Decision is the guard's verdict for one navigation.
type Decision struct {
	Outcome  Outcome `json:"-"`
	Location string  `json:"location,omitempty"`
	Access   Access  `json:"-"`
}

// RecoveryToken returns the password-recovery token carried by query, if any.
func RecoveryToken(query url.Values) (string, bool) {
	token := query.Get("token")
	if token == "" || query.Get("type") != "recovery" {
		return "", false
	}
	return token, true
}

// Decide applies the route rules in priority order: a recovery token always leads to the reset
// page, public routes always render, and protected routes wait for loading to finish and then
// require a session.
func Decide(state sessions.Snapshot, path string, query url.Values) Decision {
	path = normalise(path)
	access := AccessFor(path)

	if token, ok := RecoveryToken(query); ok && path != RouteResetPassword {
		q := url.Values{}
		q.Set("token", token)
		q.Set("type", "recovery")
		return Decision{Outcome: Redirect, Location: RouteResetPassword + "?" + q.Encode(), Access: access}
	}

	if access == Public {
		return Decision{Outcome: Render, Access: access}
	}
	if state.Loading || !state.Resolved {
		return Decision{Outcome: Placeholder, Access: access}
	}
	if state.Authenticated() {
		return Decision{Outcome: Render, Access: access}
	}
	if state.SecondFactorPending {
		return Decision{Outcome: Redirect, Location: RouteSignIn + "?mfa=required", Access: access}
	}
	return Decision{Outcome: Redirect, Location: RouteSignIn, Access: access}
}
