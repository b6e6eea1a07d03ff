package server

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-fitness-auth/authclient"
	"github.com/jrsteele09/go-fitness-auth/guard"
	"github.com/rs/zerolog/log"
)

// pageView describes a page the guard let through. Rendering it is the front end's job.
type pageView struct {
	Outcome string      `json:"outcome"`
	Path    string      `json:"path"`
	Access  string      `json:"access"`
	Session sessionView `json:"session"`
	Error   *errorView  `json:"error,omitempty"`
}

// PageHandler runs every page navigation through the route guard.
func (s *Server) PageHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		query := r.URL.Query()
		decision := c.Navigate(r.URL.Path, query)

		view := pageView{Outcome: decision.Outcome.String(), Path: r.URL.Path, Access: decision.Access.String()}
		switch decision.Outcome {
		case guard.Redirect:
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			return
		case guard.Placeholder:
			view.Session = toSessionView(c.Snapshot())
			writeJSON(w, http.StatusAccepted, view)
			return
		}

		// Arriving from a reset email: trade the token for a recovery session before rendering.
		if token, ok := guard.RecoveryToken(query); ok && r.URL.Path == guard.RouteResetPassword {
			if _, err := c.Actions().Recover(r.Context(), query.Get("email"), token); err != nil {
				ev, _ := toErrorView(err)
				view.Error = &ev
			}
		}
		view.Session = toSessionView(c.Snapshot())
		writeJSON(w, http.StatusOK, view)
	})
}

// OAuthCallbackHandler finishes an OAuth sign-in and sends the browser on to the dashboard, or
// back to the sign-in page with the reason.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		query := r.URL.Query()
		if providerErr := query.Get("error"); providerErr != "" {
			desc := query.Get("error_description")
			if desc == "" {
				desc = providerErr
			}
			log.Warn().Str("error", providerErr).Str("description", desc).Msg("oauth provider returned an error")
			redirectWithError(w, r, guard.RouteSignIn, desc)
			return
		}

		res, err := c.Actions().CompleteOAuth(r.Context(), query.Get("code"), query.Get("state"))
		if err != nil {
			view, _ := toErrorView(err)
			redirectWithError(w, r, guard.RouteSignIn, view.Message)
			return
		}
		if res.MFARequired {
			http.Redirect(w, r, guard.RouteSignIn+"?mfa=required", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, guard.RouteDashboard, http.StatusSeeOther)
	})
}

// SignOutPageHandler signs out and returns to the sign-in page.
func (s *Server) SignOutPageHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		decision := c.Navigate(r.URL.Path, r.URL.Query())
		if decision.Outcome == guard.Redirect {
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			return
		}
		if _, err := c.Actions().SignOut(r.Context()); err != nil {
			log.Warn().Err(err).Msg("remote sign out failed")
		}
		http.Redirect(w, r, guard.RouteSignIn, http.StatusSeeOther)
	})
}

func redirectWithError(w http.ResponseWriter, r *http.Request, path, message string) {
	q := url.Values{}
	q.Set("error", message)
	http.Redirect(w, r, path+"?"+q.Encode(), http.StatusSeeOther)
}
