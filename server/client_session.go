package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-fitness-auth/authclient"
	"github.com/rs/zerolog/log"
)

const (
	SessionCookieName   = "fitness_session"
	sessionCookieMaxAge = 30 * 24 * time.Hour
)

// clientFor returns the auth client of the requesting browser, creating one (and its cookie) on
// first use. A cookie whose client has been expired gets a fresh client under the same id, so
// provider state persisted under that id is picked up again.
func (s *Server) clientFor(w http.ResponseWriter, r *http.Request) (*authclient.Client, error) {
	sessionID := ""
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if _, parseErr := uuid.Parse(cookie.Value); parseErr == nil {
			sessionID = cookie.Value
		}
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess, created, err := s.sessions.GetOrCreate(sessionID, func() (*authclient.Client, error) {
		return s.newClient(s.ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return sess.Client, nil
	}
	log.Debug().Str("session_id", sessionID).Msg("created auth client")

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.config.GetSecureCookies() || getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	})
	return sess.Client, nil
}

// withClient resolves the browser's client before calling handler.
func (s *Server) withClient(handler func(w http.ResponseWriter, r *http.Request, client *authclient.Client)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := s.clientFor(w, r)
		if err != nil {
			logError(r.Method, r.URL.Path, err.Error())
			writeError(w, err)
			return
		}
		handler(w, r, client)
	}
}
