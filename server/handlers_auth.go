package server

import (
	"net/http"
	"time"

	"github.com/jrsteele09/go-fitness-auth/actions"
	"github.com/jrsteele09/go-fitness-auth/authclient"
	"github.com/jrsteele09/go-fitness-auth/internal/utils"
	"github.com/jrsteele09/go-fitness-auth/profiles"
	"github.com/jrsteele09/go-fitness-auth/sessions"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	FactorID string `json:"factor_id,omitempty"`
	Code     string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type passwordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type profileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Language  string `json:"language"`
	Phone     string `json:"phone"`
}

// sessionView is what the browser learns about its session. Tokens stay on the server.
type sessionView struct {
	Authenticated bool               `json:"authenticated"`
	Loading       bool               `json:"loading"`
	MFAPending    bool               `json:"mfa_pending,omitempty"`
	Identity      *sessions.Identity `json:"identity,omitempty"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
}

func toSessionView(snap sessions.Snapshot) sessionView {
	v := sessionView{Authenticated: snap.Authenticated(), Loading: snap.Loading, MFAPending: snap.SecondFactorPending, Identity: snap.Identity}
	if snap.Session != nil {
		v.ExpiresAt = utils.PtrIfSet(snap.Session.ExpiresAt)
	}
	return v
}

type operationView struct {
	Kind    actions.OperationKind `json:"kind,omitempty"`
	Attempt uint64                `json:"attempt"`
	Pending bool                  `json:"pending"`
	Error   *errorView            `json:"error,omitempty"`
	Result  any                   `json:"result,omitempty"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// PreflightHandler answers CORS preflight requests; the headers are set by CorsMiddleware.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) SignUpHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req actions.SignUpRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().SignUp(r.Context(), req)
		respond(w, res, err)
	})
}

func (s *Server) SignInHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req signInRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().SignIn(r.Context(), req.Email, req.Password)
		respond(w, res, err)
	})
}

// SignInMFAHandler completes a sign-in that stopped at the second factor.
func (s *Server) SignInMFAHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req codeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().VerifyChallenge(r.Context(), nil, req.Code)
		respond(w, res, err)
	})
}

func (s *Server) OAuthStartHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		res, err := c.Actions().SignInWithOAuth(r.Context(), r.PathValue("provider"))
		respond(w, res, err)
	})
}

// SignOutHandler always reports the local sign-out; a failed remote revocation comes back as a
// warning next to the result.
func (s *Server) SignOutHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		res, err := c.Actions().SignOut(r.Context())
		if err != nil && res.SignedOut {
			view, _ := toErrorView(err)
			writeJSON(w, http.StatusOK, struct {
				actions.SignOutResult
				Warning errorView `json:"warning"`
			}{res, view})
			return
		}
		respond(w, res, err)
	})
}

func (s *Server) PasswordResetHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req emailRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().RequestPasswordReset(r.Context(), req.Email)
		respond(w, res, err)
	})
}

func (s *Server) PasswordUpdateHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req passwordRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().UpdatePassword(r.Context(), req.Password, req.ConfirmPassword)
		respond(w, res, err)
	})
}

func (s *Server) MFAEnrollHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		res, err := c.Actions().EnrollTOTP(r.Context())
		respond(w, res, err)
	})
}

func (s *Server) MFAVerifyHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req codeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().VerifyTOTP(r.Context(), req.FactorID, req.Code)
		respond(w, res, err)
	})
}

func (s *Server) VerifyEmailHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req verifyEmailRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().VerifyEmailOTP(r.Context(), req.Email, req.Token)
		respond(w, res, err)
	})
}

func (s *Server) ResendVerificationHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req emailRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().ResendVerification(r.Context(), req.Email)
		respond(w, res, err)
	})
}

func (s *Server) UpdateProfileHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		var req profileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := c.Actions().UpdateProfile(r.Context(), profiles.Update{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Language:  req.Language,
			Phone:     req.Phone,
		})
		respond(w, res, err)
	})
}

func (s *Server) SessionHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		writeJSON(w, http.StatusOK, toSessionView(c.Snapshot()))
	})
}

// OperationHandler returns the outcome of the browser's latest action.
func (s *Server) OperationHandler() http.HandlerFunc {
	return s.withClient(func(w http.ResponseWriter, r *http.Request, c *authclient.Client) {
		op := c.Actions().Operations().Current()
		view := operationView{Kind: op.Kind, Attempt: op.Attempt, Pending: op.Pending, Result: op.Result}
		if op.Err != nil {
			ev, _ := toErrorView(op.Err)
			view.Error = &ev
		}
		writeJSON(w, http.StatusOK, view)
	})
}
