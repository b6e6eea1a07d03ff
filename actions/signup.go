package actions

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-fitness-auth/guard"
	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
)

type SignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password,omitempty"`
	Name            string `json:"name,omitempty"`
}

type SignUpResult struct {
	Email                     string `json:"email"`
	RequiresEmailVerification bool   `json:"requires_email_verification"`
}

// SignUp registers an account. Whatever session the provider hands back, and any session that
// existed before, is discarded: a new account starts signed out and awaiting email verification.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (SignUpResult, error) {
	return run(ctx, s, OpSignUp, msgSignUpFailed, func(ctx context.Context) (SignUpResult, error) {
		email, err := validateEmail(req.Email)
		if err != nil {
			return SignUpResult{}, err
		}
		if err := validateNewPassword(req.Password, req.ConfirmPassword, false); err != nil {
			return SignUpResult{}, err
		}

		release := s.claims.Claim()
		defer release()

		metadata := map[string]any{}
		if req.Name != "" {
			metadata["name"] = req.Name
			metadata["full_name"] = req.Name
		}
		res, err := s.client.SignUp(ctx, email, req.Password, metadata, s.redirectURL(guard.RouteVerify))
		if err != nil {
			return SignUpResult{}, err
		}
		if res == nil || res.User == nil {
			return SignUpResult{}, autherrors.Unknown(autherrors.ErrNoUserReturned, msgSignUpFailed)
		}
		if res.User.Identities != nil && len(res.User.Identities) == 0 {
			_ = s.signOutLocally(ctx, OpSignUp)
			return SignUpResult{}, autherrors.Provider(autherrors.CodeUserAlreadyExists, msgAlreadySignedUp, http.StatusConflict, autherrors.ErrUserAlreadyExists)
		}

		_ = s.signOutLocally(ctx, OpSignUp)

		registered := res.User.Email
		if registered == "" {
			registered = email
		}
		s.mu.Lock()
		s.pendingEmail = registered
		s.mu.Unlock()

		s.logger.Info().Str("user_id", res.User.ID).Msg("account registered, awaiting email verification")
		return SignUpResult{Email: registered, RequiresEmailVerification: true}, nil
	})
}
