package actions

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-fitness-auth/guard"
	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/provider"
)

type PasswordResetResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type RecoverResult struct {
	Email string `json:"email"`
}

type UpdatePasswordResult struct {
	Message                  string `json:"message"`
	RequiresReauthentication bool   `json:"requires_reauthentication"`
}

// RequestPasswordReset asks the provider to email reset instructions. The outcome is the same
// whether or not the account exists, and provider failures are only logged.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (PasswordResetResult, error) {
	return run(ctx, s, OpPasswordReset, msgResetRequestFailed, func(ctx context.Context) (PasswordResetResult, error) {
		email, err := validateEmail(email)
		if err != nil {
			return PasswordResetResult{}, err
		}
		if err := s.client.ResetPasswordForEmail(ctx, email, s.redirectURL(guard.RouteResetPassword)); err != nil {
			s.logger.Warn().Err(err).Str("code", autherrors.CodeOf(err)).Msg("password reset dispatch failed")
		}
		return PasswordResetResult{Success: true, Message: msgResetInstructionsSent}, nil
	})
}

// Recover exchanges the token from a reset email for a recovery-scoped session, which
// UpdatePassword then uses. email may be empty when the link does not carry it.
func (s *Service) Recover(ctx context.Context, email, token string) (RecoverResult, error) {
	return run(ctx, s, OpRecover, msgRecoveryExpired, func(ctx context.Context) (RecoverResult, error) {
		if token == "" {
			return RecoverResult{}, autherrors.Validation(autherrors.ErrNoSession, msgRecoveryExpired)
		}
		seq := s.store.NextSeq()
		session, err := s.client.VerifyOTP(ctx, email, token, provider.OTPTypeRecovery)
		if err != nil {
			if autherrors.CodeOf(err) == autherrors.CodeOTPExpired {
				return RecoverResult{}, autherrors.Provider(autherrors.CodeOTPExpired, msgRecoveryExpired, http.StatusForbidden, err)
			}
			return RecoverResult{}, err
		}
		if session == nil || session.User == nil {
			return RecoverResult{}, autherrors.Unknown(autherrors.ErrNoUserReturned, msgRecoveryExpired)
		}
		s.store.SetSession(seq, session, s.enrichment(ctx, session.User.ID))
		return RecoverResult{Email: session.User.Email}, nil
	})
}

// UpdatePassword sets a new password for the signed-in or recovering user and then signs out,
// so the new password has to be used to get a session again.
func (s *Service) UpdatePassword(ctx context.Context, password, confirm string) (UpdatePasswordResult, error) {
	return run(ctx, s, OpUpdatePassword, msgResetFailed, func(ctx context.Context) (UpdatePasswordResult, error) {
		if err := validateNewPassword(password, confirm, true); err != nil {
			return UpdatePasswordResult{}, err
		}
		if !s.store.Snapshot().Authenticated() {
			current, err := s.client.GetSession(ctx)
			if err != nil {
				return UpdatePasswordResult{}, err
			}
			if current == nil {
				return UpdatePasswordResult{}, autherrors.Validation(autherrors.ErrNoSession, msgRecoveryExpired)
			}
		}

		if _, err := s.client.UpdateUser(ctx, provider.UserAttributes{Password: password}); err != nil {
			return UpdatePasswordResult{}, err
		}
		_ = s.signOutLocally(ctx, OpUpdatePassword)
		return UpdatePasswordResult{Message: msgPasswordUpdated, RequiresReauthentication: true}, nil
	})
}
