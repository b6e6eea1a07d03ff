package actions

import (
	"context"
	"strings"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/provider"
)

type ResendResult struct {
	Success bool   `json:"success"`
	Email   string `json:"email"`
}

// VerifyEmailOTP confirms an email with the code from the verification message and commits the
// resulting session.
func (s *Service) VerifyEmailOTP(ctx context.Context, email, token string) (SignInResult, error) {
	return run(ctx, s, OpVerifyEmailOTP, msgVerifyOTPFailed, func(ctx context.Context) (SignInResult, error) {
		if email == "" {
			email = s.PendingEmail()
		}
		email, err := validateEmail(email)
		if err != nil {
			return SignInResult{}, err
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return SignInResult{}, autherrors.Validation(autherrors.ErrInvalidMFACode, msgCodeRequired)
		}

		release := s.claims.Claim()
		defer release()
		seq := s.store.NextSeq()

		session, err := s.client.VerifyOTP(ctx, email, token, provider.OTPTypeEmail)
		if err != nil {
			return SignInResult{}, err
		}
		s.mu.Lock()
		s.pendingEmail = ""
		s.mu.Unlock()
		return s.completeSignIn(ctx, OpVerifyEmailOTP, seq, session)
	})
}

// ResendVerification sends the sign-up confirmation again. An empty email uses the address from
// the last sign-up. Provider rate limiting is returned as a non-fatal provider error.
func (s *Service) ResendVerification(ctx context.Context, email string) (ResendResult, error) {
	return run(ctx, s, OpResendEmail, msgResendFailed, func(ctx context.Context) (ResendResult, error) {
		if email == "" {
			email = s.PendingEmail()
		}
		email, err := validateEmail(email)
		if err != nil {
			return ResendResult{}, err
		}
		if err := s.client.Resend(ctx, provider.OTPTypeSignup, email); err != nil {
			return ResendResult{Email: email}, err
		}
		return ResendResult{Success: true, Email: email}, nil
	})
}
