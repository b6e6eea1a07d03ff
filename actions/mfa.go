package actions

import (
	"context"
	"net/http"
	"strings"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/provider"
)

type EnrollTOTPResult struct {
	FactorID string `json:"factor_id"`
	Secret   string `json:"secret"`
	QRCode   string `json:"qr_code"`
	URI      string `json:"uri"`
}

type VerifyTOTPResult struct {
	Success bool `json:"success"`
}

// EnrollTOTP provisions a new TOTP factor for the signed-in user.
func (s *Service) EnrollTOTP(ctx context.Context) (EnrollTOTPResult, error) {
	return run(ctx, s, OpEnrollTOTP, msgSetupTOTPFailed, func(ctx context.Context) (EnrollTOTPResult, error) {
		if !s.store.Snapshot().Authenticated() {
			return EnrollTOTPResult{}, autherrors.Validation(autherrors.ErrNoSession, msgNoSession)
		}
		enrollment, err := s.client.MFAEnroll(ctx, provider.FactorTypeTOTP)
		if err != nil {
			return EnrollTOTPResult{}, err
		}
		if enrollment == nil || enrollment.ID == "" {
			return EnrollTOTPResult{}, autherrors.Unknown(autherrors.ErrFactorNotFound, msgSetupTOTPFailed)
		}
		s.mu.Lock()
		s.enrolledFactorID = enrollment.ID
		s.mu.Unlock()
		return EnrollTOTPResult{
			FactorID: enrollment.ID,
			Secret:   enrollment.Secret,
			QRCode:   enrollment.QRCode,
			URI:      enrollment.URI,
		}, nil
	})
}

// VerifyTOTP confirms a code for factorID by issuing a fresh challenge and verifying against
// it. An empty factorID uses the factor from the last EnrollTOTP.
func (s *Service) VerifyTOTP(ctx context.Context, factorID, code string) (VerifyTOTPResult, error) {
	return run(ctx, s, OpVerifyTOTP, msgVerifyTOTPFailed, func(ctx context.Context) (VerifyTOTPResult, error) {
		code = strings.TrimSpace(code)
		if code == "" {
			return VerifyTOTPResult{}, autherrors.Validation(autherrors.ErrInvalidMFACode, msgCodeRequired)
		}
		if factorID == "" {
			s.mu.Lock()
			factorID = s.enrolledFactorID
			s.mu.Unlock()
		}
		if factorID == "" {
			return VerifyTOTPResult{}, autherrors.Validation(autherrors.ErrFactorNotFound, "No authenticator is being set up")
		}

		seq := s.store.NextSeq()
		challenge, err := s.client.MFAChallenge(ctx, factorID)
		if err != nil {
			return VerifyTOTPResult{}, mfaError(err)
		}
		if err := s.verifyAndCommit(ctx, seq, factorID, challenge.ID, code); err != nil {
			return VerifyTOTPResult{}, err
		}
		s.mu.Lock()
		s.enrolledFactorID = ""
		s.mu.Unlock()
		return VerifyTOTPResult{Success: true}, nil
	})
}

// VerifyChallenge answers a challenge issued during sign-in. A nil challenge uses the pending one.
// The challenge is single use: whatever the outcome it cannot be answered again.
func (s *Service) VerifyChallenge(ctx context.Context, challenge *provider.Challenge, code string) (SignInResult, error) {
	return run(ctx, s, OpVerifyTOTP, msgVerifyTOTPFailed, func(ctx context.Context) (SignInResult, error) {
		code = strings.TrimSpace(code)
		if code == "" {
			return SignInResult{}, autherrors.Validation(autherrors.ErrInvalidMFACode, msgCodeRequired)
		}
		s.mu.Lock()
		if challenge == nil {
			challenge = s.pendingChallenge
		}
		if challenge != nil && s.pendingChallenge != nil && s.pendingChallenge.ID == challenge.ID {
			s.pendingChallenge = nil
		}
		s.mu.Unlock()
		if challenge == nil {
			return SignInResult{}, autherrors.Validation(autherrors.ErrInvalidMFACode, msgNoChallenge)
		}

		seq := s.store.NextSeq()
		if err := s.verifyAndCommit(ctx, seq, challenge.FactorID, challenge.ID, code); err != nil {
			return SignInResult{}, err
		}
		return SignInResult{Identity: s.store.Snapshot().Identity}, nil
	})
}

func (s *Service) verifyAndCommit(ctx context.Context, seq uint64, factorID, challengeID, code string) error {
	session, err := s.client.MFAVerify(ctx, factorID, challengeID, code)
	if err != nil {
		return mfaError(err)
	}
	if session == nil {
		return autherrors.Unknown(autherrors.ErrNoSession, msgVerifyTOTPFailed)
	}
	s.store.SetSession(seq, session, s.enrichment(ctx, session.UserID()))
	s.logger.Info().Str("user_id", session.UserID()).Msg("second factor verified")
	return nil
}

// mfaError reports every challenge or code rejection as an invalid code.
func mfaError(err error) error {
	switch autherrors.CodeOf(err) {
	case autherrors.CodeMFAVerificationFailed, autherrors.CodeMFAChallengeExpired, autherrors.CodeMFAFactorNotFound:
		status := http.StatusUnprocessableEntity
		if classified := autherrors.Classify(err, ""); classified.Status != 0 {
			status = classified.Status
		}
		return autherrors.Provider(autherrors.CodeMFAVerificationFailed, msgInvalidCode, status, err)
	}
	return err
}
