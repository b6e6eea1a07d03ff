package actions

import (
	"context"
	"errors"
	"net/http"

	"github.com/jrsteele09/go-fitness-auth/guard"
	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/profiles"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"github.com/jrsteele09/go-fitness-auth/sessions"
	pkgerrors "github.com/pkg/errors"
)

type SignInResult struct {
	Identity *sessions.Identity `json:"identity,omitempty"`
	// MFARequired is set when the account has a verified TOTP factor; the session is committed
	// only after VerifyChallenge succeeds.
	MFARequired bool                `json:"mfa_required"`
	Challenge   *provider.Challenge `json:"challenge,omitempty"`
}

type OAuthStartResult struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// SignIn authenticates with email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	return run(ctx, s, OpSignIn, msgSignInFailed, func(ctx context.Context) (SignInResult, error) {
		email, err := validateEmail(email)
		if err != nil {
			return SignInResult{}, err
		}
		if password == "" {
			return SignInResult{}, autherrors.Validation(autherrors.ErrInvalidCredentials, "Password is required")
		}

		release := s.claims.Claim()
		defer release()
		seq := s.store.NextSeq()

		session, err := s.client.SignInWithPassword(ctx, email, password)
		if err != nil {
			if autherrors.CodeOf(err) == autherrors.CodeEmailNotConfirmed {
				return SignInResult{}, autherrors.Provider(autherrors.CodeEmailNotConfirmed, msgVerifyEmailFirst, http.StatusBadRequest, err)
			}
			return SignInResult{}, err
		}
		return s.completeSignIn(ctx, OpSignIn, seq, session)
	})
}

// SignInWithOAuth starts an OAuth sign-in and returns the provider URL to send the browser to.
func (s *Service) SignInWithOAuth(ctx context.Context, providerName string) (OAuthStartResult, error) {
	return run(ctx, s, OpOAuthStart, msgOAuthFailed, func(ctx context.Context) (OAuthStartResult, error) {
		if providerName == "" {
			return OAuthStartResult{}, autherrors.Validation(autherrors.ErrOAuthProviderRequired, "Please choose a sign-in provider")
		}
		redirect, err := s.client.SignInWithOAuth(ctx, providerName, s.redirectURL(guard.RouteOAuthCallback))
		if err != nil {
			return OAuthStartResult{}, err
		}
		s.mu.Lock()
		s.oauthState = redirect.State
		s.mu.Unlock()
		return OAuthStartResult{Provider: redirect.Provider, URL: redirect.URL}, nil
	})
}

// CompleteOAuth exchanges the callback code and finishes sign-in like SignIn does.
func (s *Service) CompleteOAuth(ctx context.Context, code, state string) (SignInResult, error) {
	return run(ctx, s, OpOAuthComplete, msgOAuthFailed, func(ctx context.Context) (SignInResult, error) {
		s.mu.Lock()
		expected := s.oauthState
		s.oauthState = ""
		s.mu.Unlock()
		if code == "" || (expected != "" && state != expected) {
			return SignInResult{}, autherrors.Validation(autherrors.ErrInvalidOAuthState, msgOAuthState)
		}

		release := s.claims.Claim()
		defer release()
		seq := s.store.NextSeq()

		session, err := s.client.ExchangeCodeForSession(ctx, code, state)
		if err != nil {
			return SignInResult{}, err
		}
		return s.completeSignIn(ctx, OpOAuthComplete, seq, session)
	})
}

// completeSignIn enforces email confirmation, ensures the profile row, handles an MFA step-up
// and commits the session under seq.
func (s *Service) completeSignIn(ctx context.Context, kind OperationKind, seq uint64, session *provider.Session) (SignInResult, error) {
	if session == nil || session.User == nil {
		return SignInResult{}, autherrors.Unknown(autherrors.ErrNoUserReturned, msgSignInFailed)
	}
	user := session.User
	if !user.Confirmed() {
		_ = s.signOutLocally(ctx, kind)
		return SignInResult{}, autherrors.Provider(autherrors.CodeEmailNotConfirmed, msgVerifyEmailFirst, http.StatusBadRequest, autherrors.ErrEmailNotConfirmed)
	}

	profile, err := s.ensureProfile(ctx, user)
	if err != nil {
		_ = s.signOutLocally(ctx, kind)
		return SignInResult{}, err
	}

	if session.AwaitingSecondFactor() {
		factor, _ := user.VerifiedFactor(provider.FactorTypeTOTP)
		challenge, err := s.client.MFAChallenge(ctx, factor.ID)
		if err != nil {
			_ = s.signOutLocally(ctx, kind)
			return SignInResult{}, err
		}
		// Marks the store as waiting for the code; the aal1 session itself is never kept.
		s.store.SetSession(seq, session, nil)
		s.mu.Lock()
		s.pendingChallenge = challenge
		s.mu.Unlock()
		s.logger.Info().Str("user_id", user.ID).Msg("second factor required")
		return SignInResult{MFARequired: true, Challenge: challenge}, nil
	}

	enrichment := sessions.EnrichmentFromProfile(profile)
	if !s.store.SetSession(seq, session, enrichment) {
		s.logger.Debug().Str("op", string(kind)).Uint64("seq", seq).Msg("newer session already applied")
	}
	s.logger.Info().Str("user_id", user.ID).Str("op", string(kind)).Msg("signed in")
	return SignInResult{Identity: sessions.DeriveIdentity(session, enrichment)}, nil
}

// ensureProfile returns the user's profile, creating it on first sign-in. A concurrent create
// that wins the race is read back rather than treated as a failure.
func (s *Service) ensureProfile(ctx context.Context, user *provider.User) (*profiles.Profile, error) {
	profile, err := s.profiles.Get(ctx, user.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, autherrors.ErrNotFound) {
		return nil, pkgerrors.Wrap(err, "lookup profile")
	}

	name := user.MetadataString("name")
	if name == "" {
		name = user.MetadataString("full_name")
	}
	candidate := &profiles.Profile{
		ID:       user.ID,
		Email:    user.Email,
		Name:     name,
		Language: user.MetadataString("language"),
		Phone:    user.MetadataString("phone"),
	}
	created, err := s.profiles.Create(ctx, candidate)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create profile")
	}
	if created {
		s.logger.Info().Str("user_id", user.ID).Msg("profile created")
	}
	// The repository stamps times and defaults, so the stored row is the answer either way.
	profile, err = s.profiles.Get(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read back profile")
	}
	return profile, nil
}
