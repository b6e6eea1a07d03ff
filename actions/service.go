package actions

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-fitness-auth/authsync"
	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/profiles"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"github.com/jrsteele09/go-fitness-auth/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minPasswordLength      = 6
	defaultMetadataTimeout = 5 * time.Second
	defaultSiteURL         = "http://localhost:3000"
)

// Display messages.
const (
	msgSignUpFailed          = "Failed to sign up"
	msgSignInFailed          = "Failed to sign in"
	msgSignOutFailed         = "Failed to sign out"
	msgResetRequestFailed    = "Failed to send reset instructions"
	msgResetFailed           = "Failed to reset password"
	msgSetupTOTPFailed       = "Failed to setup TOTP"
	msgVerifyTOTPFailed      = "Failed to verify TOTP"
	msgVerifyOTPFailed       = "Failed to verify OTP"
	msgResendFailed          = "Failed to resend verification email"
	msgUpdateProfileFailed   = "Failed to update profile"
	msgOAuthFailed           = "Failed to sign in with OAuth"
	msgAlreadySignedUp       = "Email already signed up"
	msgVerifyEmailFirst      = "Please verify your email before signing in"
	msgInvalidCode           = "Invalid verification code"
	msgPasswordTooShort      = "Password must be at least 6 characters"
	msgPasswordMismatch      = "Passwords do not match"
	msgEmailRequired         = "Email is required"
	msgEmailInvalid          = "Please enter a valid email address"
	msgCodeRequired          = "Verification code is required"
	msgNoSession             = "You need to be signed in to do that"
	msgRecoveryExpired       = "Your reset link is invalid or has expired. Please request a new one."
	msgResetInstructionsSent = "If an account exists for that email, you will receive password reset instructions."
	msgPasswordUpdated       = "Password updated successfully. Please sign in with your new password."
	msgNoChallenge           = "No verification is in progress. Please sign in again."
	msgOAuthState            = "The sign-in attempt could not be verified. Please try again."
)

// Service runs the user-initiated auth actions of one client.
type Service struct {
	client   provider.Client
	store    *sessions.Store
	profiles profiles.Repo
	claims   *authsync.TransitionClaims
	ops      *OperationTracker
	logger   zerolog.Logger

	siteURL         string
	metadataTimeout time.Duration
	nowTime         func() time.Time

	mu               sync.Mutex
	pendingEmail     string
	pendingChallenge *provider.Challenge
	enrolledFactorID string
	oauthState       string
}

// Option configures the Service.
type Option func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the service's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithSiteURL sets the public origin used for email and OAuth redirect links.
func WithSiteURL(siteURL string) Option {
	return func(s *Service) {
		s.siteURL = strings.TrimRight(siteURL, "/")
	}
}

// WithMetadataTimeout bounds the provider metadata update made by UpdateProfile.
func WithMetadataTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.metadataTimeout = d
	}
}

// NewService creates a Service. claims must be the instance shared with the client's listener.
func NewService(client provider.Client, store *sessions.Store, profileRepo profiles.Repo, claims *authsync.TransitionClaims, options ...Option) (*Service, error) {
	if client == nil {
		return nil, errors.New("[NewService] Provider client is required")
	}
	if store == nil {
		return nil, errors.New("[NewService] Session store is required")
	}
	if profileRepo == nil {
		return nil, errors.New("[NewService] Profile repo is required")
	}
	if claims == nil {
		return nil, errors.New("[NewService] Transition claims are required")
	}
	s := &Service{
		client:          client,
		store:           store,
		profiles:        profileRepo,
		claims:          claims,
		logger:          log.Logger,
		siteURL:         defaultSiteURL,
		metadataTimeout: defaultMetadataTimeout,
		nowTime:         time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	s.ops = NewOperationTracker(s.nowTime)
	return s, nil
}

// Operations returns the tracker holding the latest action's outcome.
func (s *Service) Operations() *OperationTracker {
	return s.ops
}

// PendingEmail is the address awaiting verification after the last sign-up.
func (s *Service) PendingEmail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingEmail
}

// PendingChallenge is the MFA challenge issued by the last sign-in, if any.
func (s *Service) PendingChallenge() *provider.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingChallenge == nil {
		return nil
	}
	c := *s.pendingChallenge
	return &c
}

// run tracks one action and converts every failure, including a panic, into a classified error.
func run[T any](ctx context.Context, s *Service, kind OperationKind, fallback string, fn func(ctx context.Context) (T, error)) (result T, err error) {
	attempt := s.ops.Begin(kind)
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = fmt.Errorf("panic in %s: %v", kind, r)
		}
		if err != nil {
			err = s.classify(kind, err, fallback)
		}
		if !s.ops.Finish(attempt, result, err) {
			s.logger.Debug().Str("op", string(kind)).Uint64("attempt", attempt).Msg("superseded action completed")
		}
	}()
	return fn(ctx)
}

func (s *Service) classify(kind OperationKind, err error, fallback string) error {
	e := autherrors.Classify(err, fallback)
	switch e.Kind {
	case autherrors.KindValidation:
		s.logger.Debug().Str("op", string(kind)).Str("reason", e.Message).Msg("validation failed")
	case autherrors.KindProvider:
		s.logger.Info().Str("op", string(kind)).Str("code", e.Code).Int("status", e.Status).Msg(e.Message)
	case autherrors.KindNetwork:
		s.logger.Warn().Err(e.Err).Str("op", string(kind)).Msg("identity provider unreachable")
	case autherrors.KindUnknown:
		s.logger.Error().Err(e.Err).Str("op", string(kind)).Msg("unexpected auth failure")
	}
	return e
}

func (s *Service) redirectURL(path string) string {
	return s.siteURL + path
}

func validateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", autherrors.Validation(autherrors.ErrEmailRequired, msgEmailRequired)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", autherrors.Validation(err, msgEmailInvalid)
	}
	return email, nil
}

func validateNewPassword(password, confirm string, confirmRequired bool) error {
	if len(password) < minPasswordLength {
		return autherrors.Validation(autherrors.ErrPasswordTooShort, msgPasswordTooShort)
	}
	if (confirmRequired || confirm != "") && password != confirm {
		return autherrors.Validation(autherrors.ErrPasswordMismatch, msgPasswordMismatch)
	}
	return nil
}

// signOutLocally ends the provider session and clears the store. The clear takes its tag after
// the remote call so no update observed before it can survive.
func (s *Service) signOutLocally(ctx context.Context, kind OperationKind) error {
	err := s.client.SignOut(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("op", string(kind)).Msg("remote sign out failed, clearing local session anyway")
	}
	s.store.Clear(s.store.NextSeq())
	s.mu.Lock()
	s.pendingChallenge = nil
	s.enrolledFactorID = ""
	s.mu.Unlock()
	return err
}

// enrichment returns profile fields for userID, nil when unavailable.
func (s *Service) enrichment(ctx context.Context, userID string) *sessions.Enrichment {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, autherrors.ErrNotFound) {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed, using bare session")
		}
		return nil
	}
	return sessions.EnrichmentFromProfile(p)
}
