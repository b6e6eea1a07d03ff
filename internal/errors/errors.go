package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Common error values surfaced by the auth client.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailNotConfirmed     = errors.New("email not confirmed")
	ErrUserAlreadyExists     = errors.New("email already signed up")
	ErrPasswordMismatch      = errors.New("passwords do not match")
	ErrPasswordTooShort      = errors.New("password too short")
	ErrEmailRequired         = errors.New("email is required")
	ErrNoSession             = errors.New("no active session")
	ErrInvalidMFACode        = errors.New("invalid verification code")
	ErrNoUserReturned        = errors.New("provider returned no user")
	ErrFactorNotFound        = errors.New("factor not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrNotFound              = errors.New("not found")
	ErrUnsupported           = errors.New("unsupported operation")
	ErrInvalidOAuthState     = errors.New("invalid oauth state")
	ErrOAuthProviderRequired = errors.New("oauth provider is required")
)

// Kind is the closed set of failure categories. Every consumer switches on it.
type Kind int

const (
	// KindValidation is raised before any network call.
	KindValidation Kind = iota
	// KindProvider is an identity-provider classified error; its message is shown verbatim.
	KindProvider
	// KindNetwork marks transport failures so callers can offer a retry.
	KindNetwork
	// KindUnknown wraps anything else behind a generic message.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindProvider:
		return "provider"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Provider error codes, aligned with GoTrue's error_code values.
const (
	CodeInvalidCredentials    = "invalid_credentials"
	CodeEmailNotConfirmed     = "email_not_confirmed"
	CodeUserAlreadyExists     = "user_already_exists"
	CodeWeakPassword          = "weak_password"
	CodeSamePassword          = "same_password"
	CodeMFAVerificationFailed = "mfa_verification_failed"
	CodeMFAChallengeExpired   = "mfa_challenge_expired"
	CodeMFAFactorNotFound     = "mfa_factor_not_found"
	CodeOverEmailRateLimit    = "over_email_send_rate_limit"
	CodeOTPExpired            = "otp_expired"
	CodeSessionNotFound       = "session_not_found"
	CodeSessionMissing        = "session_missing"
	CodeBadOAuthState         = "bad_oauth_state"
	CodeUnexpectedFailure     = "unexpected_failure"
)

const (
	genericMessage = "Something went wrong. Please try again."
	networkMessage = "Unable to reach the authentication service. Check your connection and try again."
)

// ProviderError is implemented by identity-provider API errors.
type ProviderError interface {
	error
	ErrorCode() string
	HTTPStatus() int
}

// Error is a classified, display-ready failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Display returns the string to show to the user.
func (e *Error) Display() string {
	return e.Message
}

// Validation builds a pre-network failure.
func Validation(err error, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

// Provider builds a classified identity-provider failure.
func Provider(code, message string, status int, err error) *Error {
	return &Error{Kind: KindProvider, Code: code, Message: message, Status: status, Err: err}
}

// Network builds a transport failure.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: networkMessage, Err: err}
}

// Unknown wraps an unclassified failure behind a generic message. The original is kept in Err.
func Unknown(err error, message string) *Error {
	if message == "" {
		message = genericMessage
	}
	return &Error{Kind: KindUnknown, Message: message, Err: err}
}

// Classify maps any error onto the closed Kind set. fallback is the message used for unknown errors.
func Classify(err error, fallback string) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var perr ProviderError
	if errors.As(err, &perr) {
		return Provider(perr.ErrorCode(), perr.Error(), perr.HTTPStatus(), err)
	}

	if isNetwork(err) {
		return Network(err)
	}

	return Unknown(err, fallback)
}

// KindOf returns the Kind of a classified error, KindUnknown otherwise.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// CodeOf returns the provider code of err, if any.
func CodeOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) && classified.Code != "" {
		return classified.Code
	}
	var perr ProviderError
	if errors.As(err, &perr) {
		return perr.ErrorCode()
	}
	return ""
}

// Message returns a display-ready string for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err, "").Display()
}

func isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
