package provider

import (
	"context"
	"fmt"
)

// Client is the identity provider surface consumed by the session state machine.
// Implementations own credential verification, token issuance and refresh, MFA and OAuth.
type Client interface {
	// GetSession returns the currently persisted session, or nil.
	GetSession(ctx context.Context) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any, redirectTo string) (*SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignInWithOAuth starts an OAuth handoff and returns the browser redirect.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (*OAuthRedirect, error)
	// ExchangeCodeForSession completes an OAuth handoff.
	ExchangeCodeForSession(ctx context.Context, code, state string) (*Session, error)
	// SignOut invalidates the remote session. The local session is removed even on failure.
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error)
	VerifyOTP(ctx context.Context, email, token string, otpType OTPType) (*Session, error)
	MFAEnroll(ctx context.Context, factorType FactorType) (*TOTPEnrollment, error)
	MFAChallenge(ctx context.Context, factorID string) (*Challenge, error)
	MFAVerify(ctx context.Context, factorID, challengeID, code string) (*Session, error)
	Resend(ctx context.Context, otpType OTPType, email string) error
	// OnAuthStateChange registers fn for every auth event. fn is called synchronously, in emission order.
	OnAuthStateChange(fn func(AuthEvent)) Subscription
}

// APIError is an error response returned by the identity provider.
type APIError struct {
	Status int    `json:"code"`
	Code   string `json:"error_code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("identity provider error %d (%s)", e.Status, e.Code)
}

// ErrorCode implements errors.ProviderError.
func (e *APIError) ErrorCode() string { return e.Code }

// HTTPStatus implements errors.ProviderError.
func (e *APIError) HTTPStatus() int { return e.Status }

// NewAPIError builds an APIError.
func NewAPIError(status int, code, msg string) *APIError {
	return &APIError{Status: status, Code: code, Msg: msg}
}
