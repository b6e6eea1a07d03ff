package actions

import (
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
)

// OperationKind names a user action.
type OperationKind string

const (
	OpSignUp         OperationKind = "sign_up"
	OpSignIn         OperationKind = "sign_in"
	OpOAuthStart     OperationKind = "oauth_start"
	OpOAuthComplete  OperationKind = "oauth_complete"
	OpSignOut        OperationKind = "sign_out"
	OpPasswordReset  OperationKind = "password_reset"
	OpUpdatePassword OperationKind = "update_password"
	OpRecover        OperationKind = "recover"
	OpEnrollTOTP     OperationKind = "enroll_totp"
	OpVerifyTOTP     OperationKind = "verify_totp"
	OpVerifyEmailOTP OperationKind = "verify_email_otp"
	OpResendEmail    OperationKind = "resend_verification"
	OpUpdateProfile  OperationKind = "update_profile"
)

// OperationState is the outcome of the most recent action, as shown to the user.
type OperationState struct {
	Kind       OperationKind
	Attempt    uint64
	Pending    bool
	Err        *autherrors.Error
	Result     any
	FinishedAt time.Time
}

// OperationTracker keeps the state of the latest action. A completion from an attempt that
// has since been superseded is dropped, so the display always reflects the newest action.
type OperationTracker struct {
	mu      sync.Mutex
	attempt uint64
	current OperationState
	nowTime func() time.Time
}

func NewOperationTracker(nowTime func() time.Time) *OperationTracker {
	if nowTime == nil {
		nowTime = time.Now
	}
	return &OperationTracker{nowTime: nowTime}
}

// Begin starts a new attempt and returns its number.
func (t *OperationTracker) Begin(kind OperationKind) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt++
	t.current = OperationState{Kind: kind, Attempt: t.attempt, Pending: true}
	return t.attempt
}

// Finish records the outcome of attempt. It reports false when attempt is no longer the latest.
func (t *OperationTracker) Finish(attempt uint64, result any, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if attempt != t.attempt {
		return false
	}
	t.current.Pending = false
	t.current.Result = result
	t.current.Err = nil
	if err != nil {
		t.current.Err = autherrors.Classify(err, "")
	}
	t.current.FinishedAt = t.nowTime()
	return true
}

// Reset clears the displayed state, e.g. on navigation. In-flight attempts become stale.
func (t *OperationTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt++
	t.current = OperationState{}
}

// Current returns the displayed state.
func (t *OperationTracker) Current() OperationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
