package actions

import (
	"context"
)

type SignOutResult struct {
	SignedOut bool `json:"signed_out"`
}

// SignOut always clears local state. A failed remote invalidation is returned alongside a
// successful result and should be shown as a warning.
func (s *Service) SignOut(ctx context.Context) (SignOutResult, error) {
	return run(ctx, s, OpSignOut, msgSignOutFailed, func(ctx context.Context) (SignOutResult, error) {
		err := s.signOutLocally(ctx, OpSignOut)
		return SignOutResult{SignedOut: true}, err
	})
}
