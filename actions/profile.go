package actions

import (
	"context"
	"errors"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/profiles"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"github.com/jrsteele09/go-fitness-auth/sessions"
	pkgerrors "github.com/pkg/errors"
)

type UpdateProfileResult struct {
	Success  bool               `json:"success"`
	Identity *sessions.Identity `json:"identity,omitempty"`
}

// UpdateProfile writes the editable fields to the provider's user metadata and to the profile
// row, then recommits the session with the new identity. The metadata call is bounded by the
// configured timeout.
func (s *Service) UpdateProfile(ctx context.Context, u profiles.Update) (UpdateProfileResult, error) {
	return run(ctx, s, OpUpdateProfile, msgUpdateProfileFailed, func(ctx context.Context) (UpdateProfileResult, error) {
		snap := s.store.Snapshot()
		if !snap.Authenticated() {
			return UpdateProfileResult{}, autherrors.Validation(autherrors.ErrNoSession, msgNoSession)
		}
		userID := snap.Session.UserID()

		metaCtx, cancel := context.WithTimeout(ctx, s.metadataTimeout)
		user, err := s.client.UpdateUser(metaCtx, provider.UserAttributes{Data: map[string]any{
			"name":     u.Name(),
			"language": u.LanguageOrDefault(),
			"phone":    u.Phone,
		}})
		cancel()
		if err != nil {
			return UpdateProfileResult{}, err
		}

		profile, err := s.profiles.Update(ctx, userID, u)
		if errors.Is(err, autherrors.ErrNotFound) {
			_, err = s.profiles.Create(ctx, &profiles.Profile{
				ID:       userID,
				Email:    snap.Session.User.Email,
				Name:     u.Name(),
				Language: u.LanguageOrDefault(),
				Phone:    u.Phone,
			})
			if err == nil {
				profile, err = s.profiles.Get(ctx, userID)
			}
		}
		if err != nil {
			return UpdateProfileResult{}, pkgerrors.Wrap(err, "update profile row")
		}

		// Tagged after the writes so the new fields replace any enrichment fetched meanwhile.
		seq := s.store.NextSeq()
		current := s.store.Snapshot().Session
		if current == nil || current.UserID() != userID {
			return UpdateProfileResult{Success: true}, nil
		}
		if user != nil {
			current.User = user
		}
		enrichment := sessions.EnrichmentFromProfile(profile)
		s.store.SetSession(seq, current, enrichment)
		return UpdateProfileResult{Success: true, Identity: sessions.DeriveIdentity(current, enrichment)}, nil
	})
}
