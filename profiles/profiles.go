package profiles

import (
	"context"
	"strings"
	"time"
)

// DefaultLanguage is stored when a profile is created or updated without a language.
const DefaultLanguage = "en"

// Profile is the application-side user record, keyed by the identity provider's user id.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Language  string    `json:"language,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update is the set of editable profile fields.
type Update struct {
	FirstName string
	LastName  string
	Language  string
	Phone     string
}

// Name joins the first and last name.
func (u Update) Name() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// LanguageOrDefault returns the language, or DefaultLanguage when empty.
func (u Update) LanguageOrDefault() string {
	if u.Language == "" {
		return DefaultLanguage
	}
	return u.Language
}

// Repo stores profiles.
type Repo interface {
	// Get returns errors.ErrNotFound when no profile exists for id.
	Get(ctx context.Context, id string) (*Profile, error)
	// Create inserts p if no profile with the same id exists. created is false when
	// a concurrent or earlier insert won; that is not an error.
	Create(ctx context.Context, p *Profile) (created bool, err error)
	// Update overwrites the editable fields. It returns errors.ErrNotFound when no profile exists.
	Update(ctx context.Context, id string, u Update) (*Profile, error)
}
