package sessions

import (
	"github.com/jrsteele09/go-fitness-auth/profiles"
	"github.com/jrsteele09/go-fitness-auth/provider"
)

// Enrichment is the profile data merged into an Identity.
type Enrichment struct {
	Name     string
	Language string
	Phone    string
}

// EnrichmentFromProfile returns nil for a nil profile.
func EnrichmentFromProfile(p *profiles.Profile) *Enrichment {
	if p == nil {
		return nil
	}
	return &Enrichment{Name: p.Name, Language: p.Language, Phone: p.Phone}
}

// Identity is the read-only view of the signed-in user.
type Identity struct {
	UserID         string                  `json:"user_id"`
	Email          string                  `json:"email"`
	Name           string                  `json:"name,omitempty"`
	AvatarURL      string                  `json:"avatar_url,omitempty"`
	Language       string                  `json:"language,omitempty"`
	Phone          string                  `json:"phone,omitempty"`
	EmailConfirmed bool                    `json:"email_confirmed"`
	AssuranceLevel provider.AssuranceLevel `json:"aal"`
}

// DeriveIdentity builds the identity for session. Profile fields take precedence over user metadata.
func DeriveIdentity(session *provider.Session, e *Enrichment) *Identity {
	if session == nil || session.User == nil {
		return nil
	}
	u := session.User
	id := &Identity{
		UserID:         u.ID,
		Email:          u.Email,
		Name:           u.MetadataString("full_name"),
		AvatarURL:      u.MetadataString("avatar_url"),
		Language:       u.MetadataString("language"),
		Phone:          u.MetadataString("phone"),
		EmailConfirmed: u.Confirmed(),
		AssuranceLevel: session.AssuranceLevel(),
	}
	if id.Name == "" {
		id.Name = u.MetadataString("name")
	}
	if id.Phone == "" {
		id.Phone = u.Phone
	}
	if e != nil {
		if e.Name != "" {
			id.Name = e.Name
		}
		if e.Language != "" {
			id.Language = e.Language
		}
		if e.Phone != "" {
			id.Phone = e.Phone
		}
	}
	return id
}
