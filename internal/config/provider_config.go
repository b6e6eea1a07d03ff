package config

import "time"

// ProviderConfig locates the identity provider.
type ProviderConfig interface {
	GetAuthURL() string
	GetAuthAPIKey() string
	GetRefreshMargin() time.Duration
	GetMetadataTimeout() time.Duration
	GetOIDCProvider() string
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetOIDCClientSecret() string
}

type Provider struct{}

var _ ProviderConfig = Provider{}

// GetAuthURL returns the auth API base, e.g. "https://xyz.supabase.co/auth/v1". Empty selects
// the in-memory provider.
func (Provider) GetAuthURL() string {
	return GetEnv("AUTH_URL", "")
}

func (Provider) GetAuthAPIKey() string {
	return GetEnv("AUTH_API_KEY", "")
}

func (Provider) GetRefreshMargin() time.Duration {
	return getDuration("AUTH_REFRESH_MARGIN", time.Minute)
}

func (Provider) GetMetadataTimeout() time.Duration {
	return getDuration("AUTH_METADATA_TIMEOUT", 5*time.Second)
}

// GetOIDCProvider names the provider whose sign-in bypasses the auth server redirect, e.g.
// "google". Empty disables the direct handoff.
func (Provider) GetOIDCProvider() string {
	return GetEnv("OIDC_PROVIDER", "")
}

func (Provider) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "https://accounts.google.com")
}

func (Provider) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (Provider) GetOIDCClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}
