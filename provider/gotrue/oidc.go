package gotrue

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCHandoff runs the authorization-code flow against an external OpenID provider and returns
// a verified ID token for the auth server's id_token grant.
type OIDCHandoff struct {
	provider    string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
}

// NewOIDCHandoff discovers issuer's endpoints and keys.
func NewOIDCHandoff(ctx context.Context, providerName, issuer, clientID, clientSecret, redirectURL string) (*OIDCHandoff, error) {
	if providerName == "" || issuer == "" || clientID == "" || redirectURL == "" {
		return nil, errors.New("oidc handoff config missing required fields")
	}
	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init %s oidc provider: %w", providerName, err)
	}
	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     oidcProvider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	return NewOIDCHandoffWithVerifier(providerName, oauthCfg, oidcProvider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewOIDCHandoffWithVerifier builds a handoff from explicit endpoints and verifier.
func NewOIDCHandoffWithVerifier(providerName string, oauthCfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *OIDCHandoff {
	return &OIDCHandoff{provider: providerName, oauthConfig: oauthCfg, verifier: verifier}
}

func (h *OIDCHandoff) Provider() string {
	return h.provider
}

// AuthCodeURL builds the authorization URL with PKCE and nonce.
func (h *OIDCHandoff) AuthCodeURL(state, nonce, codeVerifier string) string {
	return h.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

// Exchange trades code for tokens and returns the raw ID token once its signature, audience,
// expiry and nonce check out.
func (h *OIDCHandoff) Exchange(ctx context.Context, code, codeVerifier, nonce string) (string, error) {
	token, err := h.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return "", fmt.Errorf("%s token exchange failed: %w", h.provider, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("%s did not return id_token", h.provider)
	}
	idToken, err := h.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("%s id_token verification failed: %w", h.provider, err)
	}
	if idToken.Nonce != nonce {
		return "", fmt.Errorf("%s id_token nonce mismatch", h.provider)
	}
	return rawIDToken, nil
}
