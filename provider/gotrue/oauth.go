package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/provider"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// flowState is what must survive the browser round trip of an OAuth sign-in.
type flowState struct {
	Provider     string `json:"provider"`
	CodeVerifier string `json:"code_verifier"`
	Nonce        string `json:"nonce,omitempty"`
	Direct       bool   `json:"direct,omitempty"`
}

func flowKey(state string) string {
	return "oauth-flow:" + state
}

// SignInWithOAuth returns the URL that starts an OAuth sign-in with providerName. The flow uses
// PKCE; the state returned with the callback selects the stored verifier. redirectTo is where the
// browser comes back with ?code=...&state=....
func (c *Client) SignInWithOAuth(ctx context.Context, providerName, redirectTo string) (*provider.OAuthRedirect, error) {
	if providerName == "" {
		return nil, autherrors.Validation(autherrors.ErrOAuthProviderRequired, "Please choose a sign-in provider")
	}
	state := uuid.NewString()
	fs := flowState{Provider: providerName, CodeVerifier: oauth2.GenerateVerifier()}

	var authURL string
	if h, ok := c.handoffs[providerName]; ok {
		fs.Direct = true
		fs.Nonce = uuid.NewString()
		authURL = h.AuthCodeURL(state, fs.Nonce, fs.CodeVerifier)
	} else {
		callback, err := withState(redirectTo, state)
		if err != nil {
			return nil, err
		}
		q := url.Values{}
		q.Set("provider", providerName)
		q.Set("redirect_to", callback)
		q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(fs.CodeVerifier))
		q.Set("code_challenge_method", "s256")
		authURL = c.baseURL + "/authorize?" + q.Encode()
	}

	raw, err := json.Marshal(fs)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encode flow state")
	}
	if err := c.storage.Set(ctx, flowKey(state), string(raw), flowStateTTL); err != nil {
		return nil, pkgerrors.Wrap(err, "store flow state")
	}
	return &provider.OAuthRedirect{Provider: providerName, URL: authURL, State: state}, nil
}

// ExchangeCodeForSession completes a sign-in started by SignInWithOAuth. Each state can be
// exchanged once.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code, state string) (*provider.Session, error) {
	raw, ok, err := c.storage.Get(ctx, flowKey(state))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load flow state")
	}
	if !ok {
		return nil, provider.NewAPIError(http.StatusBadRequest, autherrors.CodeBadOAuthState, "OAuth state parameter missing or invalid")
	}
	_ = c.storage.Delete(ctx, flowKey(state))

	var fs flowState
	if err := json.Unmarshal([]byte(raw), &fs); err != nil {
		return nil, pkgerrors.Wrap(err, "decode flow state")
	}

	var tr tokenResponse
	if fs.Direct {
		h, ok := c.handoffs[fs.Provider]
		if !ok {
			return nil, provider.NewAPIError(http.StatusBadRequest, autherrors.CodeBadOAuthState, "OAuth provider is no longer configured")
		}
		idToken, err := h.Exchange(ctx, code, fs.CodeVerifier, fs.Nonce)
		if err != nil {
			return nil, err
		}
		body := map[string]string{"provider": fs.Provider, "id_token": idToken, "nonce": fs.Nonce}
		if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"id_token"}}, body, "", &tr); err != nil {
			return nil, err
		}
	} else {
		body := map[string]string{"auth_code": code, "code_verifier": fs.CodeVerifier}
		if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}}, body, "", &tr); err != nil {
			return nil, err
		}
	}
	return c.commit(ctx, &tr, provider.EventSignedIn)
}

func withState(redirectTo, state string) (string, error) {
	u, err := url.Parse(redirectTo)
	if err != nil {
		return "", autherrors.Validation(err, "Invalid redirect URL")
	}
	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
