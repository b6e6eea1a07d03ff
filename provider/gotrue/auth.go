package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/provider"
	pkgerrors "github.com/pkg/errors"
)

// GetSession returns the stored session, refreshing it first when it is about to expire.
// A refresh rejected by the server removes the session and emits SIGNED_OUT.
func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	s, err := c.loadSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.Expired(c.nowTime(), c.refreshMargin) {
		return s, nil
	}
	return c.refresh(ctx, s.RefreshToken)
}

// RefreshSession forces a token refresh of the stored session.
func (c *Client) RefreshSession(ctx context.Context) (*provider.Session, error) {
	s, err := c.loadSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, provider.NewAPIError(http.StatusUnauthorized, autherrors.CodeSessionMissing, "Auth session missing!")
	}
	return c.refresh(ctx, s.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*provider.Session, error) {
	c.refreshLock.Lock()
	defer c.refreshLock.Unlock()

	// Another caller may have refreshed while this one waited.
	current, err := c.loadSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if current.RefreshToken != refreshToken && !current.Expired(c.nowTime(), c.refreshMargin) {
		return current, nil
	}

	var tr tokenResponse
	err = c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}},
		map[string]string{"refresh_token": current.RefreshToken}, "", &tr)
	if err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			c.logger.Info().Str("code", apiErr.Code).Msg("refresh token rejected, signing out")
			_ = c.removeSession(ctx)
			c.Emit(provider.AuthEvent{Kind: provider.EventSignedOut})
		}
		return nil, err
	}
	return c.commit(ctx, &tr, provider.EventTokenRefreshed)
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any, redirectTo string) (*provider.SignUpResult, error) {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", query, body, "", &raw); err != nil {
		return nil, err
	}

	// With autoconfirm the server returns a session, otherwise the bare user.
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err == nil && tr.AccessToken != "" {
		session, err := c.commit(ctx, &tr, provider.EventSignedIn)
		if err != nil {
			return nil, err
		}
		return &provider.SignUpResult{User: session.User, Session: session}, nil
	}
	var user provider.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, pkgerrors.Wrap(err, "decode signup user")
	}
	if user.ID == "" {
		return &provider.SignUpResult{}, nil
	}
	return &provider.SignUpResult{User: &user}, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	var tr tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}},
		map[string]string{"email": email, "password": password}, "", &tr)
	if err != nil {
		return nil, err
	}
	return c.commit(ctx, &tr, provider.EventSignedIn)
}

// SignOut revokes the session on the server and always removes it locally. A server that no
// longer knows the session is not an error.
func (c *Client) SignOut(ctx context.Context) error {
	s, loadErr := c.loadSession(ctx)

	var remoteErr error
	if s != nil {
		remoteErr = c.do(ctx, http.MethodPost, "/logout", url.Values{"scope": {"local"}}, nil, s.AccessToken, nil)
		var apiErr *provider.APIError
		if errors.As(remoteErr, &apiErr) {
			switch apiErr.Status {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				remoteErr = nil
			}
		}
	}

	if err := c.removeSession(ctx); err != nil {
		c.logger.Err(err).Msg("failed to remove stored session")
	}
	c.Emit(provider.AuthEvent{Kind: provider.EventSignedOut})

	if remoteErr != nil {
		return remoteErr
	}
	return loadErr
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	return c.do(ctx, http.MethodPost, "/recover", query, map[string]string{"email": email}, "", nil)
}

func (c *Client) UpdateUser(ctx context.Context, attrs provider.UserAttributes) (*provider.User, error) {
	s, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	var user provider.User
	if err := c.do(ctx, http.MethodPut, "/user", nil, attrs, s.AccessToken, &user); err != nil {
		return nil, err
	}
	s.User = &user
	if err := c.saveSession(ctx, s); err != nil {
		return nil, err
	}
	c.Emit(provider.AuthEvent{Kind: provider.EventUserUpdated, Session: s})
	return user.Clone(), nil
}

func (c *Client) VerifyOTP(ctx context.Context, email, token string, otpType provider.OTPType) (*provider.Session, error) {
	var tr tokenResponse
	body := map[string]string{"email": email, "token": token, "type": string(otpType)}
	if err := c.do(ctx, http.MethodPost, "/verify", nil, body, "", &tr); err != nil {
		return nil, err
	}
	kind := provider.EventSignedIn
	if otpType == provider.OTPTypeRecovery {
		kind = provider.EventPasswordRecovery
	}
	return c.commit(ctx, &tr, kind)
}

func (c *Client) Resend(ctx context.Context, otpType provider.OTPType, email string) error {
	return c.do(ctx, http.MethodPost, "/resend", nil, map[string]string{"type": string(otpType), "email": email}, "", nil)
}
