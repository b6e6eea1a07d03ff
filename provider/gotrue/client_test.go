package gotrue_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"github.com/jrsteele09/go-fitness-auth/provider/gotrue"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   map[string]any
}

// fakeAuthAPI routes requests by "METHOD /path?grant_type" to handlers set by each test.
type fakeAuthAPI struct {
	lock     sync.Mutex
	handlers map[string]func(w http.ResponseWriter, r recordedRequest)
	requests []recordedRequest
}

func (f *fakeAuthAPI) handle(key string, fn func(w http.ResponseWriter, r recordedRequest)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.handlers[key] = fn
}

func (f *fakeAuthAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone()}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	key := r.Method + " " + r.URL.Path
	if gt := r.URL.Query().Get("grant_type"); gt != "" {
		key += "?" + gt
	}

	f.lock.Lock()
	f.requests = append(f.requests, rec)
	fn, ok := f.handlers[key]
	f.lock.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "error_code": "not_found", "msg": "no handler for " + key})
		return
	}
	fn(w, rec)
}

func (f *fakeAuthAPI) count(method, path string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testFixture struct {
	api    *fakeAuthAPI
	server *httptest.Server
	client *gotrue.Client
	now    time.Time
	events []provider.AuthEventKind
	lock   sync.Mutex
}

func (f *testFixture) eventKinds() []provider.AuthEventKind {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]provider.AuthEventKind{}, f.events...)
}

func (f *testFixture) tokenBody(access, refresh string, expiresAt time.Time) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    expiresAt.Unix(),
		"refresh_token": refresh,
		"user":          map[string]any{"id": "user-1", "email": "ana@example.com", "email_confirmed_at": f.now.Format(time.RFC3339)},
	}
}

func setupTestFixture(t *testing.T, opts ...gotrue.Option) *testFixture {
	t.Helper()
	f := &testFixture{
		api: &fakeAuthAPI{handlers: make(map[string]func(http.ResponseWriter, recordedRequest))},
		now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.server = httptest.NewServer(f.api)
	t.Cleanup(f.server.Close)

	options := append([]gotrue.Option{gotrue.WithNowTime(func() time.Time { return f.now })}, opts...)
	client, err := gotrue.New(f.server.URL+"/auth/v1", "anon-key", options...)
	require.NoError(t, err)
	f.client = client

	sub := client.OnAuthStateChange(func(ev provider.AuthEvent) {
		f.lock.Lock()
		defer f.lock.Unlock()
		f.events = append(f.events, ev.Kind)
	})
	t.Cleanup(sub.Unsubscribe)
	return f
}

func TestNew(t *testing.T) {
	_, err := gotrue.New("", "key")
	require.Error(t, err)
	_, err = gotrue.New("not a url", "key")
	require.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	f := setupTestFixture(t)
	f.api.handle("POST /auth/v1/token?password", func(w http.ResponseWriter, r recordedRequest) {
		require.Equal(t, "anon-key", r.Header.Get("apikey"))
		require.Equal(t, "ana@example.com", r.Body["email"])
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
	})

	session, err := f.client.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.NoError(t, err)
	require.Equal(t, "access-1", session.AccessToken)
	require.Equal(t, "user-1", session.UserID())
	require.Equal(t, f.now.Add(time.Hour).Unix(), session.ExpiresAt.Unix())
	require.Equal(t, []provider.AuthEventKind{provider.EventSignedIn}, f.eventKinds())

	stored, err := f.client.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", stored.AccessToken)
}

func TestSignInErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       map[string]any
		wantCode   string
		wantStatus int
	}{
		{
			name:       "current error shape",
			status:     http.StatusBadRequest,
			body:       map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"},
			wantCode:   autherrors.CodeInvalidCredentials,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "legacy invalid grant",
			status:     http.StatusBadRequest,
			body:       map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"},
			wantCode:   autherrors.CodeInvalidCredentials,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "legacy unconfirmed email",
			status:     http.StatusBadRequest,
			body:       map[string]any{"error": "invalid_grant", "error_description": "Email not confirmed"},
			wantCode:   autherrors.CodeEmailNotConfirmed,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			status:     http.StatusBadGateway,
			wantCode:   autherrors.CodeUnexpectedFailure,
			wantStatus: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.api.handle("POST /auth/v1/token?password", func(w http.ResponseWriter, r recordedRequest) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			_, err := f.client.SignInWithPassword(context.Background(), "ana@example.com", "wrong")
			require.Error(t, err)
			var apiErr *provider.APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.wantCode, apiErr.Code)
			require.Equal(t, tt.wantStatus, apiErr.Status)
			require.Empty(t, f.eventKinds())
		})
	}
}

func TestSignUpShapes(t *testing.T) {
	t.Run("confirmation required returns bare user", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.handle("POST /auth/v1/signup", func(w http.ResponseWriter, r recordedRequest) {
			require.Equal(t, "https://app.example.com/verify", r.Query.Get("redirect_to"))
			data, _ := r.Body["data"].(map[string]any)
			require.Equal(t, "Ana Lima", data["full_name"])
			writeJSON(w, http.StatusOK, map[string]any{"id": "user-2", "email": "ana@example.com", "identities": []any{map[string]any{"id": "i1", "provider": "email"}}})
		})

		res, err := f.client.SignUp(context.Background(), "ana@example.com", "secret-pass",
			map[string]any{"full_name": "Ana Lima"}, "https://app.example.com/verify")
		require.NoError(t, err)
		require.Nil(t, res.Session)
		require.Equal(t, "user-2", res.User.ID)
		require.Len(t, res.User.Identities, 1)
		require.Empty(t, f.eventKinds())
	})

	t.Run("autoconfirm returns session", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.handle("POST /auth/v1/signup", func(w http.ResponseWriter, r recordedRequest) {
			writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
		})

		res, err := f.client.SignUp(context.Background(), "ana@example.com", "secret-pass", nil, "")
		require.NoError(t, err)
		require.NotNil(t, res.Session)
		require.Equal(t, "user-1", res.User.ID)
		require.Equal(t, []provider.AuthEventKind{provider.EventSignedIn}, f.eventKinds())
	})
}

func TestGetSessionRefreshesNearExpiry(t *testing.T) {
	f := setupTestFixture(t, gotrue.WithRefreshMargin(time.Minute))
	f.api.handle("POST /auth/v1/token?password", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(30*time.Second)))
	})
	f.api.handle("POST /auth/v1/token?refresh_token", func(w http.ResponseWriter, r recordedRequest) {
		require.Equal(t, "refresh-1", r.Body["refresh_token"])
		writeJSON(w, http.StatusOK, f.tokenBody("access-2", "refresh-2", f.now.Add(time.Hour)))
	})

	_, err := f.client.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.NoError(t, err)

	session, err := f.client.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", session.AccessToken)
	require.Equal(t, []provider.AuthEventKind{provider.EventSignedIn, provider.EventTokenRefreshed}, f.eventKinds())

	// Fresh session, no further refresh.
	_, err = f.client.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.api.count(http.MethodPost, "/auth/v1/token"))
}

func TestRejectedRefreshSignsOut(t *testing.T) {
	f := setupTestFixture(t)
	f.api.handle("POST /auth/v1/token?password", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
	})
	f.api.handle("POST /auth/v1/token?refresh_token", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token"})
	})

	_, err := f.client.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.NoError(t, err)

	_, err = f.client.RefreshSession(context.Background())
	require.Error(t, err)
	require.Equal(t, []provider.AuthEventKind{provider.EventSignedIn, provider.EventSignedOut}, f.eventKinds())

	session, err := f.client.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestSignOutClearsLocallyOnServerFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.api.handle("POST /auth/v1/token?password", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
	})
	f.api.handle("POST /auth/v1/logout", func(w http.ResponseWriter, r recordedRequest) {
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		require.Equal(t, "local", r.Query.Get("scope"))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": 500, "msg": "boom"})
	})

	_, err := f.client.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.NoError(t, err)

	err = f.client.SignOut(context.Background())
	require.Error(t, err)
	require.Equal(t, []provider.AuthEventKind{provider.EventSignedIn, provider.EventSignedOut}, f.eventKinds())

	session, err := f.client.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestSignOutIgnoresUnknownSession(t *testing.T) {
	f := setupTestFixture(t)
	f.api.handle("POST /auth/v1/token?password", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
	})
	f.api.handle("POST /auth/v1/logout", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "error_code": "session_not_found", "msg": "Session not found"})
	})

	_, err := f.client.SignInWithPassword(context.Background(), "ana@example.com", "secret-pass")
	require.NoError(t, err)
	require.NoError(t, f.client.SignOut(context.Background()))
}

func TestUpdateUserRequiresSession(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.client.UpdateUser(context.Background(), provider.UserAttributes{Password: "another-pass"})
	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, autherrors.CodeSessionMissing, apiErr.Code)
}

func TestVerifyRecoveryEmitsPasswordRecovery(t *testing.T) {
	f := setupTestFixture(t)
	f.api.handle("POST /auth/v1/verify", func(w http.ResponseWriter, r recordedRequest) {
		require.Equal(t, "recovery", r.Body["type"])
		require.Equal(t, "123456", r.Body["token"])
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
	})

	session, err := f.client.VerifyOTP(context.Background(), "ana@example.com", "123456", provider.OTPTypeRecovery)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, []provider.AuthEventKind{provider.EventPasswordRecovery}, f.eventKinds())
}

func TestOAuthPKCEFlow(t *testing.T) {
	f := setupTestFixture(t)
	var challenge string
	f.api.handle("POST /auth/v1/token?pkce", func(w http.ResponseWriter, r recordedRequest) {
		require.Equal(t, "auth-code", r.Body["auth_code"])
		verifier, _ := r.Body["code_verifier"].(string)
		require.Equal(t, challenge, oauth2.S256ChallengeFromVerifier(verifier))
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
	})

	redirect, err := f.client.SignInWithOAuth(context.Background(), "google", "https://app.example.com/auth/callback")
	require.NoError(t, err)
	require.NotEmpty(t, redirect.State)

	authURL, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	require.Equal(t, "/auth/v1/authorize", authURL.Path)
	q := authURL.Query()
	require.Equal(t, "google", q.Get("provider"))
	require.Equal(t, "s256", q.Get("code_challenge_method"))
	require.Contains(t, q.Get("redirect_to"), "state="+redirect.State)
	challenge = q.Get("code_challenge")

	session, err := f.client.ExchangeCodeForSession(context.Background(), "auth-code", redirect.State)
	require.NoError(t, err)
	require.Equal(t, "access-1", session.AccessToken)
	require.Equal(t, []provider.AuthEventKind{provider.EventSignedIn}, f.eventKinds())

	// State is single use.
	_, err = f.client.ExchangeCodeForSession(context.Background(), "auth-code", redirect.State)
	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, autherrors.CodeBadOAuthState, apiErr.Code)
}

func TestOAuthRequiresProvider(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.client.SignInWithOAuth(context.Background(), "", "https://app.example.com/auth/callback")
	require.Equal(t, autherrors.KindValidation, autherrors.KindOf(err))
}

func TestMFAEnrollChallengeVerify(t *testing.T) {
	f := setupTestFixture(t)
	f.api.handle("POST /auth/v1/token?password", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusOK, f.tokenBody("access-1", "refresh-1", f.now.Add(time.Hour)))
	})
	f.api.handle("POST /auth/v1/factors", func(w http.ResponseWriter, r recordedRequest) {
		require.Equal(t, "totp", r.Body["factor_type"])
		writeJSON(w, http.StatusOK, map[string]any{
			"id":   "factor-1",
			"type": "totp",
			"totp": map[string]any{"secret": "ABC", "qr_code": "data:image/svg+xml;utf-8,<svg/>", "uri": "otpauth://totp/x"},
		})
	})
	f.api.handle("POST /auth/v1/factors/factor-1/challenge", func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "challenge-1", "expires_at": f.now.Add(5 * time.Minute).Unix()})
	})
	f.api.handle("POST /auth/v1/factors/factor-1/verify", func(w http.ResponseWriter, r recordedRequest) {
		require.Equal(t, "challenge-1", r.Body["challenge_id"])
		if r.Body["code"] != "123456" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "mfa_verification_failed", "msg": "Invalid TOTP code entered"})
			return
		}
		writeJSON(w, http.StatusOK, f.tokenBody("access-2", "refresh-2", f.now.Add(time.Hour)))
	})

	ctx := context.Background()
	_, err := f.client.SignInWithPassword(ctx, "ana@example.com", "secret-pass")
	require.NoError(t, err)

	enrollment, err := f.client.MFAEnroll(ctx, provider.FactorTypeTOTP)
	require.NoError(t, err)
	require.Equal(t, "factor-1", enrollment.ID)
	require.Equal(t, "ABC", enrollment.Secret)
	require.Equal(t, "otpauth://totp/x", enrollment.URI)

	challenge, err := f.client.MFAChallenge(ctx, enrollment.ID)
	require.NoError(t, err)
	require.Equal(t, "challenge-1", challenge.ID)
	require.Equal(t, "factor-1", challenge.FactorID)

	_, err = f.client.MFAVerify(ctx, enrollment.ID, challenge.ID, "000000")
	require.Equal(t, autherrors.CodeMFAVerificationFailed, autherrors.CodeOf(err))

	session, err := f.client.MFAVerify(ctx, enrollment.ID, challenge.ID, "123456")
	require.NoError(t, err)
	require.Equal(t, "access-2", session.AccessToken)
	require.Equal(t, []provider.AuthEventKind{provider.EventSignedIn, provider.EventMFAChallengeVerified}, f.eventKinds())
}
