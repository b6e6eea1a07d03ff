package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-fitness-auth/authclient"
	"github.com/jrsteele09/go-fitness-auth/internal/config"
	fakeprofilerepo "github.com/jrsteele09/go-fitness-auth/profiles/repofake"
	fakeprovider "github.com/jrsteele09/go-fitness-auth/provider/repofake"
	"github.com/jrsteele09/go-fitness-auth/server"
	"github.com/jrsteele09/go-fitness-auth/server/clientsession"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "runner@example.com"
	testPassword = "secret1"
)

// testFixture holds all test dependencies
type testFixture struct {
	provider *fakeprovider.FakeProvider
	profiles *fakeprofilerepo.FakeProfileRepo
	sessions *clientsession.InMemoryRepo
	server   *httptest.Server
	browser  *http.Client

	clientsBuilt atomic.Int32
	buildDelay   atomic.Int64
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("SECURE_COOKIES", "false")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CORS_ORIGINS", "https://app.example.com")

	cfg, err := config.New()
	require.NoError(t, err)

	f := &testFixture{
		provider: fakeprovider.NewFakeProvider(),
		profiles: fakeprofilerepo.NewFakeProfileRepo(),
		sessions: clientsession.NewInMemoryRepo(time.Hour),
	}
	t.Cleanup(f.sessions.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	factory := func(ctx context.Context, sessionID string) (*authclient.Client, error) {
		f.clientsBuilt.Add(1)
		time.Sleep(time.Duration(f.buildDelay.Load()))
		return authclient.New(ctx, f.provider, f.profiles,
			authclient.WithLogger(zerolog.Nop()),
			authclient.WithSiteURL("https://app.example.com"))
	}
	srv, err := server.New(ctx, cfg, f.sessions, factory)
	require.NoError(t, err)

	f.server = httptest.NewServer(srv)
	t.Cleanup(f.server.Close)
	f.browser = f.newBrowser(t)
	return f
}

// newBrowser returns a client with its own cookie jar that does not follow redirects.
func (f *testFixture) newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (f *testFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := f.browser.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *testFixture) send(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.browser.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorOf(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body := decode(t, resp)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected an error body, got %v", body)
	return e
}

// signUpAndVerify registers testEmail and confirms it with the emailed code, leaving the
// browser signed in.
func (f *testFixture) signUpAndVerify(t *testing.T) {
	t.Helper()
	resp := f.send(t, http.MethodPost, server.RouteAPISignUp, map[string]string{
		"email": testEmail, "password": testPassword, "confirm_password": testPassword, "name": "Alex Runner",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, decode(t, resp)["requires_email_verification"])

	token, ok := f.provider.PendingConfirmation(testEmail)
	require.True(t, ok)
	resp = f.send(t, http.MethodPost, server.RouteAPIVerifyEmail, map[string]string{"email": testEmail, "token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_Validation(t *testing.T) {
	cfg, err := config.New()
	require.NoError(t, err)
	repo := clientsession.NewInMemoryRepo(time.Minute)
	factory := func(ctx context.Context, sessionID string) (*authclient.Client, error) { return nil, nil }

	_, err = server.New(context.Background(), nil, repo, factory)
	require.Error(t, err)
	_, err = server.New(context.Background(), cfg, nil, factory)
	require.Error(t, err)
	_, err = server.New(context.Background(), cfg, repo, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := setupTestFixture(t)
	resp := f.get(t, server.RouteHealth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPages(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.get(t, "/about")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode(t, resp)
	require.Equal(t, "render", page["outcome"])
	require.Equal(t, "public", page["access"])
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp = f.get(t, "/dashboard")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/auth/signin", resp.Header.Get("Location"))

	resp = f.get(t, "/not-a-page")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	// One client per browser, reused across requests.
	require.Equal(t, 1, f.sessions.Len())
}

func TestSignUpVerifyAndSignOut(t *testing.T) {
	f := setupTestFixture(t)
	f.signUpAndVerify(t)

	resp := f.get(t, server.RouteAPISession)
	session := decode(t, resp)
	require.Equal(t, true, session["authenticated"])
	identity := session["identity"].(map[string]any)
	require.Equal(t, testEmail, identity["email"])
	require.NotContains(t, session, "access_token")

	resp = f.get(t, "/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.send(t, http.MethodPost, server.RouteAPISignOut, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, decode(t, resp)["signed_out"])

	resp = f.get(t, "/dashboard")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestSignOutWarningWhenRemoteFails(t *testing.T) {
	f := setupTestFixture(t)
	f.signUpAndVerify(t)

	f.provider.FailNext("SignOut", &url.Error{Op: "Post", URL: "https://auth.example.com/logout", Err: context.DeadlineExceeded})
	resp := f.send(t, http.MethodPost, server.RouteAPISignOut, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, true, body["signed_out"])
	require.Equal(t, "network", body["warning"].(map[string]any)["kind"])

	session := decode(t, f.get(t, server.RouteAPISession))
	require.Equal(t, false, session["authenticated"])
}

func TestSignInErrors(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.send(t, http.MethodPost, server.RouteAPISignIn, map[string]string{"email": "", "password": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation", errorOf(t, resp)["kind"])

	resp = f.send(t, http.MethodPost, server.RouteAPISignIn, map[string]string{"email": testEmail, "password": "wrong-password"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := errorOf(t, resp)
	require.Equal(t, "provider", e["kind"])
	require.Equal(t, "invalid_credentials", e["code"])

	req, err := http.NewRequest(http.MethodPost, f.server.URL+server.RouteAPISignIn, bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err = f.browser.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperationReflectsLatestAction(t *testing.T) {
	f := setupTestFixture(t)
	f.send(t, http.MethodPost, server.RouteAPISignIn, map[string]string{"email": testEmail, "password": "wrong-password"})

	op := decode(t, f.get(t, server.RouteAPIOperation))
	require.Equal(t, "sign_in", op["kind"])
	require.Equal(t, false, op["pending"])
	require.Equal(t, "invalid_credentials", op["error"].(map[string]any)["code"])

	// Navigating clears the displayed outcome.
	f.get(t, "/auth/signin")
	op = decode(t, f.get(t, server.RouteAPIOperation))
	require.Empty(t, op["kind"])
}

func TestOAuthCallback(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.send(t, http.MethodPost, "/api/auth/oauth/google", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	start := decode(t, resp)
	authURL, err := url.Parse(start["url"].(string))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.Equal(t, "https://app.example.com/auth/callback", authURL.Query().Get("redirect_to"))

	code, err := f.provider.ApproveOAuth(state, testEmail, "Alex Runner")
	require.NoError(t, err)

	resp = f.get(t, "/auth/callback?"+url.Values{"code": {code}, "state": {state}}.Encode())
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
	require.Equal(t, 1, f.profiles.Count())

	session := decode(t, f.get(t, server.RouteAPISession))
	require.Equal(t, true, session["authenticated"])
}

func TestOAuthCallbackErrors(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.get(t, "/auth/callback?error=access_denied&error_description=User+cancelled")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/auth/signin", loc.Path)
	require.Equal(t, "User cancelled", loc.Query().Get("error"))

	resp = f.get(t, "/auth/callback?state=abc")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Location"), "/auth/signin?error=")
}

func TestPasswordRecoveryLink(t *testing.T) {
	f := setupTestFixture(t)
	f.signUpAndVerify(t)
	f.send(t, http.MethodPost, server.RouteAPISignOut, nil)

	resp := f.send(t, http.MethodPost, server.RouteAPIPasswordReset, map[string]string{"email": testEmail})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sent := f.provider.SentEmails()
	token := sent[len(sent)-1].Token

	// A recovery link on any page goes to the reset page first.
	resp = f.get(t, "/dashboard?"+url.Values{"token": {token}, "type": {"recovery"}}.Encode())
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	location := resp.Header.Get("Location")
	require.Contains(t, location, "/auth/reset-password?")

	resp = f.get(t, location)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode(t, resp)
	require.Nil(t, page["error"])
	require.Equal(t, true, page["session"].(map[string]any)["authenticated"])

	resp = f.send(t, http.MethodPost, server.RouteAPIPasswordUpdate, map[string]string{"password": "new-secret", "confirm_password": "new-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, decode(t, resp)["requires_reauthentication"])

	resp = f.send(t, http.MethodPost, server.RouteAPISignIn, map[string]string{"email": testEmail, "password": "new-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignOutPage(t *testing.T) {
	f := setupTestFixture(t)
	f.signUpAndVerify(t)

	resp := f.get(t, server.RouteSignOut)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/auth/signin", resp.Header.Get("Location"))

	session := decode(t, f.get(t, server.RouteAPISession))
	require.Equal(t, false, session["authenticated"])
}

func TestCorsPreflight(t *testing.T) {
	f := setupTestFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.server.URL+server.RouteAPISignIn, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := f.browser.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := f.browser.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestExpiredClientIsRecreatedUnderSameCookie(t *testing.T) {
	f := setupTestFixture(t)
	f.get(t, "/about")
	u, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	cookies := f.browser.Jar.Cookies(u)
	require.Len(t, cookies, 1)

	f.sessions.Close()
	require.Zero(t, f.sessions.Len())

	f.get(t, "/about")
	require.Equal(t, 1, f.sessions.Len())
	require.Equal(t, cookies[0].Value, f.browser.Jar.Cookies(u)[0].Value)
}

func TestConcurrentFirstRequestsShareOneClient(t *testing.T) {
	f := setupTestFixture(t)
	f.buildDelay.Store(int64(20 * time.Millisecond))

	u, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	sessionID := "6f1c2a4e-8b1d-4c53-9a0e-3d2f5b7c9e10"
	f.browser.Jar.SetCookies(u, []*http.Cookie{{Name: server.SessionCookieName, Value: sessionID, Path: "/"}})

	const requests = 6
	statuses := make([]int, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.browser.Get(f.server.URL + server.RouteAPISession)
			if err != nil {
				return
			}
			statuses[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for _, status := range statuses {
		require.Equal(t, http.StatusOK, status)
	}
	require.Equal(t, int32(1), f.clientsBuilt.Load())
	require.Equal(t, 1, f.sessions.Len())

	// The shared client keeps what happens on it.
	f.signUpAndVerify(t)
	resp := f.get(t, server.RouteAPISession)
	require.Equal(t, true, decode(t, resp)["authenticated"])
	require.Equal(t, int32(1), f.clientsBuilt.Load())
}
