package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/provider"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ provider.Client = (*Client)(nil)

const (
	defaultStorageKey    = "sb-auth-token"
	defaultRefreshMargin = 60 * time.Second
	defaultTimeout       = 10 * time.Second
	flowStateTTL         = 10 * time.Minute
)

// Client talks to a GoTrue-compatible auth API and persists the resulting session.
type Client struct {
	provider.Broadcaster

	baseURL       string
	apiKey        string
	httpClient    *http.Client
	storage       Storage
	storageKey    string
	refreshMargin time.Duration
	nowTime       func() time.Time
	logger        zerolog.Logger
	handoffs      map[string]*OIDCHandoff

	// refreshLock serialises token refreshes so a refresh token is only spent once.
	refreshLock sync.Mutex
}

// Option configures the Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithStorage replaces the default in-memory storage.
func WithStorage(s Storage) Option {
	return func(c *Client) {
		c.storage = s
	}
}

// WithStorageKey sets the key the session is stored under. Use one key per browser session when
// several clients share a Storage.
func WithStorageKey(key string) Option {
	return func(c *Client) {
		c.storageKey = key
	}
}

// WithRefreshMargin sets how long before expiry a session is refreshed.
func WithRefreshMargin(d time.Duration) Option {
	return func(c *Client) {
		c.refreshMargin = d
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithOIDCHandoff signs in with h's provider directly and trades the verified ID token for a
// session, instead of going through the auth server's own redirect.
func WithOIDCHandoff(h *OIDCHandoff) Option {
	return func(c *Client) {
		c.handoffs[h.Provider()] = h
	}
}

// New creates a client for the auth API at baseURL (e.g. https://xyz.supabase.co/auth/v1).
func New(baseURL, apiKey string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[gotrue.New] Base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, pkgerrors.Wrap(err, "[gotrue.New] invalid base URL")
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		storage:       NewMemoryStorage(),
		storageKey:    defaultStorageKey,
		refreshMargin: defaultRefreshMargin,
		nowTime:       time.Now,
		logger:        log.Logger,
		handoffs:      make(map[string]*OIDCHandoff),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// tokenResponse is the wire form of a session.
type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
	ExpiresAt    int64          `json:"expires_at"`
	RefreshToken string         `json:"refresh_token"`
	User         *provider.User `json:"user"`
}

func (t *tokenResponse) session(now time.Time) *provider.Session {
	s := &provider.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
		User:         t.User,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	default:
		s.ExpiryFromClaims()
	}
	return s
}

type errorResponse struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeAPIError(status int, body []byte) *provider.APIError {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	code := er.ErrorCode
	msg := er.Msg
	if msg == "" {
		msg = er.Message
	}
	if msg == "" {
		msg = er.ErrorDescription
	}
	if code == "" && er.Error == "invalid_grant" {
		code = autherrors.CodeInvalidCredentials
		if strings.Contains(strings.ToLower(msg), "email not confirmed") {
			code = autherrors.CodeEmailNotConfirmed
		}
	}
	if code == "" {
		code = er.Error
	}
	if code == "" {
		code = autherrors.CodeUnexpectedFailure
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return provider.NewAPIError(status, code, msg)
}

// do sends one API request. bearer defaults to the API key. A non-2xx response is returned as
// a *provider.APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeAPIError(resp.StatusCode, respBody)
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Str("code", apiErr.Code).Msg("auth api error")
		return apiErr
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return pkgerrors.Wrap(err, fmt.Sprintf("decode %s response", path))
	}
	return nil
}

func (c *Client) loadSession(ctx context.Context) (*provider.Session, error) {
	raw, ok, err := c.storage.Get(ctx, c.storageKey)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load session")
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var s provider.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		c.logger.Warn().Err(err).Msg("discarding unreadable stored session")
		_ = c.storage.Delete(ctx, c.storageKey)
		return nil, nil
	}
	return &s, nil
}

func (c *Client) saveSession(ctx context.Context, s *provider.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return pkgerrors.Wrap(err, "encode session")
	}
	return pkgerrors.Wrap(c.storage.Set(ctx, c.storageKey, string(raw), 0), "save session")
}

func (c *Client) removeSession(ctx context.Context) error {
	return pkgerrors.Wrap(c.storage.Delete(ctx, c.storageKey), "remove session")
}

// commit persists a new session and announces it.
func (c *Client) commit(ctx context.Context, tr *tokenResponse, kind provider.AuthEventKind) (*provider.Session, error) {
	if tr == nil || tr.AccessToken == "" {
		return nil, autherrors.Unknown(autherrors.ErrNoSession, "")
	}
	session := tr.session(c.nowTime())
	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	c.Emit(provider.AuthEvent{Kind: kind, Session: session})
	return session.Clone(), nil
}

// activeSession returns a non-expired session or the session-missing API error.
func (c *Client) activeSession(ctx context.Context) (*provider.Session, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, provider.NewAPIError(http.StatusUnauthorized, autherrors.CodeSessionMissing, "Auth session missing!")
	}
	return s, nil
}
