package fakeprovider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/internal/utils"
	"github.com/jrsteele09/go-fitness-auth/provider"
	"golang.org/x/crypto/bcrypt"
)

var _ provider.Client = (*FakeProvider)(nil)

const (
	accessTokenTTL   = time.Hour
	challengeTTL     = 5 * time.Minute
	resendInterval   = 60 * time.Second
	minPasswordChars = 6
	authorizeURL     = "https://auth.fake.local/authorize"
)

type fakeUser struct {
	user         provider.User
	passwordHash []byte
	secrets      map[string]string // factorID -> base32 TOTP secret
}

type challengeRecord struct {
	challenge provider.Challenge
	userID    string
	consumed  bool
}

// FakeProvider is an in-memory identity provider with GoTrue semantics.
type FakeProvider struct {
	provider.Broadcaster

	lock            sync.Mutex
	users           map[string]*fakeUser
	emailIDs        map[string]string
	current         *provider.Session
	refreshTokens   map[string]string // refresh token -> user id
	challenges      map[string]*challengeRecord
	latestChallenge map[string]string // factor id -> newest challenge id
	otpTokens       map[string]string // email -> pending confirmation code
	recoveryTokens  map[string]string // token -> email
	oauthStates     map[string]string // state -> provider
	oauthCodes      map[string]string // code -> user id
	lastResend      map[string]time.Time
	sentEmails      []SentEmail
	failures        map[string][]error
	calls           map[string]int

	signingKey            []byte
	autoConfirm           bool
	allowUnconfirmedLogin bool
	nowTime               func() time.Time
}

// SentEmail records a message the provider would have delivered.
type SentEmail struct {
	Kind       string
	To         string
	Token      string
	RedirectTo string
}

// Option configures the FakeProvider.
type Option func(*FakeProvider)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(fp *FakeProvider) {
		fp.nowTime = nowFunc
	}
}

// WithAutoConfirm makes sign-up return a confirmed user and a session.
func WithAutoConfirm() Option {
	return func(fp *FakeProvider) {
		fp.autoConfirm = true
	}
}

// WithUnconfirmedLogin lets unconfirmed users obtain a session, leaving the confirmation check to the client.
func WithUnconfirmedLogin() Option {
	return func(fp *FakeProvider) {
		fp.allowUnconfirmedLogin = true
	}
}

// NewFakeProvider creates an empty provider.
func NewFakeProvider(options ...Option) *FakeProvider {
	fp := &FakeProvider{
		users:           make(map[string]*fakeUser),
		emailIDs:        make(map[string]string),
		refreshTokens:   make(map[string]string),
		challenges:      make(map[string]*challengeRecord),
		latestChallenge: make(map[string]string),
		otpTokens:       make(map[string]string),
		recoveryTokens:  make(map[string]string),
		oauthStates:     make(map[string]string),
		oauthCodes:      make(map[string]string),
		lastResend:      make(map[string]time.Time),
		failures:        make(map[string][]error),
		calls:           make(map[string]int),
		signingKey:      []byte(uuid.NewString()),
		nowTime:         time.Now,
	}
	for _, opt := range options {
		opt(fp)
	}
	return fp
}

// FailNext queues err as the result of the next call to method.
func (fp *FakeProvider) FailNext(method string, err error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.failures[method] = append(fp.failures[method], err)
}

// Calls returns how many times method was invoked.
func (fp *FakeProvider) Calls(method string) int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.calls[method]
}

// begin records the call and pops a queued failure. Caller must hold the lock.
func (fp *FakeProvider) begin(method string) error {
	fp.calls[method]++
	queued := fp.failures[method]
	if len(queued) == 0 {
		return nil
	}
	fp.failures[method] = queued[1:]
	return queued[0]
}

func (fp *FakeProvider) GetSession(ctx context.Context) (*provider.Session, error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	if err := fp.begin("GetSession"); err != nil {
		return nil, err
	}
	return fp.current.Clone(), nil
}

func (fp *FakeProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any, redirectTo string) (*provider.SignUpResult, error) {
	fp.lock.Lock()
	if err := fp.begin("SignUp"); err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	email = normaliseEmail(email)
	if len(password) < minPasswordChars {
		fp.lock.Unlock()
		return nil, provider.NewAPIError(http.StatusUnprocessableEntity, autherrors.CodeWeakPassword, "Password should be at least 6 characters.")
	}

	if id, ok := fp.emailIDs[email]; ok {
		existing := fp.users[id]
		if existing.user.Confirmed() {
			// Existing confirmed accounts are obfuscated: same shape, no identities, no session.
			obfuscated := provider.User{
				ID:           uuid.NewString(),
				Email:        email,
				UserMetadata: metadata,
				Identities:   []provider.UserIdentity{},
				CreatedAt:    fp.nowTime(),
				UpdatedAt:    fp.nowTime(),
			}
			fp.lock.Unlock()
			return &provider.SignUpResult{User: &obfuscated}, nil
		}
		fp.queueConfirmation(email, redirectTo)
		u := existing.user
		fp.lock.Unlock()
		return &provider.SignUpResult{User: &u}, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	now := fp.nowTime()
	id := uuid.NewString()
	fu := &fakeUser{
		user: provider.User{
			ID:           id,
			Aud:          "authenticated",
			Role:         "authenticated",
			Email:        email,
			UserMetadata: copyMetadata(metadata),
			AppMetadata:  map[string]any{"provider": "email", "providers": []string{"email"}},
			Identities: []provider.UserIdentity{{
				ID:           uuid.NewString(),
				UserID:       id,
				Provider:     "email",
				IdentityData: map[string]any{"email": email, "sub": id},
				CreatedAt:    now,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		},
		passwordHash: hash,
		secrets:      make(map[string]string),
	}
	fp.users[id] = fu
	fp.emailIDs[email] = id

	if !fp.autoConfirm {
		fp.queueConfirmation(email, redirectTo)
		u := fu.user
		fp.lock.Unlock()
		return &provider.SignUpResult{User: &u}, nil
	}

	fu.user.ConfirmedAt = utils.Ptr(now)
	fu.user.EmailConfirmedAt = utils.Ptr(now)
	session, err := fp.issueSession(fu, provider.AAL1, "password")
	if err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	u := fu.user
	fp.lock.Unlock()

	fp.Emit(provider.AuthEvent{Kind: provider.EventSignedIn, Session: session})
	return &provider.SignUpResult{User: &u, Session: session.Clone()}, nil
}

func (fp *FakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	fp.lock.Lock()
	if err := fp.begin("SignInWithPassword"); err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	fu, ok := fp.userByEmail(email)
	if !ok || bcrypt.CompareHashAndPassword(fu.passwordHash, []byte(password)) != nil {
		fp.lock.Unlock()
		return nil, provider.NewAPIError(http.StatusBadRequest, autherrors.CodeInvalidCredentials, "Invalid login credentials")
	}
	if !fu.user.Confirmed() && !fp.allowUnconfirmedLogin {
		fp.lock.Unlock()
		return nil, provider.NewAPIError(http.StatusBadRequest, autherrors.CodeEmailNotConfirmed, "Email not confirmed")
	}
	session, err := fp.issueSession(fu, provider.AAL1, "password")
	fp.lock.Unlock()
	if err != nil {
		return nil, err
	}

	fp.Emit(provider.AuthEvent{Kind: provider.EventSignedIn, Session: session})
	return session.Clone(), nil
}

func (fp *FakeProvider) SignInWithOAuth(ctx context.Context, providerName, redirectTo string) (*provider.OAuthRedirect, error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	if err := fp.begin("SignInWithOAuth"); err != nil {
		return nil, err
	}
	if providerName == "" {
		return nil, provider.NewAPIError(http.StatusBadRequest, "validation_failed", "Unsupported provider: provider is required")
	}
	state := uuid.NewString()
	fp.oauthStates[state] = providerName

	q := url.Values{}
	q.Set("provider", providerName)
	q.Set("redirect_to", redirectTo)
	q.Set("state", state)
	return &provider.OAuthRedirect{
		Provider: providerName,
		URL:      authorizeURL + "?" + q.Encode(),
		State:    state,
	}, nil
}

// ApproveOAuth simulates the user consenting at the external provider. It returns the code
// the browser would bring back to the callback.
func (fp *FakeProvider) ApproveOAuth(state, email, name string) (string, error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	providerName, ok := fp.oauthStates[state]
	if !ok {
		return "", fmt.Errorf("unknown oauth state %q", state)
	}
	fu, ok := fp.userByEmail(email)
	now := fp.nowTime()
	if !ok {
		id := uuid.NewString()
		fu = &fakeUser{
			user: provider.User{
				ID:           id,
				Aud:          "authenticated",
				Role:         "authenticated",
				Email:        normaliseEmail(email),
				UserMetadata: map[string]any{"full_name": name, "name": name},
				AppMetadata:  map[string]any{"provider": providerName, "providers": []string{providerName}},
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			secrets: make(map[string]string),
		}
		fp.users[id] = fu
		fp.emailIDs[fu.user.Email] = id
	}
	if !fu.user.Confirmed() {
		fu.user.ConfirmedAt = utils.Ptr(now)
		fu.user.EmailConfirmedAt = utils.Ptr(now)
	}
	fu.user.Identities = append(fu.user.Identities, provider.UserIdentity{
		ID:        uuid.NewString(),
		UserID:    fu.user.ID,
		Provider:  providerName,
		CreatedAt: now,
	})
	code := uuid.NewString()
	fp.oauthCodes[code] = fu.user.ID
	return code, nil
}

func (fp *FakeProvider) ExchangeCodeForSession(ctx context.Context, code, state string) (*provider.Session, error) {
	fp.lock.Lock()
	if err := fp.begin("ExchangeCodeForSession"); err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	if _, ok := fp.oauthStates[state]; !ok {
		fp.lock.Unlock()
		return nil, provider.NewAPIError(http.StatusBadRequest, autherrors.CodeBadOAuthState, "OAuth state parameter missing or invalid")
	}
	userID, ok := fp.oauthCodes[code]
	if !ok {
		fp.lock.Unlock()
		return nil, provider.NewAPIError(http.StatusBadRequest, "flow_state_not_found", "invalid flow state, no valid flow state found")
	}
	delete(fp.oauthStates, state)
	delete(fp.oauthCodes, code)
	session, err := fp.issueSession(fp.users[userID], provider.AAL1, "oauth")
	fp.lock.Unlock()
	if err != nil {
		return nil, err
	}

	fp.Emit(provider.AuthEvent{Kind: provider.EventSignedIn, Session: session})
	return session.Clone(), nil
}

func (fp *FakeProvider) SignOut(ctx context.Context) error {
	fp.lock.Lock()
	if err := fp.begin("SignOut"); err != nil {
		fp.lock.Unlock()
		return err
	}
	if fp.current != nil {
		delete(fp.refreshTokens, fp.current.RefreshToken)
	}
	fp.current = nil
	fp.lock.Unlock()

	fp.Emit(provider.AuthEvent{Kind: provider.EventSignedOut})
	return nil
}

func (fp *FakeProvider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	if err := fp.begin("ResetPasswordForEmail"); err != nil {
		return err
	}
	fu, ok := fp.userByEmail(email)
	if !ok {
		return nil
	}
	token := uuid.NewString()
	fp.recoveryTokens[token] = fu.user.Email
	fp.sentEmails = append(fp.sentEmails, SentEmail{Kind: "recovery", To: fu.user.Email, Token: token, RedirectTo: redirectTo})
	return nil
}

func (fp *FakeProvider) UpdateUser(ctx context.Context, attrs provider.UserAttributes) (*provider.User, error) {
	fp.lock.Lock()
	if err := fp.begin("UpdateUser"); err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	fu, err := fp.sessionUser()
	if err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	if attrs.Password != "" {
		if len(attrs.Password) < minPasswordChars {
			fp.lock.Unlock()
			return nil, provider.NewAPIError(http.StatusUnprocessableEntity, autherrors.CodeWeakPassword, "Password should be at least 6 characters.")
		}
		if fu.passwordHash != nil && bcrypt.CompareHashAndPassword(fu.passwordHash, []byte(attrs.Password)) == nil {
			fp.lock.Unlock()
			return nil, provider.NewAPIError(http.StatusUnprocessableEntity, autherrors.CodeSamePassword, "New password should be different from the old password.")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(attrs.Password), bcrypt.MinCost)
		if err != nil {
			fp.lock.Unlock()
			return nil, err
		}
		fu.passwordHash = hash
	}
	if attrs.Email != "" {
		delete(fp.emailIDs, fu.user.Email)
		fu.user.Email = normaliseEmail(attrs.Email)
		fp.emailIDs[fu.user.Email] = fu.user.ID
	}
	if len(attrs.Data) > 0 {
		if fu.user.UserMetadata == nil {
			fu.user.UserMetadata = make(map[string]any)
		}
		for k, v := range attrs.Data {
			fu.user.UserMetadata[k] = v
		}
	}
	fu.user.UpdatedAt = fp.nowTime()

	updated := fp.current.Clone()
	u := fu.user
	updated.User = &u
	fp.current = updated
	fp.lock.Unlock()

	fp.Emit(provider.AuthEvent{Kind: provider.EventUserUpdated, Session: updated})
	return updated.User.Clone(), nil
}

func (fp *FakeProvider) VerifyOTP(ctx context.Context, email, token string, otpType provider.OTPType) (*provider.Session, error) {
	fp.lock.Lock()
	if err := fp.begin("VerifyOTP"); err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	invalid := provider.NewAPIError(http.StatusForbidden, autherrors.CodeOTPExpired, "Token has expired or is invalid")
	email = normaliseEmail(email)

	var (
		fu    *fakeUser
		kind  = provider.EventSignedIn
		found bool
	)
	switch otpType {
	case provider.OTPTypeRecovery:
		if owner, ok := fp.recoveryTokens[token]; ok && (email == "" || owner == email) {
			delete(fp.recoveryTokens, token)
			fu, found = fp.userByEmail(owner)
			kind = provider.EventPasswordRecovery
		}
	default:
		if pending, ok := fp.otpTokens[email]; ok && pending == token {
			delete(fp.otpTokens, email)
			fu, found = fp.userByEmail(email)
		}
	}
	if !found {
		fp.lock.Unlock()
		return nil, invalid
	}
	if !fu.user.Confirmed() {
		now := fp.nowTime()
		fu.user.ConfirmedAt = utils.Ptr(now)
		fu.user.EmailConfirmedAt = utils.Ptr(now)
	}
	session, err := fp.issueSession(fu, provider.AAL1, "otp")
	fp.lock.Unlock()
	if err != nil {
		return nil, err
	}

	fp.Emit(provider.AuthEvent{Kind: kind, Session: session})
	return session.Clone(), nil
}

func (fp *FakeProvider) Resend(ctx context.Context, otpType provider.OTPType, email string) error {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	if err := fp.begin("Resend"); err != nil {
		return err
	}
	email = normaliseEmail(email)
	if last, ok := fp.lastResend[email]; ok && fp.nowTime().Sub(last) < resendInterval {
		return provider.NewAPIError(http.StatusTooManyRequests, autherrors.CodeOverEmailRateLimit, "For security purposes, you can only request this after 60 seconds.")
	}
	fp.lastResend[email] = fp.nowTime()
	fu, ok := fp.userByEmail(email)
	if !ok || fu.user.Confirmed() {
		return nil
	}
	fp.queueConfirmation(email, "")
	return nil
}

// RefreshSession rotates the current session's tokens and emits TOKEN_REFRESHED.
func (fp *FakeProvider) RefreshSession(ctx context.Context) (*provider.Session, error) {
	fp.lock.Lock()
	if err := fp.begin("RefreshSession"); err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	fu, err := fp.sessionUser()
	if err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	delete(fp.refreshTokens, fp.current.RefreshToken)
	session, err := fp.issueSession(fu, fp.current.AssuranceLevel(), "token_refresh")
	fp.lock.Unlock()
	if err != nil {
		return nil, err
	}

	fp.Emit(provider.AuthEvent{Kind: provider.EventTokenRefreshed, Session: session})
	return session.Clone(), nil
}

// ConfirmUser marks an account's email as verified.
func (fp *FakeProvider) ConfirmUser(email string) error {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fu, ok := fp.userByEmail(email)
	if !ok {
		return fmt.Errorf("unknown user %q", email)
	}
	now := fp.nowTime()
	fu.user.ConfirmedAt = utils.Ptr(now)
	fu.user.EmailConfirmedAt = utils.Ptr(now)
	delete(fp.otpTokens, fu.user.Email)
	return nil
}

// User returns a copy of the account registered under email.
func (fp *FakeProvider) User(email string) (*provider.User, bool) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fu, ok := fp.userByEmail(email)
	if !ok {
		return nil, false
	}
	u := fu.user
	return &u, true
}

// PendingConfirmation returns the confirmation code queued for email.
func (fp *FakeProvider) PendingConfirmation(email string) (string, bool) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	token, ok := fp.otpTokens[normaliseEmail(email)]
	return token, ok
}

// SentEmails returns every message the provider dispatched.
func (fp *FakeProvider) SentEmails() []SentEmail {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return append([]SentEmail{}, fp.sentEmails...)
}

// queueConfirmation issues a new signup confirmation code. Caller must hold the lock.
func (fp *FakeProvider) queueConfirmation(email, redirectTo string) {
	code := fmt.Sprintf("%06d", fp.nowTime().UnixNano()%1000000)
	fp.otpTokens[email] = code
	fp.sentEmails = append(fp.sentEmails, SentEmail{Kind: "signup", To: email, Token: code, RedirectTo: redirectTo})
}

// userByEmail looks up an account. Caller must hold the lock.
func (fp *FakeProvider) userByEmail(email string) (*fakeUser, bool) {
	id, ok := fp.emailIDs[normaliseEmail(email)]
	if !ok {
		return nil, false
	}
	fu, ok := fp.users[id]
	return fu, ok
}

// sessionUser returns the account behind the current session. Caller must hold the lock.
func (fp *FakeProvider) sessionUser() (*fakeUser, error) {
	if fp.current == nil || fp.current.User == nil {
		return nil, provider.NewAPIError(http.StatusUnauthorized, autherrors.CodeSessionMissing, "Auth session missing!")
	}
	fu, ok := fp.users[fp.current.User.ID]
	if !ok {
		return nil, provider.NewAPIError(http.StatusNotFound, "user_not_found", "User from sub claim in JWT does not exist")
	}
	return fu, nil
}

// issueSession signs a new access token and makes it current. Caller must hold the lock.
func (fp *FakeProvider) issueSession(fu *fakeUser, aal provider.AssuranceLevel, method string) (*provider.Session, error) {
	now := fp.nowTime()
	expiresAt := now.Add(accessTokenTTL)
	claims := provider.Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   fu.user.ID,
			Audience:  jwtlib.ClaimStrings{"authenticated"},
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			IssuedAt:  jwtlib.NewNumericDate(now),
			Issuer:    "https://auth.fake.local/auth/v1",
		},
		Email:        fu.user.Email,
		Role:         "authenticated",
		AAL:          aal,
		AMR:          []provider.AMREntry{{Method: method, Timestamp: now.Unix()}},
		SessionID:    uuid.NewString(),
		UserMetadata: copyMetadata(fu.user.UserMetadata),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(fp.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	fu.user.LastSignInAt = utils.Ptr(now)
	u := fu.user
	session := &provider.Session{
		AccessToken:  signed,
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
		ExpiresAt:    expiresAt,
		User:         &u,
	}
	session.User = session.User.Clone()
	fp.refreshTokens[session.RefreshToken] = fu.user.ID
	fp.current = session.Clone()
	return session, nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
