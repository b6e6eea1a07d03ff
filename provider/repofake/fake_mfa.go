package fakeprovider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/provider"
)

const totpIssuer = "FitnessApp"

func (fp *FakeProvider) MFAEnroll(ctx context.Context, factorType provider.FactorType) (*provider.TOTPEnrollment, error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	if err := fp.begin("MFAEnroll"); err != nil {
		return nil, err
	}
	fu, err := fp.sessionUser()
	if err != nil {
		return nil, err
	}
	if factorType != provider.FactorTypeTOTP {
		return nil, provider.NewAPIError(http.StatusUnprocessableEntity, "mfa_factor_type_unsupported", fmt.Sprintf("factor type %q is not supported", factorType))
	}
	secret, err := newTOTPSecret()
	if err != nil {
		return nil, err
	}
	now := fp.nowTime()
	factor := provider.Factor{
		ID:         uuid.NewString(),
		FactorType: provider.FactorTypeTOTP,
		Status:     provider.FactorStatusUnverified,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	fu.user.Factors = append(fu.user.Factors, factor)
	fu.secrets[factor.ID] = secret

	uri := fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(totpIssuer), url.PathEscape(fu.user.Email), secret, url.QueryEscape(totpIssuer))
	return &provider.TOTPEnrollment{
		ID:     factor.ID,
		Type:   provider.FactorTypeTOTP,
		Secret: secret,
		QRCode: "data:image/svg+xml;utf-8," + url.PathEscape(`<svg xmlns="http://www.w3.org/2000/svg"><desc>`+uri+`</desc></svg>`),
		URI:    uri,
	}, nil
}

// MFAChallenge issues a challenge for factorID. Issuing a new challenge supersedes any earlier
// unconsumed challenge for the same factor.
func (fp *FakeProvider) MFAChallenge(ctx context.Context, factorID string) (*provider.Challenge, error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	if err := fp.begin("MFAChallenge"); err != nil {
		return nil, err
	}
	fu, err := fp.sessionUser()
	if err != nil {
		return nil, err
	}
	if _, ok := fu.secrets[factorID]; !ok {
		return nil, provider.NewAPIError(http.StatusNotFound, autherrors.CodeMFAFactorNotFound, "Factor not found")
	}
	c := provider.Challenge{
		ID:        uuid.NewString(),
		FactorID:  factorID,
		ExpiresAt: fp.nowTime().Add(challengeTTL),
	}
	fp.challenges[c.ID] = &challengeRecord{challenge: c, userID: fu.user.ID}
	fp.latestChallenge[factorID] = c.ID
	return &c, nil
}

// MFAVerify consumes the challenge regardless of outcome. A verified code upgrades the session to aal2.
func (fp *FakeProvider) MFAVerify(ctx context.Context, factorID, challengeID, code string) (*provider.Session, error) {
	fp.lock.Lock()
	if err := fp.begin("MFAVerify"); err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	fu, err := fp.sessionUser()
	if err != nil {
		fp.lock.Unlock()
		return nil, err
	}
	secret, ok := fu.secrets[factorID]
	if !ok {
		fp.lock.Unlock()
		return nil, provider.NewAPIError(http.StatusNotFound, autherrors.CodeMFAFactorNotFound, "Factor not found")
	}
	rec, ok := fp.challenges[challengeID]
	stale := !ok || rec.consumed || rec.userID != fu.user.ID ||
		rec.challenge.FactorID != factorID ||
		fp.latestChallenge[factorID] != challengeID ||
		!fp.nowTime().Before(rec.challenge.ExpiresAt)
	if ok {
		rec.consumed = true
	}
	if stale {
		fp.lock.Unlock()
		return nil, provider.NewAPIError(http.StatusUnprocessableEntity, autherrors.CodeMFAChallengeExpired, "MFA challenge has expired, verify against another challenge or create a new factor.")
	}
	if !validTOTP(secret, code, fp.nowTime()) {
		fp.lock.Unlock()
		return nil, provider.NewAPIError(http.StatusUnprocessableEntity, autherrors.CodeMFAVerificationFailed, "Invalid TOTP code entered")
	}

	now := fp.nowTime()
	for i := range fu.user.Factors {
		if fu.user.Factors[i].ID == factorID {
			fu.user.Factors[i].Status = provider.FactorStatusVerified
			fu.user.Factors[i].UpdatedAt = now
		}
	}
	if fp.current != nil {
		delete(fp.refreshTokens, fp.current.RefreshToken)
	}
	session, err := fp.issueSession(fu, provider.AAL2, "totp")
	fp.lock.Unlock()
	if err != nil {
		return nil, err
	}

	fp.Emit(provider.AuthEvent{Kind: provider.EventMFAChallengeVerified, Session: session})
	return session.Clone(), nil
}

// FactorSecret returns the TOTP secret of an enrolled factor.
func (fp *FakeProvider) FactorSecret(email, factorID string) (string, bool) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fu, ok := fp.userByEmail(email)
	if !ok {
		return "", false
	}
	secret, ok := fu.secrets[factorID]
	return secret, ok
}
