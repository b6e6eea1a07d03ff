package gotrue

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-fitness-auth/provider"
)

type enrollResponse struct {
	ID   string              `json:"id"`
	Type provider.FactorType `json:"type"`
	TOTP struct {
		QRCode string `json:"qr_code"`
		Secret string `json:"secret"`
		URI    string `json:"uri"`
	} `json:"totp"`
}

type challengeResponse struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

func (c *Client) MFAEnroll(ctx context.Context, factorType provider.FactorType) (*provider.TOTPEnrollment, error) {
	s, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	var er enrollResponse
	if err := c.do(ctx, http.MethodPost, "/factors", nil, map[string]string{"factor_type": string(factorType)}, s.AccessToken, &er); err != nil {
		return nil, err
	}
	return &provider.TOTPEnrollment{
		ID:     er.ID,
		Type:   er.Type,
		Secret: er.TOTP.Secret,
		QRCode: er.TOTP.QRCode,
		URI:    er.TOTP.URI,
	}, nil
}

func (c *Client) MFAChallenge(ctx context.Context, factorID string) (*provider.Challenge, error) {
	s, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	var cr challengeResponse
	if err := c.do(ctx, http.MethodPost, "/factors/"+url.PathEscape(factorID)+"/challenge", nil, struct{}{}, s.AccessToken, &cr); err != nil {
		return nil, err
	}
	return &provider.Challenge{ID: cr.ID, FactorID: factorID, ExpiresAt: time.Unix(cr.ExpiresAt, 0)}, nil
}

func (c *Client) MFAVerify(ctx context.Context, factorID, challengeID, code string) (*provider.Session, error) {
	s, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	var tr tokenResponse
	body := map[string]string{"challenge_id": challengeID, "code": code}
	if err := c.do(ctx, http.MethodPost, "/factors/"+url.PathEscape(factorID)+"/verify", nil, body, s.AccessToken, &tr); err != nil {
		return nil, err
	}
	return c.commit(ctx, &tr, provider.EventMFAChallengeVerified)
}
