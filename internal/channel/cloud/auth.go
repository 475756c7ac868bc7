package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel"
)

// tokenExpiryMargin treats tokens as expired slightly before the server
// says so, to avoid racing the expiry during a request.
const tokenExpiryMargin = 60 * time.Second

// TokenSet holds an issued cloud session.
type TokenSet struct {
	AccessToken           string `json:"access_token"`
	AccessTokenExpiresAt  int64  `json:"access_token_expires_at"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresAt int64  `json:"refresh_token_expires_at"`
}

// accessExpired reports whether the access token needs renewal.
func (t TokenSet) accessExpired(now time.Time) bool {
	if t.AccessToken == "" || t.AccessTokenExpiresAt == 0 {
		return true
	}
	return time.Unix(t.AccessTokenExpiresAt, 0).Add(-tokenExpiryMargin).Before(now)
}

// refreshExpired reports whether the refresh token needs renewal.
func (t TokenSet) refreshExpired(now time.Time) bool {
	if t.RefreshToken == "" || t.RefreshTokenExpiresAt == 0 {
		return true
	}
	return time.Unix(t.RefreshTokenExpiresAt, 0).Add(-tokenExpiryMargin).Before(now)
}

// TokenStore persists issued tokens between runs. The surrounding
// application supplies an implementation; nil disables persistence.
type TokenStore interface {
	// LoadTokens returns the persisted token set, or a zero set when
	// nothing is stored.
	LoadTokens(ctx context.Context) (TokenSet, error)

	// SaveTokens replaces the persisted token set.
	SaveTokens(ctx context.Context, tokens TokenSet) error
}

// authResponse is the wire shape of sign-in and refresh responses.
type authResponse struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresAt  int64  `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt int64  `json:"refreshTokenExpiresAt"`
	Message               string `json:"message"`
}

// authenticate establishes a valid access token, preferring a refresh-token
// renewal over a full credential sign-in. Holds c.authMu for the duration so
// concurrent requests do not stampede the sign-in endpoint.
func (c *Client) authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	// Another caller may have renewed while we waited for the lock.
	if !c.tokensLocked().accessExpired(time.Now()) {
		return nil
	}

	now := time.Now()
	if !c.tokensLocked().refreshExpired(now) {
		err := c.authenticateWithToken(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("token refresh failed, falling back to sign-in", "error", err)
	}

	return c.authenticateWithCredentials(ctx)
}

// authenticateWithToken renews the session using the refresh token.
func (c *Client) authenticateWithToken(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/token", nil)
	if err != nil {
		return fmt.Errorf("%w: building refresh request: %w", channel.ErrAuth, err)
	}
	req.Header.Set(headerAccessToken, c.tokensLocked().RefreshToken)

	return c.processAuthRequest(ctx, req)
}

// authenticateWithCredentials signs in with the account email/password.
func (c *Client) authenticateWithCredentials(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"userEmail": c.email,
		"password":  c.password,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding sign-in request: %w", channel.ErrAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/signin", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building sign-in request: %w", channel.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("authenticating with credentials", "email", maskEmail(c.email))
	return c.processAuthRequest(ctx, req)
}

// processAuthRequest executes an auth request and installs the returned
// token set. Called with authMu held.
func (c *Client) processAuthRequest(ctx context.Context, req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: server did not respond: %w", channel.ErrAuth, err)
	}
	defer resp.Body.Close()

	var data authResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fmt.Errorf("%w: server returned bad response: %w", channel.ErrAuth, err)
	}

	if data.AccessToken == "" || data.RefreshToken == "" {
		msg := data.Message
		if msg == "" {
			msg = "<no message>"
		}
		return fmt.Errorf("%w: server did not provide auth data: %s", channel.ErrAuth, msg)
	}

	now := time.Now()
	if time.Unix(data.AccessTokenExpiresAt, 0).Before(now) {
		return fmt.Errorf("%w: server provided expired access token", channel.ErrAuth)
	}
	if time.Unix(data.RefreshTokenExpiresAt, 0).Before(now) {
		return fmt.Errorf("%w: server provided expired refresh token", channel.ErrAuth)
	}

	tokens := TokenSet{
		AccessToken:           data.AccessToken,
		AccessTokenExpiresAt:  data.AccessTokenExpiresAt,
		RefreshToken:          data.RefreshToken,
		RefreshTokenExpiresAt: data.RefreshTokenExpiresAt,
	}
	c.setTokensLocked(tokens)

	c.logger.Debug("authentication successful",
		"access_expires_in", time.Until(time.Unix(tokens.AccessTokenExpiresAt, 0)).Round(time.Second))

	if c.tokenStore != nil {
		if err := c.tokenStore.SaveTokens(ctx, tokens); err != nil {
			c.logger.Error("persisting tokens failed", "error", err)
		}
	}

	return nil
}

// maskEmail hides the local part of an address for logging.
func maskEmail(email string) string {
	for i, r := range email {
		if r == '@' {
			if i == 0 {
				return "**" + email[i:]
			}
			return email[:1] + "**" + email[i:]
		}
	}
	return "**"
}
