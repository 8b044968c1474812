package splitwise

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/httpapi"
	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

type currentUserResponse struct {
	User struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

// ValidateCredentials calls get_current_user. A 401 means the credentials
// are invalid; other failures are returned as errors.
func (c *Client) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	_, err := c.CurrentUserID(ctx, creds)
	if err == nil {
		return true, nil
	}

	var pe *driven.ProviderError
	if errors.As(err, &pe) && pe.Kind == driven.ErrKindAuthenticationFailed {
		return false, nil
	}
	return false, err
}

// CurrentUserID returns the Splitwise user id that owns the credentials.
func (c *Client) CurrentUserID(ctx context.Context, creds model.Credentials) (string, error) {
	resp, err := c.get(ctx, creds, "/get_current_user")
	if err != nil {
		return "", err
	}

	var body currentUserResponse
	if err := httpapi.DecodeJSON(resp.Body, &body); err != nil {
		return "", err
	}
	if body.User.ID == 0 {
		return "", driven.NewProviderError(driven.ErrKindInvalidResponse, "get_current_user returned no user id")
	}
	return strconv.FormatInt(body.User.ID, 10), nil
}

// RefreshCredentials exchanges the refresh token for a new access token, but
// only once the stored expiry has passed. Unexpired or non-expiring
// credentials return nil.
func (c *Client) RefreshCredentials(ctx context.Context, creds model.Credentials) (*model.Credentials, error) {
	if !creds.Expired(c.now()) {
		return nil, nil
	}
	if creds.RefreshToken == "" {
		return nil, driven.NewProviderError(driven.ErrKindTokenExpired, "access token expired and no refresh token is stored")
	}
	if c.oauth.ClientID == "" || c.oauth.ClientSecret == "" {
		return nil, driven.NewProviderError(driven.ErrKindConfiguration, "Splitwise OAuth client is not configured")
	}

	stale := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       *creds.ExpiresAt,
	}

	tok, err := c.oauth.TokenSource(c.oauthContext(ctx), stale).Token()
	if err != nil {
		return nil, tokenError("refresh token", err)
	}

	refreshed := creds
	refreshed.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	refreshed.TokenType = tok.TokenType
	refreshed.ExpiresAt = expiryPtr(tok.Expiry)
	return &refreshed, nil
}

// AuthCodeURL returns the consent page URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for credentials.
func (c *Client) ExchangeCode(ctx context.Context, code string) (model.Credentials, error) {
	if c.oauth.ClientID == "" || c.oauth.ClientSecret == "" {
		return model.Credentials{}, driven.NewProviderError(driven.ErrKindConfiguration, "Splitwise OAuth client is not configured")
	}

	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return model.Credentials{}, tokenError("exchange authorization code", err)
	}

	return model.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    expiryPtr(tok.Expiry),
	}, nil
}

// oauthContext routes token requests through the client's HTTP client.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// tokenError classifies token endpoint failures. A 400 or 401 from the token
// endpoint means the grant was rejected and the user must reconnect.
func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return &driven.ProviderError{Kind: driven.ErrKindAuthenticationFailed, Message: op + " rejected by Splitwise"}
		case http.StatusTooManyRequests:
			return &driven.ProviderError{Kind: driven.ErrKindRateLimited, Message: op}
		}
		return &driven.ProviderError{
			Kind:    driven.ErrKindAPI,
			Message: op + ": status " + strconv.Itoa(re.Response.StatusCode),
		}
	}
	return &driven.ProviderError{Kind: driven.ErrKindNetwork, Message: op, Err: err}
}

func expiryPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
