// Package splitwise implements the expense provider port against the
// Splitwise v3 REST API.
package splitwise

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/httpapi"
	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

const (
	DefaultBaseURL  = "https://secure.splitwise.com/api/v3.0"
	DefaultAuthURL  = "https://secure.splitwise.com/oauth/authorize"
	DefaultTokenURL = "https://secure.splitwise.com/oauth/token"
	DefaultWebURL   = "https://secure.splitwise.com"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.ExpenseProvider  = (*Client)(nil)
	_ driven.OAuthProvider    = (*Client)(nil)
	_ driven.IdentityResolver = (*Client)(nil)
)

// Config holds the OAuth application registration and endpoint overrides.
// Empty URLs fall back to the public Splitwise endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	BaseURL  string
	AuthURL  string
	TokenURL string
	WebURL   string

	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Now        func() time.Time
}

// Client talks to Splitwise on behalf of a connection's credentials. It holds
// no per-user state and is safe for concurrent use.
type Client struct {
	api        *httpapi.Client
	httpClient *http.Client
	oauth      *oauth2.Config
	baseURL    string
	webURL     string
	now        func() time.Time
}

// NewClient returns a Splitwise client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		api:        httpapi.NewClient(httpClient, cfg.Limiter),
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   withDefault(cfg.AuthURL, DefaultAuthURL),
				TokenURL:  withDefault(cfg.TokenURL, DefaultTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		baseURL: strings.TrimRight(withDefault(cfg.BaseURL, DefaultBaseURL), "/"),
		webURL:  strings.TrimRight(withDefault(cfg.WebURL, DefaultWebURL), "/"),
		now:     now,
	}
}

// Type reports model.ProviderSplitwise.
func (c *Client) Type() model.ProviderType {
	return model.ProviderSplitwise
}

// expenseURL returns the web link for an expense.
func (c *Client) expenseURL(id string) string {
	return c.webURL + "/#/all/expenses/" + url.PathEscape(id)
}

func (c *Client) get(ctx context.Context, creds model.Credentials, path string) (*httpapi.Response, error) {
	req, err := httpapi.NewRequest(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req, creds)
}

func (c *Client) postForm(ctx context.Context, creds model.Credentials, path string, form url.Values) (*httpapi.Response, error) {
	req, err := httpapi.NewRequest(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(ctx, req, creds)
}

func (c *Client) send(ctx context.Context, req *http.Request, creds model.Credentials) (*httpapi.Response, error) {
	if err := httpapi.BearerToken(req, creds.AccessToken); err != nil {
		return nil, err
	}

	resp, err := c.api.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := httpapi.CheckStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
