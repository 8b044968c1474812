// Package httpapi holds the HTTP plumbing shared by provider clients:
// rate limiting, bounded body reads, status classification and sanitizing
// of provider error text.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// maxBodyBytes caps how much of a provider response is read into memory.
const maxBodyBytes = 1 << 20

// Doer is the subset of *http.Client used by provider clients.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client sends provider requests through a shared token-bucket limiter.
type Client struct {
	doer    Doer
	limiter *rate.Limiter
}

// NewClient returns a Client. A nil limiter disables client-side limiting.
func NewClient(doer Doer, limiter *rate.Limiter) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{doer: doer, limiter: limiter}
}

// NewLimiter returns a limiter allowing perSecond requests with a burst of
// twice that. A non-positive rate returns nil.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Do waits for the limiter, sends req and reads the body. Transport
// failures and context cancellation become ErrKindNetwork errors. The
// returned response may carry any status; use CheckStatus to classify it.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &driven.ProviderError{Kind: driven.ErrKindNetwork, Message: "rate limiter wait", Err: err}
		}
	}

	resp, err := c.doer.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &driven.ProviderError{Kind: driven.ErrKindNetwork, Message: req.Method + " " + req.URL.Path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &driven.ProviderError{Kind: driven.ErrKindNetwork, Message: "read response body", Err: err}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// CheckStatus maps a non-2xx response to a ProviderError:
// 401 is an authentication failure, 404 not found, 429 rate limited and
// anything else an API error carrying the sanitized body.
func CheckStatus(resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return driven.NewProviderError(driven.ErrKindAuthenticationFailed, "provider rejected credentials")
	case http.StatusNotFound:
		return driven.NewProviderError(driven.ErrKindNotFound, "resource not found")
	case http.StatusTooManyRequests:
		return &driven.ProviderError{
			Kind:       driven.ErrKindRateLimited,
			Message:    "provider rate limit exceeded",
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	msg := SanitizeMessage(string(resp.Body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return driven.NewProviderError(driven.ErrKindAPI, "status %d: %s", resp.StatusCode, msg)
}

// DecodeJSON unmarshals body into v, reporting malformed payloads as
// ErrKindInvalidResponse.
func DecodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &driven.ProviderError{Kind: driven.ErrKindInvalidResponse, Message: "decode response", Err: err}
	}
	return nil
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date. Unparseable or past values return zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// BearerToken sets the Authorization header, rejecting empty tokens as a
// configuration error so a request is never sent unauthenticated.
func BearerToken(req *http.Request, token string) error {
	if token == "" {
		return driven.NewProviderError(driven.ErrKindConfiguration, "no access token in stored credentials")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// NewRequest builds a request, wrapping construction failures as
// configuration errors (a malformed base URL is an operator mistake).
func NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &driven.ProviderError{Kind: driven.ErrKindConfiguration, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
