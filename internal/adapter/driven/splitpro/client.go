// Package splitpro implements the expense provider port against a
// self-hosted SplitPro instance using API-key authentication.
package splitpro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/httpapi"
	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.ExpenseProvider  = (*Client)(nil)
	_ driven.IdentityResolver = (*Client)(nil)
)

// Client talks to one SplitPro instance.
type Client struct {
	api     *httpapi.Client
	baseURL string
}

// NewClient returns a client for the instance at baseURL.
func NewClient(baseURL string, httpClient *http.Client, limiter *rate.Limiter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		api:     httpapi.NewClient(httpClient, limiter),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Type reports model.ProviderSplitPro.
func (c *Client) Type() model.ProviderType {
	return model.ProviderSplitPro
}

type participantPayload struct {
	UserID string `json:"userId"`
	Paid   string `json:"paid"`
	Owed   string `json:"owed"`
}

type expensePayload struct {
	Name         *string              `json:"name,omitempty"`
	Amount       *string              `json:"amount,omitempty"`
	Currency     *string              `json:"currency,omitempty"`
	ExpenseDate  *string              `json:"expenseDate,omitempty"`
	Notes        *string              `json:"notes,omitempty"`
	Participants []participantPayload `json:"participants,omitempty"`
}

type expenseResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type meResponse struct {
	ID string `json:"id"`
}

// CreateExpense creates an expense.
func (c *Client) CreateExpense(ctx context.Context, creds model.Credentials, in model.ExpenseInput) (model.ExpenseResult, error) {
	if len(in.Participants) == 0 {
		return model.ExpenseResult{}, driven.NewProviderError(driven.ErrKindConfiguration, "expense has no participants")
	}

	amount := in.TotalCost.StringFixed(2)
	date := in.Date.UTC().Format(time.RFC3339)
	payload := expensePayload{
		Name:         &in.Description,
		Amount:       &amount,
		Currency:     &in.Currency,
		ExpenseDate:  &date,
		Participants: toParticipants(in.Participants),
	}
	if in.Notes != "" {
		payload.Notes = &in.Notes
	}

	var out expenseResponse
	if err := c.doJSON(ctx, creds, http.MethodPost, "/api/v1/expenses", payload, &out); err != nil {
		return model.ExpenseResult{}, err
	}
	if out.ID == "" {
		return model.ExpenseResult{}, driven.NewProviderError(driven.ErrKindInvalidResponse, "create returned no expense id")
	}

	return model.ExpenseResult{ExternalExpenseID: out.ID, ExternalURL: out.URL}, nil
}

// UpdateExpense patches the fields set in upd.
func (c *Client) UpdateExpense(ctx context.Context, creds model.Credentials, externalExpenseID string, upd model.ExpenseUpdate) (model.ExpenseResult, error) {
	payload := expensePayload{
		Name:     upd.Description,
		Currency: upd.Currency,
		Notes:    upd.Notes,
	}
	if upd.TotalCost != nil {
		amount := upd.TotalCost.StringFixed(2)
		payload.Amount = &amount
	}
	if upd.Date != nil {
		date := upd.Date.UTC().Format(time.RFC3339)
		payload.ExpenseDate = &date
	}
	if upd.Participants != nil {
		payload.Participants = toParticipants(upd.Participants)
	}

	var out expenseResponse
	if err := c.doJSON(ctx, creds, http.MethodPut, "/api/v1/expenses/"+url.PathEscape(externalExpenseID), payload, &out); err != nil {
		return model.ExpenseResult{}, err
	}
	if out.ID == "" {
		out.ID = externalExpenseID
	}

	return model.ExpenseResult{ExternalExpenseID: out.ID, ExternalURL: out.URL}, nil
}

// DeleteExpense deletes an expense.
func (c *Client) DeleteExpense(ctx context.Context, creds model.Credentials, externalExpenseID string) error {
	return c.doJSON(ctx, creds, http.MethodDelete, "/api/v1/expenses/"+url.PathEscape(externalExpenseID), nil, nil)
}

// ValidateCredentials reports whether the instance accepts the API key.
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

// RefreshCredentials always returns nil: API keys do not expire.
func (c *Client) RefreshCredentials(context.Context, model.Credentials) (*model.Credentials, error) {
	return nil, nil
}

// CurrentUserID returns the SplitPro user id that owns the API key.
func (c *Client) CurrentUserID(ctx context.Context, creds model.Credentials) (string, error) {
	var out meResponse
	if err := c.doJSON(ctx, creds, http.MethodGet, "/api/v1/users/me", nil, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", driven.NewProviderError(driven.ErrKindInvalidResponse, "users/me returned no id")
	}
	return out.ID, nil
}

func (c *Client) doJSON(ctx context.Context, creds model.Credentials, method, path string, in, out any) error {
	if c.baseURL == "" {
		return driven.NewProviderError(driven.ErrKindConfiguration, "SplitPro base URL is not configured")
	}

	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &driven.ProviderError{Kind: driven.ErrKindConfiguration, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = httpapi.NewRequest(ctx, method, c.baseURL+path, body)
	} else {
		req, err = httpapi.NewRequest(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := httpapi.BearerToken(req, creds.APIKey); err != nil {
		return err
	}

	resp, err := c.api.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := httpapi.CheckStatus(resp); err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	return httpapi.DecodeJSON(resp.Body, out)
}

func toParticipants(ps []model.Participant) []participantPayload {
	out := make([]participantPayload, 0, len(ps))
	for _, p := range ps {
		out = append(out, participantPayload{
			UserID: p.ExternalID,
			Paid:   fixed(p.PaidShare),
			Owed:   fixed(p.OwedShare),
		})
	}
	return out
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(2)
}
