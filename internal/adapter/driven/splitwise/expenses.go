package splitwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/httpapi"
	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// expensesResponse is the body returned by create_expense and update_expense.
// Splitwise reports validation failures with HTTP 200 and a non-empty errors
// object.
type expensesResponse struct {
	Expenses []struct {
		ID int64 `json:"id"`
	} `json:"expenses"`
	Errors json.RawMessage `json:"errors"`
}

type deleteResponse struct {
	Success bool            `json:"success"`
	Errors  json.RawMessage `json:"errors"`
}

// CreateExpense creates an expense outside any group.
func (c *Client) CreateExpense(ctx context.Context, creds model.Credentials, in model.ExpenseInput) (model.ExpenseResult, error) {
	if err := checkParticipants(in.Participants); err != nil {
		return model.ExpenseResult{}, err
	}

	form := url.Values{}
	form.Set("cost", in.TotalCost.StringFixed(2))
	form.Set("description", in.Description)
	form.Set("currency_code", in.Currency)
	form.Set("date", in.Date.UTC().Format(time.RFC3339))
	form.Set("group_id", "0")
	if in.Notes != "" {
		form.Set("details", in.Notes)
	}
	setParticipants(form, in.Participants)

	resp, err := c.postForm(ctx, creds, "/create_expense", form)
	if err != nil {
		return model.ExpenseResult{}, err
	}

	id, err := parseExpenseID(resp.Body)
	if err != nil {
		return model.ExpenseResult{}, err
	}
	if id == "" {
		return model.ExpenseResult{}, driven.NewProviderError(driven.ErrKindInvalidResponse, "create_expense returned no expense")
	}

	return model.ExpenseResult{ExternalExpenseID: id, ExternalURL: c.expenseURL(id)}, nil
}

// UpdateExpense sends only the fields set in upd. A non-nil participant list
// replaces the expense's users.
func (c *Client) UpdateExpense(ctx context.Context, creds model.Credentials, externalExpenseID string, upd model.ExpenseUpdate) (model.ExpenseResult, error) {
	if upd.Participants != nil {
		if err := checkParticipants(upd.Participants); err != nil {
			return model.ExpenseResult{}, err
		}
	}

	form := url.Values{}
	if upd.Description != nil {
		form.Set("description", *upd.Description)
	}
	if upd.TotalCost != nil {
		form.Set("cost", upd.TotalCost.StringFixed(2))
	}
	if upd.Currency != nil {
		form.Set("currency_code", *upd.Currency)
	}
	if upd.Date != nil {
		form.Set("date", upd.Date.UTC().Format(time.RFC3339))
	}
	if upd.Notes != nil {
		form.Set("details", *upd.Notes)
	}
	setParticipants(form, upd.Participants)

	resp, err := c.postForm(ctx, creds, "/update_expense/"+url.PathEscape(externalExpenseID), form)
	if err != nil {
		return model.ExpenseResult{}, err
	}

	id, err := parseExpenseID(resp.Body)
	if err != nil {
		return model.ExpenseResult{}, err
	}
	if id == "" {
		id = externalExpenseID
	}

	return model.ExpenseResult{ExternalExpenseID: id, ExternalURL: c.expenseURL(id)}, nil
}

// DeleteExpense deletes an expense. Splitwise acknowledges with success=true.
func (c *Client) DeleteExpense(ctx context.Context, creds model.Credentials, externalExpenseID string) error {
	resp, err := c.postForm(ctx, creds, "/delete_expense/"+url.PathEscape(externalExpenseID), url.Values{})
	if err != nil {
		return err
	}

	var body deleteResponse
	if err := httpapi.DecodeJSON(resp.Body, &body); err != nil {
		return err
	}
	if msg := errorText(body.Errors); msg != "" {
		return driven.NewProviderError(driven.ErrKindAPI, "%s", msg)
	}
	if !body.Success {
		return driven.NewProviderError(driven.ErrKindAPI, "delete of expense %s not acknowledged", externalExpenseID)
	}
	return nil
}

// setParticipants flattens participants into users__<i>__* form fields.
func setParticipants(form url.Values, participants []model.Participant) {
	for i, p := range participants {
		prefix := "users__" + strconv.Itoa(i) + "__"
		form.Set(prefix+"user_id", p.ExternalID)
		form.Set(prefix+"paid_share", p.PaidShare.StringFixed(2))
		form.Set(prefix+"owed_share", p.OwedShare.StringFixed(2))
	}
}

func checkParticipants(participants []model.Participant) error {
	for i, p := range participants {
		if p.ExternalID == "" {
			return driven.NewProviderError(driven.ErrKindConfiguration, "participant %d has no Splitwise user id", i)
		}
	}
	return nil
}

func parseExpenseID(body []byte) (string, error) {
	var resp expensesResponse
	if err := httpapi.DecodeJSON(body, &resp); err != nil {
		return "", err
	}
	if msg := errorText(resp.Errors); msg != "" {
		return "", driven.NewProviderError(driven.ErrKindAPI, "%s", msg)
	}
	if len(resp.Expenses) == 0 {
		return "", nil
	}
	return strconv.FormatInt(resp.Expenses[0].ID, 10), nil
}

// errorText flattens a Splitwise errors value, which is either an object of
// field to messages or a list of messages. Empty values return "".
func errorText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]":
		return ""
	}

	var byField map[string][]string
	if err := json.Unmarshal(trimmed, &byField); err == nil {
		fields := make([]string, 0, len(byField))
		for field := range byField {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		parts := make([]string, 0, len(fields))
		for _, field := range fields {
			parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(byField[field], ", ")))
		}
		return httpapi.SanitizeMessage(strings.Join(parts, "; "))
	}

	var list []string
	if err := json.Unmarshal(trimmed, &list); err == nil {
		return httpapi.SanitizeMessage(strings.Join(list, "; "))
	}

	return httpapi.SanitizeMessage(string(trimmed))
}
