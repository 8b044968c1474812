package splitwise_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/splitwise"
	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) *splitwise.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return splitwise.NewClient(splitwise.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/callback",
		BaseURL:      srv.URL,
		AuthURL:      srv.URL + "/oauth/authorize",
		TokenURL:     srv.URL + "/oauth/token",
		WebURL:       "https://splitwise.test",
		HTTPClient:   srv.Client(),
		Now:          func() time.Time { return fixedNow },
	})
}

func testCreds() model.Credentials {
	return model.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1", ExternalUserID: "payer"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func kindOf(t *testing.T, err error) driven.ProviderErrorKind {
	t.Helper()
	var pe *driven.ProviderError
	require.True(t, errors.As(err, &pe), "expected ProviderError, got %v", err)
	return pe.Kind
}

func sampleInput() model.ExpenseInput {
	return model.ExpenseInput{
		Description: "Dinner",
		TotalCost:   decimal.RequireFromString("90"),
		Currency:    "USD",
		Date:        time.Date(2026, 5, 1, 19, 30, 0, 0, time.UTC),
		Notes:       "birthday",
		Participants: []model.Participant{
			{ExternalID: "payer", PaidShare: decimal.RequireFromString("90"), OwedShare: decimal.Zero},
			{ExternalID: "111", PaidShare: decimal.Zero, OwedShare: decimal.RequireFromString("30")},
			{ExternalID: "222", PaidShare: decimal.Zero, OwedShare: decimal.RequireFromString("60")},
		},
	}
}

func TestCreateExpense_SendsFlattenedParticipants(t *testing.T) {
	var form url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/create_expense", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeJSON(w, http.StatusOK, map[string]any{
			"expenses": []any{map[string]any{"id": 999}},
			"errors":   map[string]any{},
		})
	})

	res, err := client.CreateExpense(context.Background(), testCreds(), sampleInput())

	require.NoError(t, err)
	assert.Equal(t, "999", res.ExternalExpenseID)
	assert.Equal(t, "https://splitwise.test/#/all/expenses/999", res.ExternalURL)

	assert.Equal(t, "90.00", form.Get("cost"))
	assert.Equal(t, "Dinner", form.Get("description"))
	assert.Equal(t, "USD", form.Get("currency_code"))
	assert.Equal(t, "2026-05-01T19:30:00Z", form.Get("date"))
	assert.Equal(t, "birthday", form.Get("details"))
	assert.Equal(t, "0", form.Get("group_id"))

	assert.Equal(t, "payer", form.Get("users__0__user_id"))
	assert.Equal(t, "90.00", form.Get("users__0__paid_share"))
	assert.Equal(t, "0.00", form.Get("users__0__owed_share"))
	assert.Equal(t, "111", form.Get("users__1__user_id"))
	assert.Equal(t, "0.00", form.Get("users__1__paid_share"))
	assert.Equal(t, "30.00", form.Get("users__1__owed_share"))
	assert.Equal(t, "222", form.Get("users__2__user_id"))
	assert.Equal(t, "60.00", form.Get("users__2__owed_share"))
	assert.Empty(t, form.Get("users__3__user_id"))
}

func TestCreateExpense_ErrorsObjectIsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"expenses": []any{},
			"errors": map[string]any{
				"base": []string{"The total of everyone's owed shares is not equal to the total cost."},
			},
		})
	})

	_, err := client.CreateExpense(context.Background(), testCreds(), sampleInput())

	assert.Equal(t, driven.ErrKindAPI, kindOf(t, err))
	assert.Contains(t, err.Error(), "base: The total of everyone's owed shares")
}

func TestCreateExpense_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   driven.ProviderErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, driven.ErrKindAuthenticationFailed},
		{"not found", http.StatusNotFound, driven.ErrKindNotFound},
		{"rate limited", http.StatusTooManyRequests, driven.ErrKindRateLimited},
		{"server error", http.StatusInternalServerError, driven.ErrKindAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := client.CreateExpense(context.Background(), testCreds(), sampleInput())
			assert.Equal(t, tt.want, kindOf(t, err))
		})
	}
}

func TestCreateExpense_MalformedBodyIsInvalidResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	})

	_, err := client.CreateExpense(context.Background(), testCreds(), sampleInput())
	assert.Equal(t, driven.ErrKindInvalidResponse, kindOf(t, err))
}

func TestCreateExpense_MissingParticipantIDSendsNothing(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	})

	in := sampleInput()
	in.Participants[0].ExternalID = ""

	_, err := client.CreateExpense(context.Background(), testCreds(), in)
	assert.Equal(t, driven.ErrKindConfiguration, kindOf(t, err))
	assert.Zero(t, calls.Load())
}

func TestCreateExpense_NoAccessTokenIsConfigurationError(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	_, err := client.CreateExpense(context.Background(), model.Credentials{}, sampleInput())
	assert.Equal(t, driven.ErrKindConfiguration, kindOf(t, err))
}

func TestUpdateExpense_SendsOnlySetFields(t *testing.T) {
	var form url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/update_expense/999", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeJSON(w, http.StatusOK, map[string]any{
			"expenses": []any{map[string]any{"id": 999}},
			"errors":   map[string]any{},
		})
	})

	desc := "Lunch"
	res, err := client.UpdateExpense(context.Background(), testCreds(), "999", model.ExpenseUpdate{
		Description: &desc,
		Participants: []model.Participant{
			{ExternalID: "payer", PaidShare: decimal.RequireFromString("30"), OwedShare: decimal.Zero},
			{ExternalID: "111", PaidShare: decimal.Zero, OwedShare: decimal.RequireFromString("30")},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "999", res.ExternalExpenseID)
	assert.Equal(t, "Lunch", form.Get("description"))
	assert.False(t, form.Has("cost"))
	assert.False(t, form.Has("date"))
	assert.Equal(t, "111", form.Get("users__1__user_id"))
	assert.False(t, form.Has("users__2__user_id"))
}

func TestUpdateExpense_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.UpdateExpense(context.Background(), testCreds(), "404", model.ExpenseUpdate{})
	assert.Equal(t, driven.ErrKindNotFound, kindOf(t, err))
}

func TestDeleteExpense(t *testing.T) {
	t.Run("acknowledged", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/delete_expense/999", r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "errors": map[string]any{}})
		})
		assert.NoError(t, client.DeleteExpense(context.Background(), testCreds(), "999"))
	})

	t.Run("not acknowledged", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "errors": []string{}})
		})
		err := client.DeleteExpense(context.Background(), testCreds(), "999")
		assert.Equal(t, driven.ErrKindAPI, kindOf(t, err))
	})
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{"valid", http.StatusOK, true, false},
		{"rejected", http.StatusUnauthorized, false, false},
		{"provider down", http.StatusBadGateway, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/get_current_user", r.URL.Path)
				if tt.status != http.StatusOK {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": 4242}})
			})

			ok, err := client.ValidateCredentials(context.Background(), testCreds())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCurrentUserID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": 4242, "first_name": "Ada"}})
	})

	id, err := client.CurrentUserID(context.Background(), testCreds())
	require.NoError(t, err)
	assert.Equal(t, "4242", id)
}

func TestRefreshCredentials_NotExpiredIsNoop(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) { calls.Add(1) })

	future := fixedNow.Add(time.Hour)
	creds := testCreds()
	creds.ExpiresAt = &future

	got, err := client.RefreshCredentials(context.Background(), creds)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = client.RefreshCredentials(context.Background(), testCreds())
	require.NoError(t, err)
	assert.Nil(t, got, "credentials without expiry never refresh")
	assert.Zero(t, calls.Load())
}

func TestRefreshCredentials_ExpiredUsesRefreshGrant(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})

	past := fixedNow.Add(-time.Minute)
	creds := testCreds()
	creds.ExpiresAt = &past

	got, err := client.RefreshCredentials(context.Background(), creds)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "refresh-2", got.RefreshToken)
	assert.Equal(t, "payer", got.ExternalUserID)
	assert.NotNil(t, got.ExpiresAt)
}

func TestRefreshCredentials_ExpiredWithoutRefreshToken(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	past := fixedNow.Add(-time.Minute)
	creds := model.Credentials{AccessToken: "a", ExpiresAt: &past}

	_, err := client.RefreshCredentials(context.Background(), creds)
	assert.Equal(t, driven.ErrKindTokenExpired, kindOf(t, err))
	assert.True(t, driven.RequiresReauth(err))
}

func TestRefreshCredentials_RejectedGrantIsAuthFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	})

	past := fixedNow.Add(-time.Minute)
	creds := testCreds()
	creds.ExpiresAt = &past

	_, err := client.RefreshCredentials(context.Background(), creds)
	assert.Equal(t, driven.ErrKindAuthenticationFailed, kindOf(t, err))
	assert.NotContains(t, err.Error(), "refresh-1")
}

func TestAuthCodeURL(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	raw := client.AuthCodeURL("state+token/==")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/oauth/authorize", u.Path)
	assert.Equal(t, "state+token/==", u.Query().Get("state"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
}

func TestExchangeCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-new",
			"token_type":   "bearer",
		})
	})

	creds, err := client.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "access-new", creds.AccessToken)
	assert.Nil(t, creds.ExpiresAt)
}
