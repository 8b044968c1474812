package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SyncSplitsRequest is the JSON body for the new-splits trigger.
type SyncSplitsRequest struct {
	SplitIDs []string `json:"split_ids"`
}

// ConnectAPIKeyRequest is the JSON body for API-key connections.
type ConnectAPIKeyRequest struct {
	APIKey string `json:"api_key"`
}

// SyncStatusResponse is the JSON representation of a split's state on one provider.
type SyncStatusResponse struct {
	RecordID          string `json:"record_id"`
	SplitID           string `json:"split_id"`
	Provider          string `json:"provider"`
	Status            string `json:"status"`
	ExternalExpenseID string `json:"external_expense_id,omitempty"`
	ExternalURL       string `json:"external_url,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	RetryCount        int    `json:"retry_count"`
	LastSyncAt        string `json:"last_sync_at,omitempty"`
}

// SyncRecordResponse is the JSON representation of a stored sync record.
type SyncRecordResponse struct {
	ID                string `json:"id"`
	SplitID           string `json:"split_id"`
	ProviderID        string `json:"provider_id"`
	Status            string `json:"status"`
	ExternalExpenseID string `json:"external_expense_id,omitempty"`
	ExternalURL       string `json:"external_url,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	RetryCount        int    `json:"retry_count"`
	LastSyncAt        string `json:"last_sync_at,omitempty"`
}

// ConnectionResponse is the JSON representation of a provider connection.
// Credentials are never included.
type ConnectionResponse struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// ValidationResponse is the result of a credential validation.
type ValidationResponse struct {
	ConnectionID string `json:"connection_id"`
	Valid        bool   `json:"valid"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toSyncStatusResponse(v model.SyncStatusView) SyncStatusResponse {
	return SyncStatusResponse{
		RecordID:          v.RecordID.String(),
		SplitID:           v.SplitID.String(),
		Provider:          string(v.ProviderType),
		Status:            string(v.Status),
		ExternalExpenseID: v.ExternalExpenseID,
		ExternalURL:       v.ExternalURL,
		LastError:         v.LastError,
		RetryCount:        v.RetryCount,
		LastSyncAt:        formatOptionalTime(v.LastSyncAt),
	}
}

func toSyncRecordResponse(rec model.SyncRecord) SyncRecordResponse {
	resp := SyncRecordResponse{
		ID:          rec.ID.String(),
		SplitID:     rec.SplitID.String(),
		ProviderID:  rec.ProviderID.String(),
		Status:      string(rec.Status),
		ExternalURL: rec.ExternalURL,
		LastError:   rec.LastError,
		RetryCount:  rec.RetryCount,
		LastSyncAt:  formatOptionalTime(rec.LastSyncAt),
	}
	if rec.ExternalExpenseID != nil {
		resp.ExternalExpenseID = *rec.ExternalExpenseID
	}
	return resp
}

func toConnectionResponse(conn model.ProviderConnection) ConnectionResponse {
	return ConnectionResponse{
		ID:        conn.ID.String(),
		Provider:  string(conn.ProviderType),
		IsActive:  conn.IsActive,
		CreatedAt: conn.CreatedAt.UTC().Format(time.RFC3339),
	}
}
