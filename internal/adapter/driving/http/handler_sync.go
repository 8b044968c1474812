package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// SyncNewSplits pushes newly created splits of a transaction to their
// providers and returns the transaction's sync state.
func (h *Handler) SyncNewSplits(w http.ResponseWriter, r *http.Request) {
	txID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req SyncSplitsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.SplitIDs) == 0 {
		writeError(w, http.StatusBadRequest, "split_ids is required")
		return
	}

	splitIDs := make([]uuid.UUID, 0, len(req.SplitIDs))
	for _, raw := range req.SplitIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid split id: "+raw)
			return
		}
		splitIDs = append(splitIDs, id)
	}

	if err := h.syncSvc.SplitsCreated(r.Context(), txID, splitIDs); err != nil {
		h.writeServiceError(w, "splits created", err)
		return
	}

	views, err := h.syncSvc.TransactionSyncStatus(r.Context(), txID)
	if err != nil {
		h.writeServiceError(w, "transaction sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncStatusResponses(views))
}

// SyncUpdatedSplit re-pushes the providers of a changed split.
func (h *Handler) SyncUpdatedSplit(w http.ResponseWriter, r *http.Request) {
	splitID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.syncSvc.SplitUpdated(r.Context(), splitID); err != nil {
		h.writeServiceError(w, "split updated", err)
		return
	}

	views, err := h.syncSvc.SyncStatus(r.Context(), splitID)
	if err != nil {
		h.writeServiceError(w, "split sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncStatusResponses(views))
}

// SyncDeletedSplit propagates the removal of a split.
func (h *Handler) SyncDeletedSplit(w http.ResponseWriter, r *http.Request) {
	txID, ok := pathUUID(w, r, "txid")
	if !ok {
		return
	}
	splitID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.syncSvc.SplitDeleted(r.Context(), txID, splitID); err != nil {
		h.writeServiceError(w, "split deleted", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RetrySync re-attempts a failed record. Records at the retry ceiling get a 409.
func (h *Handler) RetrySync(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.syncSvc.RetrySync(r.Context(), recordID)
	if err != nil {
		h.writeServiceError(w, "retry sync", err)
		return
	}

	writeJSON(w, http.StatusOK, toSyncRecordResponse(*rec))
}

// SplitSyncStatus returns the sync state of a split on every provider.
func (h *Handler) SplitSyncStatus(w http.ResponseWriter, r *http.Request) {
	splitID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	views, err := h.syncSvc.SyncStatus(r.Context(), splitID)
	if err != nil {
		h.writeServiceError(w, "split sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncStatusResponses(views))
}

// TransactionSyncStatus returns the sync state of every split of a transaction.
func (h *Handler) TransactionSyncStatus(w http.ResponseWriter, r *http.Request) {
	txID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	views, err := h.syncSvc.TransactionSyncStatus(r.Context(), txID)
	if err != nil {
		h.writeServiceError(w, "transaction sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncStatusResponses(views))
}

// ListRetryableFailures returns failed records that can still be retried.
func (h *Handler) ListRetryableFailures(w http.ResponseWriter, r *http.Request) {
	views, err := h.syncSvc.RetryableFailures(r.Context())
	if err != nil {
		h.writeServiceError(w, "retryable failures", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncStatusResponses(views))
}

func toSyncStatusResponses(views []model.SyncStatusView) []SyncStatusResponse {
	resp := make([]SyncStatusResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toSyncStatusResponse(v))
	}
	return resp
}
