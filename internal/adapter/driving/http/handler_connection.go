package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// Authorize redirects the user to the provider's consent page.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	url, err := h.connectSvc.AuthorizeURL(r.Context(), userID, model.ProviderType(r.PathValue("provider")))
	if err != nil {
		h.writeServiceError(w, "authorize", err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// AuthorizeCallback completes the OAuth round trip started by Authorize. The
// user is identified by the signed state, not by a header.
func (h *Handler) AuthorizeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+errCode)
		return
	}

	conn, err := h.connectSvc.CompleteAuthorization(r.Context(), model.ProviderType(r.PathValue("provider")), q.Get("state"), q.Get("code"))
	if err != nil {
		h.writeServiceError(w, "authorize callback", err)
		return
	}

	writeJSON(w, http.StatusOK, toConnectionResponse(*conn))
}

// ConnectAPIKey stores an API key for providers that authenticate that way.
func (h *Handler) ConnectAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req ConnectAPIKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conn, err := h.connectSvc.ConnectWithAPIKey(r.Context(), userID, model.ProviderType(r.PathValue("provider")), req.APIKey)
	if err != nil {
		h.writeServiceError(w, "connect api key", err)
		return
	}

	writeJSON(w, http.StatusCreated, toConnectionResponse(*conn))
}

// ValidateConnection reports whether a connection's credentials still work.
func (h *Handler) ValidateConnection(w http.ResponseWriter, r *http.Request) {
	connID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	valid, err := h.connectSvc.Validate(r.Context(), connID)
	if err != nil {
		h.writeServiceError(w, "validate connection", err)
		return
	}

	writeJSON(w, http.StatusOK, ValidationResponse{ConnectionID: connID.String(), Valid: valid})
}
