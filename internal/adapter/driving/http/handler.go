package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/coinsplit/internal/application"
	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

const (
	maxBodyBytes  = 1 << 20
	healthTimeout = 2 * time.Second

	// userIDHeader carries the authenticated user id set by the upstream auth layer.
	userIDHeader = "X-User-ID"
)

// SyncService is the sync use-case surface served over HTTP.
type SyncService interface {
	SplitsCreated(ctx context.Context, transactionID uuid.UUID, newSplitIDs []uuid.UUID) error
	SplitUpdated(ctx context.Context, splitID uuid.UUID) error
	SplitDeleted(ctx context.Context, transactionID, deletedSplitID uuid.UUID) error
	RetrySync(ctx context.Context, recordID uuid.UUID) (*model.SyncRecord, error)
	SyncStatus(ctx context.Context, splitID uuid.UUID) ([]model.SyncStatusView, error)
	TransactionSyncStatus(ctx context.Context, transactionID uuid.UUID) ([]model.SyncStatusView, error)
	RetryableFailures(ctx context.Context) ([]model.SyncStatusView, error)
}

// ConnectService is the provider connection surface served over HTTP.
type ConnectService interface {
	AuthorizeURL(ctx context.Context, userID uuid.UUID, pt model.ProviderType) (string, error)
	CompleteAuthorization(ctx context.Context, pt model.ProviderType, state, code string) (*model.ProviderConnection, error)
	ConnectWithAPIKey(ctx context.Context, userID uuid.UUID, pt model.ProviderType, apiKey string) (*model.ProviderConnection, error)
	Validate(ctx context.Context, connectionID uuid.UUID) (bool, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	syncSvc    SyncService
	connectSvc ConnectService
	db         Pinger
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(syncSvc SyncService, connectSvc ConnectService, db Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		syncSvc:    syncSvc,
		connectSvc: connectSvc,
		db:         db,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/transactions/{id}/sync", h.SyncNewSplits)
	mux.HandleFunc("GET /api/v1/transactions/{id}/sync", h.TransactionSyncStatus)
	mux.HandleFunc("DELETE /api/v1/transactions/{txid}/splits/{id}/sync", h.SyncDeletedSplit)
	mux.HandleFunc("PUT /api/v1/splits/{id}/sync", h.SyncUpdatedSplit)
	mux.HandleFunc("GET /api/v1/splits/{id}/sync", h.SplitSyncStatus)
	mux.HandleFunc("POST /api/v1/sync/{id}/retry", h.RetrySync)
	mux.HandleFunc("GET /api/v1/sync/failed", h.ListRetryableFailures)

	mux.HandleFunc("GET /api/v1/connections/{provider}/authorize", h.Authorize)
	mux.HandleFunc("GET /api/v1/connections/{provider}/callback", h.AuthorizeCallback)
	mux.HandleFunc("POST /api/v1/connections/{provider}", h.ConnectAPIKey)
	mux.HandleFunc("GET /api/v1/connections/{id}/validate", h.ValidateConnection)

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health reports whether the database answers a ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Time: now})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: now})
}

// pathUUID parses a UUID path value, writing a 400 response when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// requestUser returns the caller's user id, writing a 401 response when the
// header is missing or malformed.
func requestUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(userIDHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+userIDHeader+" header")
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps use-case and provider errors to HTTP responses.
// Anything unrecognized is logged and reported as a 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var pe *driven.ProviderError

	switch {
	case errors.Is(err, application.ErrRetryLimitReached):
		writeError(w, http.StatusConflict, "retry limit reached")
	case errors.Is(err, application.ErrSplitNotMapped):
		writeError(w, http.StatusConflict, "split is no longer mapped to the provider")
	case errors.Is(err, application.ErrSyncRecordNotFound):
		writeError(w, http.StatusNotFound, "sync record not found")
	case errors.Is(err, application.ErrSplitNotFound):
		writeError(w, http.StatusNotFound, "split not found")
	case errors.Is(err, application.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, application.ErrConnectionNotFound):
		writeError(w, http.StatusNotFound, "provider connection not found")
	case errors.Is(err, application.ErrProviderNotSupported):
		writeError(w, http.StatusNotFound, "provider not supported")
	case errors.Is(err, application.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "invalid authorization state")
	case errors.Is(err, application.ErrCredentialsRejected):
		writeError(w, http.StatusUnprocessableEntity, "provider rejected the credentials")
	case errors.Is(err, driven.ErrEncryptionKeyNotSet):
		writeError(w, http.StatusServiceUnavailable, "credential encryption is not configured")
	case errors.As(err, &pe) && !errors.Is(err, application.ErrCredentialsUnreadable):
		h.logger.Warn("provider call failed", "op", op, "kind", pe.Kind, "error", err)
		writeError(w, providerStatus(pe), pe.Error())
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func providerStatus(pe *driven.ProviderError) int {
	switch pe.Kind {
	case driven.ErrKindConfiguration:
		return http.StatusBadRequest
	case driven.ErrKindRateLimited:
		return http.StatusTooManyRequests
	case driven.ErrKindAuthenticationFailed, driven.ErrKindTokenExpired:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}
