// Package httpapi provides the REST, SSE, and WebSocket adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/hylla/shiftsync/internal/adapters/ratelimit"
	"github.com/hylla/shiftsync/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Stream defaults.
const (
	DefaultPingInterval = 15 * time.Second
	DefaultMaxSession   = 5 * time.Minute
)

// WriteLimiter meters writes per team and actor.
type WriteLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Services bundles the app-facing contracts served by the handler; nil services answer 501.
type Services struct {
	Cells     common.CellService
	Locks     common.LockService
	Feed      common.FeedService
	Snapshots common.SnapshotService
	Reconcile common.ReconcileService
	Limiter   WriteLimiter
	Logger    common.Logger
}

// Config tunes the streaming endpoints.
type Config struct {
	PingInterval     time.Duration
	MaxSession       time.Duration
	WSOriginPatterns []string
}

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	services Services
	cfg      Config
	logger   common.Logger
	jsonAPI  http.Handler
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter.
func NewHandler(services Services, cfg Config) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.MaxSession <= 0 {
		cfg.MaxSession = DefaultMaxSession
	}
	logger := services.Logger
	if logger == nil {
		logger = common.NopLogger{}
	}
	h := &Handler{
		services: services,
		cfg:      cfg,
		logger:   logger,
	}
	h.jsonAPI = gziphandler.GzipHandler(http.HandlerFunc(h.routeJSON))
	return h
}

// ServeHTTP routes one versioned API request; stream routes bypass compression.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch normalizePath(r.URL.Path) {
	case "events":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleEvents(w, r)
	case "ws":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleWebSocket(w, r)
	default:
		h.jsonAPI.ServeHTTP(w, r)
	}
}

// routeJSON routes request/response endpoints.
func (h *Handler) routeJSON(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)
	switch path {
	case "write":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleWrite(w, r)
	case "lock":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleLock(w, r)
	case "cell":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetCell(w, r)
	case "grid":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetGrid(w, r)
	case "ops":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListOps(w, r)
	case "snapshots":
		switch r.Method {
		case http.MethodGet:
			h.handleListSnapshots(w, r)
		case http.MethodPost:
			h.handleCreateSnapshot(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case "reconcile":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleReconcile(w, r)
	default:
		snapshotID, ok := resolveSnapshotRestoreID(path)
		if !ok {
			writeJSONError(w, http.StatusNotFound, APIError{
				Code:    "not_found",
				Message: "endpoint not found",
			})
			return
		}
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleRestoreSnapshot(w, r, snapshotID)
	}
}

// handleWrite serves POST `/write`; conflicts are 200 responses.
func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	if h.services.Cells == nil {
		writeNotImplemented(w, "cell writes")
		return
	}
	req, err := decodeWriteBody(r.Context(), w, r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	if !h.allowWrite(w, r, req.Team, req.Actor) {
		return
	}
	result, err := h.services.Cells.WriteCell(r.Context(), req)
	if err != nil {
		h.logFailure("write cell", err)
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// allowWrite applies the per-writer budget; limiter outages fail open.
func (h *Handler) allowWrite(w http.ResponseWriter, r *http.Request, team, actor string) bool {
	if h.services.Limiter == nil {
		return true
	}
	decision, err := h.services.Limiter.Allow(r.Context(), ratelimit.Key(team, actor))
	if err != nil {
		h.logger.Warn("rate limiter unavailable; allowing write", "team", team, "actor", actor, "err", err)
		return true
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
	if decision.Allowed {
		return true
	}
	retryAfter := max(int64(time.Until(decision.Reset).Seconds()), 1)
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	writeErrorFrom(w, fmt.Errorf("write budget exhausted for %s: %w", actor, common.ErrRateLimited))
	return false
}

// handleLock serves POST `/lock`; a failed renew answers 409 with the current holder.
func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	if h.services.Locks == nil {
		writeNotImplemented(w, "soft locks")
		return
	}
	var req common.LockRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := h.services.Locks.Lock(r.Context(), req)
	switch {
	case errors.Is(err, common.ErrLockNotHeld):
		writeJSON(w, http.StatusConflict, result)
	case err != nil:
		h.logFailure("lock cell", err)
		writeErrorFrom(w, err)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// handleGetCell serves GET `/cell`.
func (h *Handler) handleGetCell(w http.ResponseWriter, r *http.Request) {
	if h.services.Cells == nil {
		writeNotImplemented(w, "cell reads")
		return
	}
	query := r.URL.Query()
	cell, err := h.services.Cells.GetCell(r.Context(), common.GetCellRequest{
		Team:     strings.TrimSpace(query.Get("team")),
		Day:      strings.TrimSpace(query.Get("day")),
		Employee: strings.TrimSpace(query.Get("employee")),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

// handleGetGrid serves GET `/grid`.
func (h *Handler) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	if h.services.Cells == nil {
		writeNotImplemented(w, "grid reads")
		return
	}
	query := r.URL.Query()
	grid, err := h.services.Cells.GetGrid(r.Context(), common.GetGridRequest{
		Team: strings.TrimSpace(query.Get("team")),
		Day:  strings.TrimSpace(query.Get("day")),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

// handleListOps serves GET `/ops`.
func (h *Handler) handleListOps(w http.ResponseWriter, r *http.Request) {
	if h.services.Feed == nil {
		writeNotImplemented(w, "operation feed")
		return
	}
	query := r.URL.Query()
	since, err := parseInt64Query(query.Get("since"), "since")
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	limit, err := parseInt64Query(query.Get("limit"), "limit")
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	page, err := h.services.Feed.ListOps(r.Context(), common.ListOpsRequest{
		Team:  strings.TrimSpace(query.Get("team")),
		Day:   strings.TrimSpace(query.Get("day")),
		Since: since,
		Limit: int(min(limit, 1<<20)),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleCreateSnapshot serves POST `/snapshots`.
func (h *Handler) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.services.Snapshots == nil {
		writeNotImplemented(w, "snapshots")
		return
	}
	var req common.CreateSnapshotRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	snapshot, err := h.services.Snapshots.CreateSnapshot(r.Context(), req)
	if err != nil {
		h.logFailure("create snapshot", err)
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

// handleListSnapshots serves GET `/snapshots`.
func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.services.Snapshots == nil {
		writeNotImplemented(w, "snapshots")
		return
	}
	query := r.URL.Query()
	snapshots, err := h.services.Snapshots.ListSnapshots(r.Context(), common.ListSnapshotsRequest{
		Team: strings.TrimSpace(query.Get("team")),
		Day:  strings.TrimSpace(query.Get("day")),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snapshots,
	})
}

// handleRestoreSnapshot serves POST `/snapshots/{id}/restore`.
func (h *Handler) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request, snapshotID string) {
	if h.services.Snapshots == nil {
		writeNotImplemented(w, "snapshots")
		return
	}
	var req common.RestoreSnapshotRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ID = snapshotID
	result, err := h.services.Snapshots.RestoreSnapshot(r.Context(), req)
	if err != nil {
		h.logFailure("restore snapshot", err)
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleReconcile serves POST `/reconcile`.
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.services.Reconcile == nil {
		writeNotImplemented(w, "reconcile")
		return
	}
	var req common.ReconcileRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := h.services.Reconcile.Reconcile(r.Context(), req)
	if err != nil {
		h.logFailure("reconcile", err)
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// logFailure logs unexpected server-side failures; caller mistakes stay quiet.
func (h *Handler) logFailure(operation string, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidRequest),
		errors.Is(err, common.ErrDisallowedValue),
		errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrLockNotHeld):
		return
	}
	h.logger.Error("request failed", "operation", operation, "err", err)
}

// resolveSnapshotRestoreID parses `/snapshots/{id}/restore` and returns `{id}`.
func resolveSnapshotRestoreID(path string) (string, bool) {
	const (
		prefix = "snapshots/"
		suffix = "/restore"
	)
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix))
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// parseInt64Query parses one optional non-negative integer query value.
func parseInt64Query(raw, name string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, common.ErrInvalidRequest)
	}
	return value, nil
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrDisallowedValue):
		writeJSONError(w, http.StatusUnprocessableEntity, APIError{
			Code:    "disallowed_value",
			Message: err.Error(),
			Hint:    "Use one of the configured shift codes, or an empty value to clear the cell.",
		})
	case errors.Is(err, common.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, APIError{
			Code:    "rate_limited",
			Message: err.Error(),
			Hint:    "Retry after the X-RateLimit-Reset time with the same clientId and clientSeq.",
		})
	case errors.Is(err, common.ErrLockNotHeld):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "lock_not_held",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
			Hint:    "Transient failures are safe to retry with the same clientId and clientSeq.",
		})
	}
}

// writeNotImplemented writes a structured 501 for unwired services.
func writeNotImplemented(w http.ResponseWriter, surface string) {
	writeJSONError(w, http.StatusNotImplemented, APIError{
		Code:    "not_implemented",
		Message: surface + " are not available",
	})
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// writeCellBody shadows the request value so a null or missing value is distinguishable from a clear.
type writeCellBody struct {
	common.WriteCellRequest
	Value *string `json:"value"`
}

// decodeWriteBody decodes one write request; the value must be a JSON string, empty for a clear.
func decodeWriteBody(ctx context.Context, w http.ResponseWriter, r *http.Request) (common.WriteCellRequest, error) {
	var body writeCellBody
	if err := decodeJSONBody(ctx, w, r, &body); err != nil {
		return common.WriteCellRequest{}, err
	}
	if body.Value == nil {
		return common.WriteCellRequest{}, fmt.Errorf("decode request body: value must be a string: %w", common.ErrDisallowedValue)
	}
	req := body.WriteCellRequest
	req.Value = *body.Value
	return req, nil
}

// isValueField reports whether a decode failure path names a cell value.
func isValueField(field string) bool {
	return field == "value" || strings.HasSuffix(field, ".value")
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && isValueField(typeErr.Field) {
			return fmt.Errorf("decode request body: %w", errors.Join(common.ErrDisallowedValue, err))
		}
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
