package httpapi

import (
	"encoding/json"
	"net/http"

	"locallm/internal/backend"
	"locallm/internal/hub"
	"locallm/internal/manager"
	"locallm/internal/service"
	"locallm/pkg/types"
)

// writeJSONError writes the consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}

// writeError maps a service error onto an HTTP status and kind.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeJSONError(w, status, kind, err.Error())
}

// classify maps error types to status codes. Clients branch on the kind
// string, never on message text.
func classify(err error) (int, string) {
	switch {
	case service.IsInvalidRequest(err):
		return http.StatusBadRequest, "invalid_request"
	case service.IsNotFound(err) || manager.IsModelNotFound(err):
		return http.StatusNotFound, "not_found"
	case service.IsConflict(err):
		return http.StatusConflict, "conflict"
	case manager.IsNotDownloaded(err):
		return http.StatusConflict, "not_downloaded"
	case manager.IsCapacityExceeded(err):
		return http.StatusConflict, "capacity"
	case hub.IsAuthError(err):
		return http.StatusBadGateway, "hub_auth"
	case manager.IsEvictionFailed(err) || backend.IsUnavailable(err):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case backend.IsStatusError(err):
		return http.StatusBadGateway, "backend_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
