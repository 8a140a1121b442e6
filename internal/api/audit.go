package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/nerrad567/godaikin-mqtt/internal/audit"
)

// handleListAudit returns paginated command audit entries with optional
// filters.
//
// Query parameters:
//   - device_id: filter by device
//   - outcome: filter by outcome (ok, invalid, rejected, transient, auth, not_found, error)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Outcome:  q.Get("outcome"),
	}
	if len(filter.DeviceID) > maxQueryParamLen || len(filter.Outcome) > maxQueryParamLen {
		writeBadRequest(w, "filter exceeds maximum length")
		return
	}

	var err error
	if filter.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		writeBadRequest(w, fmt.Sprintf("limit: %v", err))
		return
	}
	if filter.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		writeBadRequest(w, fmt.Sprintf("offset: %v", err))
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseIntParam parses an optional non-negative integer. Empty is zero,
// which lets the repository apply its defaults.
func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return n, nil
}
