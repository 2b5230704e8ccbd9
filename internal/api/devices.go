package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-integration/internal/adapter"
	"github.com/nerrad567/gray-logic-integration/internal/audit"
	"github.com/nerrad567/gray-logic-integration/internal/platform"
	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// CommandResponse is returned once a command has been acknowledged.
type CommandResponse struct {
	DeviceID  string             `json:"device_id"`
	Operation protocol.Operation `json:"operation"`
	Status    string             `json:"status"`
	State     any                `json:"state,omitempty"`
}

// handleListDevices lists configured devices, optionally filtered by
// ?category= or ?backend=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	category := adapter.Category(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		writeBadRequest(w, "unknown category: "+string(category))
		return
	}

	var backend protocol.Kind
	if b := r.URL.Query().Get("backend"); b != "" {
		kind, err := protocol.ParseKind(b)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		backend = kind
	}

	all := s.platform.Devices()
	devices := make([]platform.DeviceInfo, 0, len(all))
	for _, d := range all {
		if category != "" && d.Category != category {
			continue
		}
		if backend != "" && d.Backend != backend {
			continue
		}
		devices = append(devices, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device's configuration and binding.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	info, err := s.platform.Device(chi.URLParam(r, "id"))
	if err != nil {
		writePlatformError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleGetDeviceState returns the hub's current snapshot for a device.
// A device with no reported attributes yet has an empty attribute map.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.platform.Hub().Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writePlatformError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDeviceCommand executes a command and waits for the backend's
// acknowledgement. The request context bounds the wait.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.platform.Device(id); err != nil {
		writePlatformError(w, err)
		return
	}

	var req platform.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Operation == "" {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "operation is required")
		return
	}

	ctx := audit.WithOrigin(r.Context(), audit.Origin{
		Source:    audit.SourceAPI,
		RequestID: RequestID(r.Context()),
	})
	if err := s.platform.Execute(ctx, id, req); err != nil {
		s.logger.Warn("device command failed",
			"device_id", id,
			"operation", req.Operation,
			"error", err,
			"request_id", RequestID(r.Context()),
		)
		writePlatformError(w, err)
		return
	}

	resp := CommandResponse{DeviceID: id, Operation: req.Operation, Status: "acknowledged"}
	if snap, err := s.platform.Hub().Snapshot(id); err == nil {
		resp.State = snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCommandHistory pages through a device's command log, newest first.
// Query: ?limit= (default 50, max 200), ?offset=, ?result=ok|rejected|busy|failed.
func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.platform.Device(id); err != nil {
		writePlatformError(w, err)
		return
	}
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotEnabled, "command log requires the database")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{DeviceID: id, Result: q.Get("result")}
	if filter.Result != "" && !audit.ValidResult(filter.Result) {
		writeBadRequest(w, "unknown result: "+filter.Result)
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command history failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to list command history")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
