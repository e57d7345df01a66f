package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rsilveira/streamcast/internal/model"
	"github.com/rsilveira/streamcast/internal/notifier"
	"github.com/rsilveira/streamcast/internal/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionHandler handles session CRUD and lifecycle operations
type SessionHandler struct {
	sessions  *service.SessionService
	schedules *service.ScheduleService
	events    notifier.Notifier
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *service.SessionService, schedules *service.ScheduleService, events notifier.Notifier) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		schedules: schedules,
		events:    events,
	}
}

// CreateSessionRequest represents the session creation payload
type CreateSessionRequest struct {
	SourcePath string `json:"source_path"`
	SourceName string `json:"source_name"`
	Platform   string `json:"platform"`
	StreamKey  string `json:"stream_key"`
}

// UpdateSessionRequest represents the session update payload
type UpdateSessionRequest struct {
	StreamKey string `json:"stream_key"`
	Platform  string `json:"platform"`
}

// SessionDetailResponse wraps a session with a live process probe. The probe is
// only populated for active sessions.
type SessionDetailResponse struct {
	*model.Session
	ProcessRunning *bool `json:"process_running,omitempty"`
}

// ListSessionsResponse represents the session list response
type ListSessionsResponse struct {
	Total   int             `json:"total"`
	Results []model.Session `json:"results"`
}

// DeleteSessionResponse represents the delete response
type DeleteSessionResponse struct {
	Message string `json:"message"`
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	session := &model.Session{
		SourcePath: req.SourcePath,
		SourceName: req.SourceName,
		Platform:   req.Platform,
		StreamKey:  req.StreamKey,
	}

	if err := h.sessions.Create(r.Context(), session); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.events.Publish(notifier.SessionEvent(notifier.EventSessionCreated, session.ID.Hex()))

	writeJSON(w, http.StatusCreated, session)
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	session, err := h.sessions.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := SessionDetailResponse{Session: session}
	if session.Status == model.StatusActive {
		running, err := h.sessions.IsRunning(r.Context(), session)
		if err == nil {
			response.ProcessRunning = &running
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *model.SessionStatus
	if value := r.URL.Query().Get("status"); value != "" {
		s := model.SessionStatus(value)
		if s != model.StatusActive && s != model.StatusInactive {
			writeError(w, http.StatusBadRequest, "Invalid status filter: "+value)
			return
		}
		status = &s
	}

	sessions, err := h.sessions.List(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListSessionsResponse{
		Total:   len(sessions),
		Results: sessions,
	})
}

// Start handles POST /api/v1/sessions/{id}/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	objID, err := primitive.ObjectIDFromHex(sessionID(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session ID format")
		return
	}

	session, err := h.sessions.Start(r.Context(), objID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.events.Publish(notifier.SessionEvent(notifier.EventSessionStarted, session.ID.Hex()))

	writeJSON(w, http.StatusOK, session)
}

// Stop handles POST /api/v1/sessions/{id}/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	objID, err := primitive.ObjectIDFromHex(sessionID(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session ID format")
		return
	}

	session, err := h.sessions.Stop(r.Context(), objID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.events.Publish(notifier.SessionEvent(notifier.EventSessionStopped, session.ID.Hex()))

	writeJSON(w, http.StatusOK, session)
}

// Update handles PUT /api/v1/sessions/{id}
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	session, err := h.sessions.Update(r.Context(), id, req.StreamKey, req.Platform)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.events.Publish(notifier.SessionEvent(notifier.EventSessionUpdated, session.ID.Hex()))

	writeJSON(w, http.StatusOK, session)
}

// Delete handles DELETE /api/v1/sessions/{id}. Schedules referencing the
// session are removed in cascade.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	if err := h.sessions.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.schedules.DeleteBySession(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Session deleted but schedule cascade failed: "+err.Error())
		return
	}

	h.events.Publish(notifier.SessionEvent(notifier.EventSessionDeleted, id))

	writeJSON(w, http.StatusOK, DeleteSessionResponse{
		Message: "Session deleted successfully",
	})
}

// sessionID extracts the session ID path segment.
func sessionID(r *http.Request) string {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	return strings.Split(id, "/")[0]
}
