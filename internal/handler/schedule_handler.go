package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rsilveira/streamcast/internal/model"
	"github.com/rsilveira/streamcast/internal/service"
)

// ScheduleHandler handles schedule CRUD operations
type ScheduleHandler struct {
	schedules *service.ScheduleService
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(schedules *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{
		schedules: schedules,
	}
}

// ListSchedulesResponse represents the schedule list response
type ListSchedulesResponse struct {
	Total   int              `json:"total"`
	Results []model.Schedule `json:"results"`
}

// DeleteScheduleResponse represents the delete response
type DeleteScheduleResponse struct {
	Message string `json:"message"`
}

// Create handles POST /api/v1/schedules
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	schedule, err := h.schedules.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrSessionUnavailable) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, schedule)
}

// Get handles GET /api/v1/schedules/{id}
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.schedules.GetByID(r.Context(), scheduleID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, schedule)
}

// List handles GET /api/v1/schedules
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.schedules.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListSchedulesResponse{
		Total:   len(schedules),
		Results: schedules,
	})
}

// Update handles PUT /api/v1/schedules/{id}
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	schedule, err := h.schedules.Update(r.Context(), scheduleID(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, schedule)
}

// Delete handles DELETE /api/v1/schedules/{id}
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.schedules.Delete(r.Context(), scheduleID(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteScheduleResponse{
		Message: "Schedule deleted successfully",
	})
}

// scheduleID extracts the schedule ID path segment.
func scheduleID(r *http.Request) string {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/")
	return strings.Split(id, "/")[0]
}
