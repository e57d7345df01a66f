package handler

import (
	"net/http"
	"strings"

	"github.com/rsilveira/streamcast/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	sessionHandler  *SessionHandler
	scheduleHandler *ScheduleHandler
	healthHandler   *HealthHandler
	corsConfig      middleware.CORSConfig
}

// NewRouter creates a new router
func NewRouter(
	sessionHandler *SessionHandler,
	scheduleHandler *ScheduleHandler,
	healthHandler *HealthHandler,
	corsConfig middleware.CORSConfig,
) *Router {
	return &Router{
		sessionHandler:  sessionHandler,
		scheduleHandler: scheduleHandler,
		healthHandler:   healthHandler,
		corsConfig:      corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints (no middleware)
	mux.HandleFunc("/health", rt.healthHandler.Health)
	mux.HandleFunc("/ready", rt.healthHandler.Ready)

	// API endpoints
	mux.HandleFunc("/api/v1/sessions", rt.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", rt.handleSessionsWithID)
	mux.HandleFunc("/api/v1/schedules", rt.handleSchedules)
	mux.HandleFunc("/api/v1/schedules/", rt.handleSchedulesWithID)

	// Apply middleware (CORS first to handle preflight requests)
	handler := middleware.CORS(rt.corsConfig)(mux)
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}

// handleSessions routes session collection endpoints
func (rt *Router) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.sessionHandler.List(w, r)
	case http.MethodPost:
		rt.sessionHandler.Create(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSessionsWithID routes session individual endpoints
func (rt *Router) handleSessionsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")

	// Lifecycle endpoints
	if strings.HasSuffix(path, "/start") {
		if r.Method != http.MethodPost && r.Method != http.MethodOptions {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rt.sessionHandler.Start(w, r)
		return
	}
	if strings.HasSuffix(path, "/stop") {
		if r.Method != http.MethodPost && r.Method != http.MethodOptions {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rt.sessionHandler.Stop(w, r)
		return
	}

	// Handle CRUD operations
	switch r.Method {
	case http.MethodGet:
		rt.sessionHandler.Get(w, r)
	case http.MethodPut:
		rt.sessionHandler.Update(w, r)
	case http.MethodDelete:
		rt.sessionHandler.Delete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSchedules routes schedule collection endpoints
func (rt *Router) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.scheduleHandler.List(w, r)
	case http.MethodPost:
		rt.scheduleHandler.Create(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSchedulesWithID routes schedule individual endpoints
func (rt *Router) handleSchedulesWithID(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.scheduleHandler.Get(w, r)
	case http.MethodPut:
		rt.scheduleHandler.Update(w, r)
	case http.MethodDelete:
		rt.scheduleHandler.Delete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
