package api

import (
	"log/slog"
	"net/http"

	"github.com/ernie/killfeed/internal/auth"
	"github.com/ernie/killfeed/internal/cursor"
	"github.com/ernie/killfeed/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux     *http.ServeMux
	store   *storage.Store
	cursors *cursor.Store
	wsHub   *WebSocketHub
	auth    *auth.Service
	logger  *slog.Logger
}

// NewRouter creates a new HTTP router. The hub is owned by the caller so
// the dispatcher can deliver notifications to it.
func NewRouter(store *storage.Store, cursors *cursor.Store, hub *WebSocketHub, authService *auth.Service, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		store:   store,
		cursors: cursors,
		wsHub:   hub,
		auth:    authService,
		logger:  logger,
	}

	// Server registry
	r.mux.HandleFunc("GET /api/servers", r.handleGetServers)
	r.mux.HandleFunc("GET /api/servers/{id}", r.handleGetServer)
	r.mux.HandleFunc("POST /api/servers", r.requireAdmin(r.handleCreateServer))
	r.mux.HandleFunc("DELETE /api/servers/{id}", r.requireAdmin(r.handleDeleteServer))
	r.mux.HandleFunc("PATCH /api/servers/{id}/channels", r.requireAdmin(r.handleUpdateChannels))

	// Ingestion state
	r.mux.HandleFunc("GET /api/servers/{id}/cursors", r.handleGetCursors)
	r.mux.HandleFunc("GET /api/servers/{id}/events", r.handleGetEvents)

	r.mux.HandleFunc("GET /api/leaderboard", r.handleGetLeaderboard)

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)
	r.mux.HandleFunc("POST /api/auth/change-password", r.requireAuth(r.handleChangePassword))

	// WebSocket notification stream
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
