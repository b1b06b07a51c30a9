package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ernie/killfeed/internal/domain"
	"github.com/ernie/killfeed/internal/storage"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// lookupServer resolves the {id} path value, writing the error response on failure
func (r *Router) lookupServer(w http.ResponseWriter, req *http.Request) (*domain.Server, bool) {
	srv, err := r.store.GetServerByID(req.Context(), req.PathValue("id"))
	if errors.Is(err, storage.ErrServerNotFound) {
		writeError(w, http.StatusNotFound, "server not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return srv, true
}

// handleGetServers returns all servers
func (r *Router) handleGetServers(w http.ResponseWriter, req *http.Request) {
	servers, err := r.store.GetServers(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if servers == nil {
		servers = []domain.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

// handleGetServer returns a single server
func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	srv, ok := r.lookupServer(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// CreateServerRequest is the request body for registering a server
type CreateServerRequest struct {
	Name            string `json:"name"`
	Endpoint        string `json:"endpoint"`
	LogPath         string `json:"log_path"`
	DeathLogDir     string `json:"death_log_dir"`
	LogChannel      string `json:"log_channel"`
	KillfeedChannel string `json:"killfeed_channel"`
}

// handleCreateServer registers a server under a new stable ID
func (r *Router) handleCreateServer(w http.ResponseWriter, req *http.Request) {
	var body CreateServerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || body.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "name and endpoint are required")
		return
	}
	if body.LogPath == "" && body.DeathLogDir == "" {
		writeError(w, http.StatusBadRequest, "log_path or death_log_dir is required")
		return
	}
	if !validateChannel(body.LogChannel) || !validateChannel(body.KillfeedChannel) {
		writeError(w, http.StatusBadRequest, "invalid channel")
		return
	}

	if _, err := r.store.GetServerByName(req.Context(), body.Name); err == nil {
		writeError(w, http.StatusConflict, "server name already registered")
		return
	} else if !errors.Is(err, storage.ErrServerNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	srv := &domain.Server{
		Name:            body.Name,
		Endpoint:        body.Endpoint,
		LogPath:         body.LogPath,
		DeathLogDir:     body.DeathLogDir,
		LogChannel:      body.LogChannel,
		KillfeedChannel: body.KillfeedChannel,
	}
	if err := r.store.CreateServer(req.Context(), srv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	r.logger.Info("server registered", "server", srv.Name, "server_id", srv.ID)
	writeJSON(w, http.StatusCreated, srv)
}

// handleDeleteServer deregisters a server and drops its cached cursors
func (r *Router) handleDeleteServer(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.store.DeleteServer(req.Context(), id); err != nil {
		if errors.Is(err, storage.ErrServerNotFound) {
			writeError(w, http.StatusNotFound, "server not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.cursors.Forget(id)

	r.logger.Info("server deregistered", "server_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpdateChannelsRequest changes notification destinations. Omitted fields
// keep their current value; an empty string disables the destination.
type UpdateChannelsRequest struct {
	LogChannel      *string `json:"log_channel"`
	KillfeedChannel *string `json:"killfeed_channel"`
}

// handleUpdateChannels changes where a server's notifications go
func (r *Router) handleUpdateChannels(w http.ResponseWriter, req *http.Request) {
	srv, ok := r.lookupServer(w, req)
	if !ok {
		return
	}

	var body UpdateChannelsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.LogChannel != nil {
		srv.LogChannel = *body.LogChannel
	}
	if body.KillfeedChannel != nil {
		srv.KillfeedChannel = *body.KillfeedChannel
	}
	if !validateChannel(srv.LogChannel) || !validateChannel(srv.KillfeedChannel) {
		writeError(w, http.StatusBadRequest, "invalid channel")
		return
	}

	if err := r.store.UpdateChannels(req.Context(), srv.ID, srv.LogChannel, srv.KillfeedChannel); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// handleGetCursors returns the read positions and file registry of a server
func (r *Router) handleGetCursors(w http.ResponseWriter, req *http.Request) {
	srv, ok := r.lookupServer(w, req)
	if !ok {
		return
	}

	ctx := req.Context()
	serverLog, err := r.cursors.Cursor(ctx, srv.ID, domain.SourceServerLog)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	deathLog, err := r.cursors.Cursor(ctx, srv.ID, domain.SourceDeathLog)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	files, err := r.cursors.ProcessedFiles(ctx, srv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []string{}
	}

	writeJSON(w, http.StatusOK, domain.CursorStatus{
		ServerLog:      serverLog,
		DeathLog:       deathLog,
		ProcessedFiles: files,
	})
}

// handleGetEvents returns the most recently dispatched events of a server
func (r *Router) handleGetEvents(w http.ResponseWriter, req *http.Request) {
	srv, ok := r.lookupServer(w, req)
	if !ok {
		return
	}

	events, err := r.store.GetRecentEvents(req.Context(), srv.ID, parseLimit(req, 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []domain.EventRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}

// LeaderboardEntry is one ranked player
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	domain.PlayerStats
	KDRatio float64 `json:"kd_ratio"`
}

// handleGetLeaderboard returns top players by the requested category
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)

	category := req.URL.Query().Get("category")
	if category == "" {
		category = "kills"
	}
	if !validateCategory(category) {
		writeError(w, http.StatusBadRequest, "invalid category")
		return
	}

	stats, err := r.store.GetLeaderboard(req.Context(), category, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]LeaderboardEntry, len(stats))
	for i, ps := range stats {
		entries[i] = LeaderboardEntry{Rank: i + 1, PlayerStats: ps, KDRatio: ps.KDRatio()}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"entries":  entries,
	})
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
