package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/manpreetbhatti/lattice-sync/internal/db"
	"github.com/manpreetbhatti/lattice-sync/internal/presence"
	"github.com/manpreetbhatti/lattice-sync/internal/room"
)

type API struct {
	rooms    *room.Registry
	tracker  *presence.Tracker
	database *db.Database
}

func New(rooms *room.Registry, tracker *presence.Tracker, database *db.Database) *API {
	return &API{
		rooms:    rooms,
		tracker:  tracker,
		database: database,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	activeRooms, clients := a.rooms.Stats()
	stats := map[string]interface{}{
		"active_rooms":   activeRooms,
		"active_clients": clients,
		"loaded_rooms":   len(a.rooms.Rooms()),
		"editors":        a.tracker.Count(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats(r.Context())
		if err == nil {
			stats["total_pages"] = dbStats["page_count"]
			stats["content_bytes"] = dbStats["content_bytes"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type MemberResponse struct {
	ConnID   string `json:"conn_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

type RoomResponse struct {
	ID       string           `json:"id"`
	Clients  int              `json:"clients"`
	Dirty    bool             `json:"dirty"`
	Document room.Info        `json:"document"`
	Members  []MemberResponse `json:"members,omitempty"`
	Editors  []presence.Entry `json:"editors,omitempty"`
}

func roomSummary(rm *room.Room) RoomResponse {
	return RoomResponse{
		ID:       rm.ID,
		Clients:  rm.Len(),
		Dirty:    rm.Dirty(),
		Document: rm.Document().Info(),
	}
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := a.rooms.Rooms()
	response := make([]RoomResponse, len(rooms))
	for i, rm := range rooms {
		response[i] = roomSummary(rm)
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"rooms": response})
}

func (a *API) liveRoom(w http.ResponseWriter, r *http.Request) (*room.Room, bool) {
	rm, ok := a.rooms.Get(chi.URLParam(r, "roomID"))
	if !ok {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return nil, false
	}
	return rm, true
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, ok := a.liveRoom(w, r)
	if !ok {
		return
	}

	response := roomSummary(rm)
	for _, c := range rm.Members() {
		response.Members = append(response.Members, MemberResponse{
			ConnID:   c.ID(),
			UserID:   c.UserID(),
			UserName: c.UserName(),
		})
	}
	response.Editors = a.tracker.Roster(rm.ID)

	jsonResponse(w, http.StatusOK, response)
}

func (a *API) ResetRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, ok := a.liveRoom(w, r)
	if !ok {
		return
	}

	rm.Reset()
	slog.Warn("room log reset", "room", rm.ID, "clients", rm.Len())
	jsonResponse(w, http.StatusOK, roomSummary(rm))
}

// Presence handlers

type StartEditingRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

type HeartbeatRequest struct {
	UserID string `json:"user_id"`
}

func editorsResponse(w http.ResponseWriter, status int, roomID string, roster []presence.Entry) {
	jsonResponse(w, status, map[string]interface{}{
		"room_id": roomID,
		"editors": roster,
	})
}

func (a *API) ListEditorsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	editorsResponse(w, http.StatusOK, roomID, a.tracker.Roster(roomID))
}

func (a *API) StartEditingHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req StartEditingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SessionID == "" || req.UserID == "" {
		errorResponse(w, http.StatusBadRequest, "session_id and user_id are required")
		return
	}

	roster := a.tracker.StartEditing(roomID, req.SessionID, req.UserID, req.UserName)
	editorsResponse(w, http.StatusOK, roomID, roster)
}

func (a *API) StopEditingHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	roster := a.tracker.StopEditing(roomID, chi.URLParam(r, "sessionID"))
	editorsResponse(w, http.StatusOK, roomID, roster)
}

func (a *API) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		errorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if !a.tracker.Heartbeat(chi.URLParam(r, "sessionID"), req.UserID) {
		errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Page handlers

type CreatePageRequest struct {
	Title string `json:"title"`
}

func (a *API) ListPagesHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	pages, err := a.database.ListPages(r.Context(), limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list pages")
		return
	}
	if pages == nil {
		pages = []db.Page{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"pages":  pages,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreatePageHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	page, err := a.database.CreatePage(r.Context(), req.Title)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create page")
		return
	}
	jsonResponse(w, http.StatusCreated, page)
}

func (a *API) GetPageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "pageID"), 10, 64)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	page, err := a.database.GetPage(r.Context(), id)
	if errors.Is(err, db.ErrPageNotFound) {
		errorResponse(w, http.StatusNotFound, "Page not found")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get page")
		return
	}
	jsonResponse(w, http.StatusOK, page)
}
