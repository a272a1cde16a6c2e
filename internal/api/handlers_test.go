package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/lattice-sync/internal/db"
	"github.com/manpreetbhatti/lattice-sync/internal/presence"
	"github.com/manpreetbhatti/lattice-sync/internal/room"
)

type stubConn struct{ id, user string }

func (s stubConn) ID() string        { return s.id }
func (s stubConn) UserID() string    { return s.user }
func (s stubConn) UserName() string  { return "User " + s.user }
func (s stubConn) Send([]byte) error { return nil }
func (s stubConn) Open() bool        { return true }
func (s stubConn) Close() error      { return nil }

type testAPI struct {
	handler http.Handler
	rooms   *room.Registry
	tracker *presence.Tracker
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	rooms := room.NewRegistry()
	tracker := presence.NewTracker()
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	api := New(rooms, tracker, database)
	return &testAPI{
		handler: api.Router(RouterOptions{WebSocket: ws, WSPrefixes: []string{"/ws/yjs", "/ws/collaborative"}}),
		rooms:   rooms,
		tracker: tracker,
	}
}

func (ta *testAPI) do(t *testing.T, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	ta.handler.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealthHandler(t *testing.T) {
	ta := setupTestAPI(t)

	w, body := ta.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatsHandler(t *testing.T) {
	ta := setupTestAPI(t)
	ta.rooms.Join("1", stubConn{"c1", "u1"})
	ta.rooms.Join("1", stubConn{"c2", "u2"})
	ta.rooms.Join("2", stubConn{"c3", "u1"})
	ta.tracker.StartEditing("1", "c1", "u1", "Ann")

	_, body := ta.do(t, http.MethodPost, "/api/pages", CreatePageRequest{Title: "Notes"})
	require.NotNil(t, body)

	w, body := ta.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["active_rooms"])
	assert.Equal(t, float64(3), body["active_clients"])
	assert.Equal(t, float64(1), body["editors"])
	assert.Equal(t, float64(1), body["total_pages"])
}

func TestRoomHandlers(t *testing.T) {
	ta := setupTestAPI(t)
	rm := ta.rooms.Join("42", stubConn{"c1", "u1"})
	rm.ApplyUpdate(nil, []byte{1, 2})
	ta.tracker.StartEditing("42", "c1", "u1", "Ann")

	w, body := ta.do(t, http.MethodGet, "/api/rooms", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["rooms"], 1)

	w, body = ta.do(t, http.MethodGet, "/api/rooms/42", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", body["id"])
	assert.Equal(t, true, body["dirty"])
	doc := body["document"].(map[string]interface{})
	assert.Equal(t, float64(1), doc["version"])
	assert.Len(t, body["members"], 1)
	assert.Len(t, body["editors"], 1)

	w, _ = ta.do(t, http.MethodGet, "/api/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = ta.do(t, http.MethodPost, "/api/rooms/42/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["dirty"])
	assert.Zero(t, rm.Document().Version())
}

func TestEditorHandlers(t *testing.T) {
	ta := setupTestAPI(t)

	w, body := ta.do(t, http.MethodPost, "/api/rooms/42/editors", StartEditingRequest{SessionID: "s1", UserID: "u1", UserName: "Ann"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["editors"], 1)

	_, body = ta.do(t, http.MethodPost, "/api/rooms/42/editors", StartEditingRequest{SessionID: "s2", UserID: "u1", UserName: "Ann"})
	assert.Len(t, body["editors"], 2)

	w, _ = ta.do(t, http.MethodPost, "/api/rooms/42/editors", StartEditingRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ta.do(t, http.MethodPost, "/api/sessions/s1/heartbeat", HeartbeatRequest{UserID: "u1"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = ta.do(t, http.MethodPost, "/api/sessions/s1/heartbeat", HeartbeatRequest{UserID: "someone-else"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = ta.do(t, http.MethodDelete, "/api/rooms/42/editors/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["editors"], 1)

	_, body = ta.do(t, http.MethodGet, "/api/rooms/42/editors", nil)
	editors := body["editors"].([]interface{})
	require.Len(t, editors, 1)
	assert.Equal(t, "s2", editors[0].(map[string]interface{})["session_id"])
}

func TestPageHandlers(t *testing.T) {
	ta := setupTestAPI(t)

	w, body := ta.do(t, http.MethodPost, "/api/pages", CreatePageRequest{Title: "Roadmap"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Roadmap", body["title"])

	w, body = ta.do(t, http.MethodGet, "/api/pages/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["id"])

	w, _ = ta.do(t, http.MethodGet, "/api/pages/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ta.do(t, http.MethodGet, "/api/pages/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = ta.do(t, http.MethodGet, "/api/pages?limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(20), body["limit"])
	assert.Len(t, body["pages"], 1)
}

func TestWebSocketMounts(t *testing.T) {
	ta := setupTestAPI(t)

	for _, target := range []string{"/ws/yjs/42", "/ws/collaborative/42?userId=a"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		ta.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusTeapot, w.Code, target)
	}
}
