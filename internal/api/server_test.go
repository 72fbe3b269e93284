package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/groups"
	"github.com/banshee-data/presence.report/internal/rooms"
	"github.com/banshee-data/presence.report/internal/store"
)

func setupTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	db, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp("../../migrations"))

	roomState := rooms.NewManager(db, db, 7*time.Second, time.Second)
	groupState := groups.NewAnalyzer(db, 10*time.Second)

	return NewServer(roomState, groupState, db), db
}

func TestListRooms(t *testing.T) {
	server, db := setupTestServer(t)
	require.NoError(t, db.AddRoom("lobby"))
	require.NoError(t, db.AddRoom("kitchen"))
	server.rooms.UpdateRoom("lobby", []string{"p1"})

	rr := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var status map[string]rooms.RoomStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Len(t, status, 2)
	assert.Equal(t, 1, status["lobby"].Count)
	assert.Equal(t, 0, status["kitchen"].Count)
}

func TestListPersons(t *testing.T) {
	server, db := setupTestServer(t)
	require.NoError(t, db.UpsertPersonLocation("p1", "lobby"))

	rr := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/persons", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var persons []store.PersonLocation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &persons))
	require.Len(t, persons, 1)
	assert.Equal(t, "p1", persons[0].PersonID)
	assert.Equal(t, "lobby", persons[0].Room)
}

func TestListMovements(t *testing.T) {
	server, db := setupTestServer(t)
	require.NoError(t, db.RecordMovement("p1", "lobby", "kitchen"))

	t.Run("default limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		server.ServeMux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/movements", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var movements []store.Movement
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &movements))
		require.Len(t, movements, 1)
		assert.Equal(t, "kitchen", movements[0].ToRoom)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		server.ServeMux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/movements?limit=0", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rr := httptest.NewRecorder()
		server.ServeMux().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/movements", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestUnknownPathReturnsNotFound(t *testing.T) {
	server, _ := setupTestServer(t)

	rr := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListGroups(t *testing.T) {
	server, _ := setupTestServer(t)

	now := time.Now()
	server.groups.AnalyzeMovement("p1", "lobby", "kitchen", now)
	server.groups.AnalyzeMovement("p2", "lobby", "kitchen", now)

	rr := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/groups", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var active []groups.Group
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Equal(t, []string{"p1", "p2"}, active[0].Members)
}
