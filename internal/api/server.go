// Package api serves the live presence state over HTTP: room occupancy,
// person locations, the movement log, and active groups.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/presence.report/internal/groups"
	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/rooms"
	"github.com/banshee-data/presence.report/internal/store"
	"github.com/banshee-data/presence.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	rooms  *rooms.Manager
	groups *groups.Analyzer
	db     *store.Store
}

func NewServer(rooms *rooms.Manager, groups *groups.Analyzer, db *store.Store) *Server {
	return &Server{
		rooms:  rooms,
		groups: groups,
		db:     db,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", s.listRooms)
	mux.HandleFunc("/persons", s.listPersons)
	mux.HandleFunc("/movements", s.listMovements)
	mux.HandleFunc("/groups", s.listGroups)
	mux.HandleFunc("/version", s.showVersion)
	mux.HandleFunc("/", s.notFound)
	return mux
}

// notFound catches every unregistered path with a JSON 404.
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.NotFound(w, "not found")
}

// listRooms returns the occupancy of every registered room, empty rooms
// included.
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.rooms.AllRoomsStatus())
}

// listPersons returns every known identity and its last known location.
func (s *Server) listPersons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	persons, err := s.db.PersonLocations()
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve persons")
		return
	}
	if persons == nil {
		persons = []store.PersonLocation{}
	}
	httputil.WriteJSONOK(w, persons)
}

// listMovements returns the most recent movement log entries, newest first.
// The limit query parameter defaults to 100 and is capped at 1000.
func (s *Server) listMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	movements, err := s.db.Movements(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve movements")
		return
	}
	if movements == nil {
		movements = []store.Movement{}
	}
	httputil.WriteJSONOK(w, movements)
}

// listGroups returns the currently active travel groups.
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.groups.ActiveGroups())
}

// showVersion reports the build metadata baked in at link time.
func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
