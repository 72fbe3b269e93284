// Package store is the sqlite persistence layer: the room registry,
// last-known person locations, the movement and group-movement logs, and
// room visit records. It backs identity recovery across process restarts
// and the reporting queries.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Store wraps the sqlite handle. All times are stored as unix seconds so
// range queries never depend on timestamp string formats.
type Store struct {
	*sql.DB

	path  string
	clock timeutil.Clock
}

// NewStore opens (or creates) the database at path. The schema is managed
// by migrations; call MigrateUp before first use.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps modernc/sqlite away from SQLITE_BUSY under
	// concurrent camera workers.
	db.SetMaxOpenConns(1)
	return &Store{DB: db, path: path, clock: timeutil.RealClock{}}, nil
}

// SetClock replaces the store's time source. Tests only.
func (s *Store) SetClock(clock timeutil.Clock) { s.clock = clock }

// AddRoom registers a room name. Registering an existing room is a no-op.
func (s *Store) AddRoom(name string) error {
	_, err := s.Exec(`INSERT INTO rooms (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING`, name, s.clock.Now().Unix())
	return err
}

// RoomNames returns every registered room, sorted.
func (s *Store) RoomNames() ([]string, error) {
	rows, err := s.Query(`SELECT name FROM rooms ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpsertPersonLocation records that a person is currently in room, clearing
// any open disappearance marker.
func (s *Store) UpsertPersonLocation(personID, room string) error {
	_, err := s.Exec(`INSERT INTO persons (person_id, room, last_seen, disappeared_at, disappeared_from)
		VALUES (?, ?, ?, NULL, NULL)
		ON CONFLICT(person_id) DO UPDATE SET
			room = excluded.room,
			last_seen = excluded.last_seen,
			disappeared_at = NULL,
			disappeared_from = NULL`,
		personID, room, s.clock.Now().Unix())
	return err
}

// ClearPersonLocation forgets a person's location and disappearance marker.
// Used when a stale disappearance record is swept.
func (s *Store) ClearPersonLocation(personID string) error {
	_, err := s.Exec(`UPDATE persons SET room = NULL, disappeared_at = NULL, disappeared_from = NULL
		WHERE person_id = ?`, personID)
	return err
}

// StartVisit opens a visit record for a person entering a room.
func (s *Store) StartVisit(personID, room string) error {
	_, err := s.Exec(`INSERT INTO room_visits (person_id, room, entered_at) VALUES (?, ?, ?)`,
		personID, room, s.clock.Now().Unix())
	return err
}

// EndVisit closes the person's open visit in room, computing its duration,
// and marks the person as disappeared from that room so a tracker on the
// same camera can reclaim the identity shortly afterwards.
func (s *Store) EndVisit(personID, room string) error {
	now := s.clock.Now().Unix()
	_, err := s.Exec(`UPDATE room_visits
		SET left_at = ?, duration_seconds = ? - entered_at
		WHERE id = (SELECT id FROM room_visits
			WHERE person_id = ? AND room = ? AND left_at IS NULL
			ORDER BY entered_at DESC LIMIT 1)`,
		now, now, personID, room)
	if err != nil {
		return err
	}
	_, err = s.Exec(`UPDATE persons SET room = NULL, disappeared_at = ?, disappeared_from = ?
		WHERE person_id = ?`, now, room, personID)
	return err
}

// RecordMovement appends one movement to the log.
func (s *Store) RecordMovement(personID, fromRoom, toRoom string) error {
	_, err := s.Exec(`INSERT INTO movements (person_id, from_room, to_room, at) VALUES (?, ?, ?, ?)`,
		personID, nullIfEmpty(fromRoom), toRoom, s.clock.Now().Unix())
	return err
}

// RecordGroupMovement appends one correlated group movement. Members are
// stored comma-joined; they are already sorted by the analyzer.
func (s *Store) RecordGroupMovement(groupID string, members []string, fromRoom, toRoom string) error {
	_, err := s.Exec(`INSERT INTO group_movements (group_id, members, from_room, to_room, at) VALUES (?, ?, ?, ?, ?)`,
		groupID, strings.Join(members, ","), nullIfEmpty(fromRoom), toRoom, s.clock.Now().Unix())
	return err
}

// FindRecentlyDisappeared returns up to limit identities that disappeared
// within maxAge, most recent first, restricted to those last seen in room or
// with no recorded departure room. A non-positive limit falls back to 10.
func (s *Store) FindRecentlyDisappeared(room string, maxAge time.Duration, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	cutoff := s.clock.Now().Add(-maxAge).Unix()
	rows, err := s.Query(`SELECT person_id FROM persons
		WHERE disappeared_at IS NOT NULL AND disappeared_at >= ?
			AND (disappeared_from IS NULL OR disappeared_from = ?)
		ORDER BY disappeared_at DESC LIMIT ?`, cutoff, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllPersonIDs returns every identity the store has ever recorded. Used to
// seed the identity counter at startup.
func (s *Store) AllPersonIDs() ([]string, error) {
	rows, err := s.Query(`SELECT person_id FROM persons`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Movement is one row of the movement log.
type Movement struct {
	PersonID  string    `json:"person_id"`
	FromRoom  string    `json:"from_room,omitempty"`
	ToRoom    string    `json:"to_room"`
	Timestamp time.Time `json:"timestamp"`
}

// Movements returns the most recent movements, newest first.
func (s *Store) Movements(limit int) ([]Movement, error) {
	rows, err := s.Query(`SELECT person_id, from_room, to_room, at FROM movements
		ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var mv Movement
		var fromRoom sql.NullString
		var at int64
		if err := rows.Scan(&mv.PersonID, &fromRoom, &mv.ToRoom, &at); err != nil {
			return nil, err
		}
		mv.FromRoom = fromRoom.String
		mv.Timestamp = time.Unix(at, 0).UTC()
		out = append(out, mv)
	}
	return out, rows.Err()
}

// GroupMovement is one row of the group movement log.
type GroupMovement struct {
	GroupID   string    `json:"group_id"`
	Members   []string  `json:"members"`
	FromRoom  string    `json:"from_room,omitempty"`
	ToRoom    string    `json:"to_room"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupMovements returns the most recent group movements, newest first.
func (s *Store) GroupMovements(limit int) ([]GroupMovement, error) {
	rows, err := s.Query(`SELECT group_id, members, from_room, to_room, at FROM group_movements
		ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupMovement
	for rows.Next() {
		var gm GroupMovement
		var members string
		var fromRoom sql.NullString
		var at int64
		if err := rows.Scan(&gm.GroupID, &members, &fromRoom, &gm.ToRoom, &at); err != nil {
			return nil, err
		}
		gm.Members = strings.Split(members, ",")
		gm.FromRoom = fromRoom.String
		gm.Timestamp = time.Unix(at, 0).UTC()
		out = append(out, gm)
	}
	return out, rows.Err()
}

// PersonLocation is a person's last known whereabouts.
type PersonLocation struct {
	PersonID string     `json:"person_id"`
	Room     string     `json:"room,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// PersonLocations returns every known identity with its current room, if any.
func (s *Store) PersonLocations() ([]PersonLocation, error) {
	rows, err := s.Query(`SELECT person_id, room, last_seen FROM persons ORDER BY person_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PersonLocation
	for rows.Next() {
		var pl PersonLocation
		var room sql.NullString
		var lastSeen sql.NullInt64
		if err := rows.Scan(&pl.PersonID, &room, &lastSeen); err != nil {
			return nil, err
		}
		pl.Room = room.String
		if lastSeen.Valid {
			t := time.Unix(lastSeen.Int64, 0).UTC()
			pl.LastSeen = &t
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

// VisitDurations returns the durations, in seconds, of all completed visits
// to room. Feed for the dwell-time statistics in reports.
func (s *Store) VisitDurations(room string) ([]float64, error) {
	rows, err := s.Query(`SELECT duration_seconds FROM room_visits
		WHERE room = ? AND duration_seconds IS NOT NULL ORDER BY entered_at`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RoomVisitCounts returns the number of completed visits per room.
func (s *Store) RoomVisitCounts() (map[string]int, error) {
	rows, err := s.Query(`SELECT room, COUNT(*) FROM room_visits
		WHERE left_at IS NOT NULL GROUP BY room`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var room string
		var n int
		if err := rows.Scan(&room, &n); err != nil {
			return nil, err
		}
		out[room] = n
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Path returns the filesystem path the store was opened with.
func (s *Store) Path() string { return s.path }

func (s *Store) String() string {
	return fmt.Sprintf("store(%s)", s.path)
}
