// Package rooms owns the shared room-state model: per-room occupancy,
// disappearance records, and the movement events inferred from them.
// One Manager instance is shared by every camera worker and the sweep
// worker; all state lives behind its mutex.
package rooms

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// MovementEvent records one person's transition into a room. FromRoom is
// empty for a first appearance. Events are immutable and append-only.
type MovementEvent struct {
	PersonID  string    `json:"person_id"`
	FromRoom  string    `json:"from_room,omitempty"`
	ToRoom    string    `json:"to_room"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomStatus is the live occupancy snapshot for one room.
type RoomStatus struct {
	Count   int      `json:"count"`
	Persons []string `json:"persons"`
}

// Recorder is the persistence collaborator. Writes are at-least-once: a
// failure is logged and in-memory state proceeds regardless.
type Recorder interface {
	UpsertPersonLocation(personID, room string) error
	ClearPersonLocation(personID string) error
	StartVisit(personID, room string) error
	EndVisit(personID, room string) error
	RecordMovement(personID, fromRoom, toRoom string) error
}

// Registry lists every known room so status reports include empty ones.
type Registry interface {
	RoomNames() ([]string, error)
}

// disappearance records where and when an identity vanished from all rooms.
type disappearance struct {
	room string
	at   time.Time
}

// Manager turns per-camera presence snapshots into movement events. All
// public methods are safe for concurrent use; each executes as a single
// atomic step under the manager lock, so two cameras can never conclude
// the same identity moved into both of their rooms.
type Manager struct {
	recorder Recorder
	registry Registry

	movementWindow time.Duration // upper bound for a vanish-then-reappear transition
	minGap         time.Duration // lower bound, filters same-instant double counting

	mu          sync.Mutex
	occupancy   map[string]map[string]time.Time // room -> person -> last seen
	disappeared map[string]disappearance        // person -> where/when they vanished

	clock timeutil.Clock
}

// NewManager creates the shared room-state manager. recorder and registry
// may be nil in tests; movement events are still produced.
func NewManager(recorder Recorder, registry Registry, movementWindow, minGap time.Duration) *Manager {
	return &Manager{
		recorder:       recorder,
		registry:       registry,
		movementWindow: movementWindow,
		minGap:         minGap,
		occupancy:      make(map[string]map[string]time.Time),
		disappeared:    make(map[string]disappearance),
		clock:          timeutil.RealClock{},
	}
}

// SetClock replaces the manager's time source. Tests only.
func (m *Manager) SetClock(clock timeutil.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// UpdateRoom reconciles one camera's current presence snapshot against the
// room's occupancy and returns the movement events generated by this call.
// Called once per camera per tick with the complete set of identities that
// camera's tracker reports.
func (m *Manager) UpdateRoom(room string, present []string) []MovementEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	events := []MovementEvent{}

	presentSet := make(map[string]bool, len(present))
	for _, id := range present {
		presentSet[id] = true
	}

	occ := m.occupancy[room]
	if occ == nil {
		occ = make(map[string]time.Time)
		m.occupancy[room] = occ
	}

	var newlyAbsent []string
	for id := range occ {
		if !presentSet[id] {
			newlyAbsent = append(newlyAbsent, id)
		}
	}
	sort.Strings(newlyAbsent)

	var newlyPresent []string
	for _, id := range present {
		if _, ok := occ[id]; !ok {
			newlyPresent = append(newlyPresent, id)
		}
	}
	sort.Strings(newlyPresent)

	// Departures first: remove from occupancy, open a disappearance record,
	// close the visit.
	for _, id := range newlyAbsent {
		lastSeen := occ[id]
		delete(occ, id)
		m.disappeared[id] = disappearance{room: room, at: lastSeen}
		m.record("end visit", func() error { return m.recorder.EndVisit(id, room) })
	}

	// Arrivals: a cross-camera steal beats the disappearance check, since an
	// identity visible to two cameras at once (doorway) is already occupying
	// the other room.
	for _, id := range newlyPresent {
		if oldRoom, ok := m.roomOf(id, room); ok {
			delete(m.occupancy[oldRoom], id)
			events = append(events, m.movement(id, oldRoom, room, now))
		} else if rec, ok := m.disappeared[id]; ok {
			delete(m.disappeared, id)
			gap := now.Sub(rec.at)
			if gap >= m.minGap && gap <= m.movementWindow {
				events = append(events, m.movement(id, rec.room, room, now))
			}
			// Outside the window the record is dropped without an event:
			// an unrelated re-entry, not a transition.
		}
		m.record("start visit", func() error { return m.recorder.StartVisit(id, room) })
	}

	// Refresh every present identity's occupancy entry and stored location.
	for _, id := range present {
		occ[id] = now
		m.record("upsert location", func() error { return m.recorder.UpsertPersonLocation(id, room) })
	}

	return events
}

// roomOf finds the room other than exclude currently holding id.
func (m *Manager) roomOf(id, exclude string) (string, bool) {
	// Deterministic scan order; an identity can occupy at most one room,
	// so ordering only matters if the invariant were already broken.
	names := make([]string, 0, len(m.occupancy))
	for name := range m.occupancy {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == exclude {
			continue
		}
		if _, ok := m.occupancy[name][id]; ok {
			return name, true
		}
	}
	return "", false
}

func (m *Manager) movement(id, fromRoom, toRoom string, now time.Time) MovementEvent {
	monitoring.Logf("rooms: %s moved %s -> %s", id, fromRoom, toRoom)
	m.record("record movement", func() error { return m.recorder.RecordMovement(id, fromRoom, toRoom) })
	return MovementEvent{PersonID: id, FromRoom: fromRoom, ToRoom: toRoom, Timestamp: now}
}

// record runs a persistence write, logging and discarding any failure.
// In-memory state is authoritative for live queries.
func (m *Manager) record(op string, fn func() error) {
	if m.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		monitoring.Logf("rooms: persistence %s failed: %v", op, err)
	}
}

// CleanupOldDisappeared forgets disappearance records older than maxAge and
// clears the person's stored location. A forget is not a transition: no
// movement event is ever produced here.
func (m *Manager) CleanupOldDisappeared(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for id, rec := range m.disappeared {
		if now.Sub(rec.at) > maxAge {
			delete(m.disappeared, id)
			monitoring.Logf("rooms: forgot %s (vanished from %s %.1fs ago)", id, rec.room, now.Sub(rec.at).Seconds())
			m.record("clear location", func() error { return m.recorder.ClearPersonLocation(id) })
		}
	}
}

// RoomStatuses returns the occupancy of every room that has ever had an
// update, identities sorted.
func (m *Manager) RoomStatuses() map[string]RoomStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusesLocked()
}

func (m *Manager) statusesLocked() map[string]RoomStatus {
	result := make(map[string]RoomStatus, len(m.occupancy))
	for room, occ := range m.occupancy {
		persons := make([]string, 0, len(occ))
		for id := range occ {
			persons = append(persons, id)
		}
		sort.Strings(persons)
		result[room] = RoomStatus{Count: len(persons), Persons: persons}
	}
	return result
}

// AllRoomsStatus merges the room registry with live occupancy so rooms with
// zero occupants still appear, with count 0 and an empty member list.
func (m *Manager) AllRoomsStatus() map[string]RoomStatus {
	var known []string
	if m.registry != nil {
		names, err := m.registry.RoomNames()
		if err != nil {
			monitoring.Logf("rooms: listing rooms failed: %v", err)
		} else {
			known = names
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.statusesLocked()
	for _, name := range known {
		if _, ok := result[name]; !ok {
			result[name] = RoomStatus{Count: 0, Persons: []string{}}
		}
	}
	return result
}

// DisappearedCount returns the number of open disappearance records.
func (m *Manager) DisappearedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.disappeared)
}
