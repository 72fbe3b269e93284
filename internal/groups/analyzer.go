// Package groups infers travel groups from the movement event stream:
// identities that enter the same room within a short window of each other
// are folded into a shared group.
package groups

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Group is a set of identities observed moving together. Group identity is
// the exact member set: the same set entering another room updates the
// group, a different set allocates a new one.
type Group struct {
	ID          string    `json:"id"`
	Members     []string  `json:"members"`
	CurrentRoom string    `json:"current_room"`
	FromRoom    string    `json:"from_room,omitempty"`
	LastUpdate  time.Time `json:"last_update"`
}

// Recorder persists group-movement records. Failures are logged and do not
// affect in-memory group state.
type Recorder interface {
	RecordGroupMovement(groupID string, members []string, fromRoom, toRoom string) error
}

// entry is one per-identity history item: a room entered and when.
type entry struct {
	room string
	at   time.Time
}

// Analyzer correlates movement events across cameras. One instance is shared
// by all camera workers; all state sits behind the mutex.
type Analyzer struct {
	recorder Recorder
	window   time.Duration // max gap between correlated room entries
	expiry   time.Duration // idle time before a group is dropped

	mu      sync.Mutex
	history map[string][]entry // identity -> entered rooms, newest last
	groups  map[string]*Group
	nextID  int

	clock timeutil.Clock
}

// NewAnalyzer creates the shared group analyzer. Groups idle for three
// correlation windows are expired lazily on the next call.
func NewAnalyzer(recorder Recorder, window time.Duration) *Analyzer {
	return &Analyzer{
		recorder: recorder,
		window:   window,
		expiry:   3 * window,
		history:  make(map[string][]entry),
		groups:   make(map[string]*Group),
		nextID:   1,
		clock:    timeutil.RealClock{},
	}
}

// SetClock replaces the analyzer's time source. Tests only.
func (a *Analyzer) SetClock(clock timeutil.Clock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clock = clock
}

// AnalyzeMovement feeds one movement event into the correlation history.
// Other identities that entered toRoom within the correlation window of at
// are the candidate co-movers; together with the mover they form the member
// set whose group is updated or allocated. Returns the group, or nil when
// the movement correlates with nobody.
func (a *Analyzer) AnalyzeMovement(personID, fromRoom, toRoom string, at time.Time) *Group {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.expireLocked(a.clock.Now())

	members := []string{personID}
	for other, entries := range a.history {
		if other == personID {
			continue
		}
		for _, e := range entries {
			if e.room != toRoom {
				continue
			}
			if gap := at.Sub(e.at); gap >= -a.window && gap <= a.window {
				members = append(members, other)
				break
			}
		}
	}

	a.history[personID] = pruneEntries(append(a.history[personID], entry{room: toRoom, at: at}), a.window)

	if len(members) < 2 {
		return nil
	}
	sort.Strings(members)

	g := a.findByMembersLocked(members)
	if g == nil {
		// FromRoom records where the group formed; later updates keep it.
		g = &Group{ID: fmt.Sprintf("g%d", a.nextID), Members: members, FromRoom: fromRoom}
		a.nextID++
		a.groups[g.ID] = g
		monitoring.Logf("groups: formed %s %v", g.ID, members)
		if a.recorder != nil {
			if err := a.recorder.RecordGroupMovement(g.ID, members, fromRoom, toRoom); err != nil {
				monitoring.Logf("groups: recording movement for %s failed: %v", g.ID, err)
			}
		}
	}
	g.CurrentRoom = toRoom
	g.LastUpdate = at

	return snapshot(g)
}

// findByMembersLocked returns the active group whose member set is exactly
// members (both sorted), or nil.
func (a *Analyzer) findByMembersLocked(members []string) *Group {
	for _, id := range sortedGroupIDs(a.groups) {
		g := a.groups[id]
		if sameMembers(g.Members, members) {
			return g
		}
	}
	return nil
}

// expireLocked drops groups idle past the expiry horizon.
func (a *Analyzer) expireLocked(now time.Time) {
	for id, g := range a.groups {
		if now.Sub(g.LastUpdate) > a.expiry {
			delete(a.groups, id)
			monitoring.Logf("groups: expired %s after %.0fs idle", id, now.Sub(g.LastUpdate).Seconds())
		}
	}
}

// ActiveGroups returns a snapshot of the live groups, expired ones removed,
// sorted by group id.
func (a *Analyzer) ActiveGroups() []Group {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.expireLocked(a.clock.Now())

	out := make([]Group, 0, len(a.groups))
	for _, id := range sortedGroupIDs(a.groups) {
		out = append(out, *snapshot(a.groups[id]))
	}
	return out
}

// pruneEntries keeps entries within window of the newest entry. The input
// is append-ordered, so the newest entry is last.
func pruneEntries(entries []entry, window time.Duration) []entry {
	cutoff := entries[len(entries)-1].at.Add(-window)
	keep := entries[:0]
	for _, e := range entries {
		if !e.at.Before(cutoff) {
			keep = append(keep, e)
		}
	}
	return keep
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func snapshot(g *Group) *Group {
	return &Group{
		ID:          g.ID,
		Members:     append([]string(nil), g.Members...),
		CurrentRoom: g.CurrentRoom,
		FromRoom:    g.FromRoom,
		LastUpdate:  g.LastUpdate,
	}
}

func sortedGroupIDs(m map[string]*Group) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
