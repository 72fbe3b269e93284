package track

import (
	"sort"

	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/monitoring"
)

// IoUTracker is the greedy intersection-over-union tracker. Each detection
// is matched to the best-overlapping active track, then to the frozen pool,
// then to a recently-disappeared identity from the recovery store, and only
// then given a fresh identity.
type IoUTracker struct {
	cfg   Config
	room  string
	store RecoveryStore
	ids   *identitySource

	tick   int
	tracks map[int]*Track // keyed by numeric identity
	frozen map[int]*frozenTrack
}

// NewIoUTracker creates a tracker for one camera. room names the room the
// camera watches and scopes recovery lookups; store may be nil, which
// disables recovery and counter seeding.
func NewIoUTracker(cfg Config, room string, store RecoveryStore) *IoUTracker {
	return &IoUTracker{
		cfg:    cfg,
		room:   room,
		store:  store,
		ids:    newIdentitySource(store),
		tracks: make(map[int]*Track),
		frozen: make(map[int]*frozenTrack),
	}
}

// Update matches the tick's detections to tracks and returns the
// identity-bound boxes. An empty detection list still ages, freezes, and
// discards tracks so recovery keeps working through detection gaps.
func (t *IoUTracker) Update(detections []detect.Detection) []TrackedBox {
	t.tick++

	if len(detections) == 0 {
		t.age()
		return []TrackedBox{}
	}

	out := make([]TrackedBox, 0, len(detections))
	matched := make(map[int]bool, len(detections))

	for _, det := range detections {
		var personID string

		if id, ok := t.matchActive(det.Box, matched); ok {
			tr := t.tracks[id]
			tr.Box = det.Box
			tr.Confidence = det.Confidence
			tr.LastSeenTick = t.tick
			matched[id] = true
			personID = tr.PersonID
		} else if id, ok := t.matchFrozen(det.Box); ok {
			fz := t.frozen[id]
			personID = fz.PersonID
			delete(t.frozen, id)
			t.tracks[id] = &Track{Box: det.Box, Confidence: det.Confidence, LastSeenTick: t.tick, PersonID: personID}
			matched[id] = true
			monitoring.Logf("track: recovered %s from frozen pool in %s", personID, t.room)
		} else {
			personID = t.claimRecovered()
			if personID == "" {
				personID = t.ids.Issue()
			}
			id, _ := ParsePersonID(personID)
			t.tracks[id] = &Track{Box: det.Box, Confidence: det.Confidence, LastSeenTick: t.tick, PersonID: personID}
			matched[id] = true
		}

		out = append(out, TrackedBox{Box: det.Box, PersonID: personID})
	}

	t.age()
	return out
}

// matchActive finds the unmatched active track with the highest IoU above
// the threshold. Tracks are visited in ascending numeric id order so equal
// scores break deterministically.
func (t *IoUTracker) matchActive(box geom.Box, matched map[int]bool) (int, bool) {
	bestID := -1
	bestIoU := t.cfg.IoUThreshold
	for _, id := range sortedTrackIDs(t.tracks) {
		if matched[id] {
			continue
		}
		if iou := geom.IoU(box, t.tracks[id].Box); iou > bestIoU {
			bestIoU = iou
			bestID = id
		}
	}
	return bestID, bestID >= 0
}

func (t *IoUTracker) matchFrozen(box geom.Box) (int, bool) {
	bestID := -1
	bestIoU := t.cfg.IoUThreshold
	for _, id := range sortedFrozenIDs(t.frozen) {
		if iou := geom.IoU(box, t.frozen[id].Box); iou > bestIoU {
			bestIoU = iou
			bestID = id
		}
	}
	return bestID, bestID >= 0
}

// claimRecovered asks the recovery store for identities that recently left
// this room and claims the first one not already held by an active track.
// Returns "" when recovery is disabled or nothing suitable is found.
func (t *IoUTracker) claimRecovered() string {
	if t.store == nil || t.room == "" {
		return ""
	}
	recent, err := t.store.FindRecentlyDisappeared(t.room, t.cfg.RecoveryLookback, t.cfg.RecoveryLimit)
	if err != nil {
		monitoring.Logf("track: recovery lookup for %s failed: %v", t.room, err)
		return ""
	}
	for _, personID := range recent {
		n, ok := ParsePersonID(personID)
		if !ok {
			continue
		}
		if _, inUse := t.tracks[n]; inUse {
			continue
		}
		// One identity must never be held by both an active and a frozen
		// track, so a claim evicts any frozen entry with the same id.
		delete(t.frozen, n)
		t.ids.Observe(personID)
		monitoring.Logf("track: recovered %s from store in %s", personID, t.room)
		return personID
	}
	return ""
}

// age freezes tracks unmatched for FreezeAfterTicks and permanently discards
// frozen entries older than DiscardAfterTicks.
func (t *IoUTracker) age() {
	for id, tr := range t.tracks {
		if t.tick-tr.LastSeenTick >= t.cfg.FreezeAfterTicks {
			t.frozen[id] = &frozenTrack{Track: *tr, FrozenTick: t.tick}
			delete(t.tracks, id)
		}
	}
	for id, fz := range t.frozen {
		if t.tick-fz.FrozenTick >= t.cfg.DiscardAfterTicks {
			delete(t.frozen, id)
		}
	}
}

// ActiveCount returns the number of live tracks. Useful for metrics and tests.
func (t *IoUTracker) ActiveCount() int { return len(t.tracks) }

// FrozenCount returns the number of frozen tracks.
func (t *IoUTracker) FrozenCount() int { return len(t.frozen) }

func sortedTrackIDs(m map[int]*Track) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortedFrozenIDs(m map[int]*frozenTrack) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
