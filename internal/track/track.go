// Package track owns per-camera identity tracking: it converts a tick's
// detection list into (box, persistent identity) pairs, keeping the same
// identity across short detection gaps and, best effort, across a room
// transition via the recovery store.
//
// Two implementations exist behind the Tracker interface: the greedy
// IoUTracker and the Kalman-filter KalmanTracker. Both issue identities
// from the same monotonic counter model, rendered "p1", "p2", ...
//
// A tracker instance is owned by exactly one camera worker and is not
// safe for concurrent use.
package track

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/monitoring"
)

// TrackedBox is a detection bound to a persistent identity for one tick.
type TrackedBox struct {
	Box      geom.Box
	PersonID string
}

// Tracker converts one tick's detections into identity-bound boxes.
// Update must be called exactly once per tick; an empty detection list
// still advances track aging.
type Tracker interface {
	Update(detections []detect.Detection) []TrackedBox
}

// RecoveryStore is the identity-recovery collaborator. FindRecentlyDisappeared
// returns up to limit identities that recently vanished from the given room,
// most recent first; AllPersonIDs seeds the monotonic identity counter at
// startup.
type RecoveryStore interface {
	FindRecentlyDisappeared(room string, maxAge time.Duration, limit int) ([]string, error)
	AllPersonIDs() ([]string, error)
}

// Config holds tracker tuning parameters shared by both implementations.
type Config struct {
	IoUThreshold      float64       // minimum IoU for a detection-to-track match
	FreezeAfterTicks  int           // consecutive unmatched ticks before a track is frozen
	DiscardAfterTicks int           // age in ticks before a frozen track is dropped
	RecoveryLookback  time.Duration // how far back the recovery store is queried
	RecoveryLimit     int           // cap on recovery candidates per lookup
}

// DefaultConfig returns tracker configuration loaded from the canonical
// tuning defaults file (config/tuning.defaults.json). Panics if the file
// cannot be found; intended for tests and binaries that have already
// validated config availability.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a tracker Config from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		IoUThreshold:      cfg.GetIoUThreshold(),
		FreezeAfterTicks:  cfg.GetFreezeAfterTicks(),
		DiscardAfterTicks: cfg.GetDiscardAfterTicks(),
		RecoveryLookback:  cfg.GetRecoveryLookback(),
		RecoveryLimit:     cfg.GetRecoveryLimit(),
	}
}

// Track is a live record binding a box to a persistent identity.
type Track struct {
	Box          geom.Box
	Confidence   float64
	LastSeenTick int
	PersonID     string
}

// frozenTrack is a recently-unmatched track retained for possible re-match
// before permanent discard.
type frozenTrack struct {
	Track
	FrozenTick int
}

// ParsePersonID extracts the numeric part of a "p<n>" identity.
func ParsePersonID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "p")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// identitySource issues monotonically increasing "p<n>" identities. The
// counter is seeded from every identity the store has ever recorded so a
// restart cannot reissue an identity already in use.
type identitySource struct {
	next int
}

func newIdentitySource(store RecoveryStore) *identitySource {
	s := &identitySource{next: 1}
	if store == nil {
		return s
	}
	existing, err := store.AllPersonIDs()
	if err != nil {
		monitoring.Logf("track: seeding identity counter failed, starting at 1: %v", err)
		return s
	}
	for _, id := range existing {
		if n, ok := ParsePersonID(id); ok && n >= s.next {
			s.next = n + 1
		}
	}
	return s
}

// Observe bumps the counter past an externally recovered identity so later
// issuance cannot collide with it.
func (s *identitySource) Observe(id string) {
	if n, ok := ParsePersonID(id); ok && n >= s.next {
		s.next = n + 1
	}
}

// Issue returns the next unused identity.
func (s *identitySource) Issue() string {
	id := fmt.Sprintf("p%d", s.next)
	s.next++
	return id
}
