package track

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/geom"
)

// fakeStore is an in-memory RecoveryStore.
type fakeStore struct {
	disappeared []string
	allIDs      []string
	err         error
}

func (f *fakeStore) FindRecentlyDisappeared(room string, maxAge time.Duration, limit int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.disappeared) > limit {
		return f.disappeared[:limit], nil
	}
	return f.disappeared, nil
}

func (f *fakeStore) AllPersonIDs() ([]string, error) {
	return f.allIDs, f.err
}

func TestParsePersonID(t *testing.T) {
	tests := []struct {
		id     string
		want   int
		wantOK bool
	}{
		{"p1", 1, true},
		{"p42", 42, true},
		{"p0", 0, true},
		{"q7", 0, false},
		{"p", 0, false},
		{"pabc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		n, ok := ParsePersonID(tt.id)
		assert.Equal(t, tt.wantOK, ok, tt.id)
		assert.Equal(t, tt.want, n, tt.id)
	}
}

func TestIdentitySource(t *testing.T) {
	t.Run("starts at one without a store", func(t *testing.T) {
		ids := newIdentitySource(nil)
		assert.Equal(t, "p1", ids.Issue())
		assert.Equal(t, "p2", ids.Issue())
	})

	t.Run("seeds past recorded identities", func(t *testing.T) {
		ids := newIdentitySource(&fakeStore{allIDs: []string{"p3", "p7", "p2"}})
		assert.Equal(t, "p8", ids.Issue())
	})

	t.Run("store error falls back to one", func(t *testing.T) {
		ids := newIdentitySource(&fakeStore{err: errors.New("locked")})
		assert.Equal(t, "p1", ids.Issue())
	})

	t.Run("observe bumps the counter", func(t *testing.T) {
		ids := newIdentitySource(nil)
		ids.Observe("p5")
		assert.Equal(t, "p6", ids.Issue())
	})
}

func TestConfigFromTuning(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.3, cfg.IoUThreshold)
	assert.Equal(t, 150, cfg.FreezeAfterTicks)
	assert.Equal(t, 900, cfg.DiscardAfterTicks)
	assert.Equal(t, 60*time.Second, cfg.RecoveryLookback)
	assert.Equal(t, 10, cfg.RecoveryLimit)
}

func testConfig() Config {
	return Config{
		IoUThreshold:      0.3,
		FreezeAfterTicks:  3,
		DiscardAfterTicks: 6,
		RecoveryLookback:  time.Minute,
		RecoveryLimit:     10,
	}
}

func det(x, y float64) detect.Detection {
	return detect.Detection{
		Box:        geom.Box{X1: x, Y1: y, X2: x + 200, Y2: y + 400},
		Confidence: 0.9,
	}
}

func TestIoUTrackerStableIdentity(t *testing.T) {
	tr := NewIoUTracker(testConfig(), "lobby", nil)

	first := tr.Update([]detect.Detection{det(0, 0)})
	require.Len(t, first, 1)
	assert.Equal(t, "p1", first[0].PersonID)

	// Drift a little each tick; identity must stick.
	for i := 1; i <= 20; i++ {
		got := tr.Update([]detect.Detection{det(float64(i*5), 0)})
		require.Len(t, got, 1)
		assert.Equal(t, "p1", got[0].PersonID)
	}
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestIoUTrackerNewIdentities(t *testing.T) {
	tr := NewIoUTracker(testConfig(), "lobby", nil)

	got := tr.Update([]detect.Detection{det(0, 0), det(1000, 0)})
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].PersonID)
	assert.Equal(t, "p2", got[1].PersonID)
}

func TestIoUTrackerFreezeAndRecover(t *testing.T) {
	cfg := testConfig()
	tr := NewIoUTracker(cfg, "lobby", nil)

	got := tr.Update([]detect.Detection{det(0, 0)})
	require.Equal(t, "p1", got[0].PersonID)

	// Miss enough ticks to freeze the track.
	for i := 0; i < cfg.FreezeAfterTicks; i++ {
		tr.Update(nil)
	}
	assert.Equal(t, 0, tr.ActiveCount())
	assert.Equal(t, 1, tr.FrozenCount())

	// Reappear near the frozen position: same identity.
	got = tr.Update([]detect.Detection{det(10, 0)})
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].PersonID)
	assert.Equal(t, 1, tr.ActiveCount())
	assert.Equal(t, 0, tr.FrozenCount())
}

func TestIoUTrackerDiscardsFrozen(t *testing.T) {
	cfg := testConfig()
	tr := NewIoUTracker(cfg, "lobby", nil)

	tr.Update([]detect.Detection{det(0, 0)})
	for i := 0; i < cfg.FreezeAfterTicks+cfg.DiscardAfterTicks; i++ {
		tr.Update(nil)
	}
	assert.Equal(t, 0, tr.FrozenCount())

	// After the discard horizon the identity is gone for good.
	got := tr.Update([]detect.Detection{det(0, 0)})
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].PersonID)
}

func TestIoUTrackerRecoversFromStore(t *testing.T) {
	store := &fakeStore{
		disappeared: []string{"p4"},
		allIDs:      []string{"p1", "p2", "p3", "p4"},
	}
	tr := NewIoUTracker(testConfig(), "lobby", store)

	// A brand new detection with a recent disappearance on record reclaims
	// the stored identity instead of minting a new one.
	got := tr.Update([]detect.Detection{det(0, 0)})
	require.Len(t, got, 1)
	assert.Equal(t, "p4", got[0].PersonID)

	// The next unmatched detection gets a fresh identity past the seed.
	got = tr.Update([]detect.Detection{det(0, 0), det(1000, 0)})
	require.Len(t, got, 2)
	assert.Equal(t, "p4", got[0].PersonID)
	assert.Equal(t, "p5", got[1].PersonID)
}

func TestIoUTrackerRecoveryLimit(t *testing.T) {
	store := &fakeStore{
		disappeared: []string{"p1", "p2", "p3"},
		allIDs:      []string{"p1", "p2", "p3"},
	}
	cfg := testConfig()
	cfg.RecoveryLimit = 2

	tr := NewIoUTracker(cfg, "lobby", store)
	got := tr.Update([]detect.Detection{det(0, 0), det(1000, 0), det(2000, 0)})
	require.Len(t, got, 3)
	assert.Equal(t, "p1", got[0].PersonID)
	assert.Equal(t, "p2", got[1].PersonID)
	// p3 is beyond the cap; a new identity is issued instead.
	assert.Equal(t, "p4", got[2].PersonID)
}

func TestIoUTrackerEmptyTicksStillAge(t *testing.T) {
	cfg := testConfig()
	tr := NewIoUTracker(cfg, "lobby", nil)

	tr.Update([]detect.Detection{det(0, 0)})
	out := tr.Update(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestKalmanTrackerStableIdentity(t *testing.T) {
	tr := NewKalmanTracker(testConfig(), "lobby", nil)

	first := tr.Update([]detect.Detection{det(0, 0)})
	require.Len(t, first, 1)
	assert.Equal(t, "p1", first[0].PersonID)

	for i := 1; i <= 20; i++ {
		got := tr.Update([]detect.Detection{det(float64(i*5), 0)})
		require.Len(t, got, 1)
		assert.Equal(t, "p1", got[0].PersonID, "tick %d", i)
	}
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestKalmanTrackerTwoBands(t *testing.T) {
	tr := NewKalmanTracker(testConfig(), "lobby", nil)

	confident := det(0, 0)
	tentative := detect.Detection{Box: geom.Box{X1: 1000, Y1: 0, X2: 1200, Y2: 400}, Confidence: 0.2}

	got := tr.Update([]detect.Detection{confident, tentative})
	require.Len(t, got, 2)
	byBox := map[float64]string{got[0].Box.X1: got[0].PersonID, got[1].Box.X1: got[1].PersonID}

	// Both spawn tracks; identities persist independently per band.
	got = tr.Update([]detect.Detection{confident, tentative})
	require.Len(t, got, 2)
	for _, tb := range got {
		assert.Equal(t, byBox[tb.Box.X1], tb.PersonID)
	}
}

func TestKalmanTrackerPrunes(t *testing.T) {
	cfg := testConfig()
	tr := NewKalmanTracker(cfg, "lobby", nil)

	tr.Update([]detect.Detection{det(0, 0)})
	for i := 0; i < cfg.DiscardAfterTicks; i++ {
		tr.Update(nil)
	}
	assert.Equal(t, 0, tr.ActiveCount())
}
