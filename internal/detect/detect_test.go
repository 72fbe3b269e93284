package detect

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// person returns a plausibly person-shaped detection: 200x400 px.
func person(x, y, confidence float64) Detection {
	return Detection{
		Box:        geom.Box{X1: x, Y1: y, X2: x + 200, Y2: y + 400},
		Confidence: confidence,
	}
}

func TestFilterOverlapping(t *testing.T) {
	cfg := DefaultFilterConfig()

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, FilterOverlapping(nil, cfg))
	})

	t.Run("keeps separated persons", func(t *testing.T) {
		dets := []Detection{person(0, 0, 0.9), person(600, 0, 0.8)}
		assert.Len(t, FilterOverlapping(dets, cfg), 2)
	})

	t.Run("drops tiny boxes", func(t *testing.T) {
		small := Detection{Box: geom.Box{X1: 0, Y1: 0, X2: 50, Y2: 100}, Confidence: 0.9}
		assert.Empty(t, FilterOverlapping([]Detection{small}, cfg))
	})

	t.Run("drops short boxes", func(t *testing.T) {
		short := Detection{Box: geom.Box{X1: 0, Y1: 0, X2: 300, Y2: 140}, Confidence: 0.9}
		assert.Empty(t, FilterOverlapping([]Detection{short}, cfg))
	})

	t.Run("drops wide aspect ratios", func(t *testing.T) {
		wide := Detection{Box: geom.Box{X1: 0, Y1: 0, X2: 600, Y2: 200}, Confidence: 0.9}
		assert.Empty(t, FilterOverlapping([]Detection{wide}, cfg))
	})

	t.Run("suppresses nested body part", func(t *testing.T) {
		full := person(0, 0, 0.9)
		// Torso box nested well inside the full-person box.
		torso := Detection{Box: geom.Box{X1: 20, Y1: 40, X2: 180, Y2: 280}, Confidence: 0.85}

		got := FilterOverlapping([]Detection{torso, full}, cfg)
		require.Len(t, got, 1)
		assert.Equal(t, full.Box, got[0].Box)
	})

	t.Run("near duplicate keeps the more confident", func(t *testing.T) {
		a := person(0, 0, 0.9)
		b := person(10, 10, 0.7) // heavy overlap, similar size

		got := FilterOverlapping([]Detection{b, a}, cfg)
		require.Len(t, got, 1)
		assert.Equal(t, 0.9, got[0].Confidence)
	})

	t.Run("drops detections dwarfed by the largest", func(t *testing.T) {
		big := Detection{Box: geom.Box{X1: 0, Y1: 0, X2: 500, Y2: 1000}, Confidence: 0.9}
		// Valid on its own but under 30% of big's area.
		small := Detection{Box: geom.Box{X1: 2000, Y1: 0, X2: 2200, Y2: 400}, Confidence: 0.9}

		got := FilterOverlapping([]Detection{big, small}, cfg)
		require.Len(t, got, 1)
		assert.Equal(t, big.Box, got[0].Box)
	})
}

func TestReplaySource(t *testing.T) {
	frames := [][]Detection{
		{person(0, 0, 0.9)},
		{},
		{person(10, 0, 0.8), person(600, 0, 0.7)},
	}
	src := NewReplaySource(frames, 0)
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, second)

	third, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, third, 2)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReplaySourceCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewReplaySource([][]Detection{{person(0, 0, 0.9)}}, 0)
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplaySourceWaitsForTickInterval(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	src := NewReplaySource([][]Detection{{person(0, 0, 0.9)}}, 100*time.Millisecond)
	src.SetClock(clock)

	type result struct {
		dets []Detection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		dets, err := src.Next(context.Background())
		ch <- result{dets, err}
	}()

	// The frame is only delivered once the mock clock crosses the interval.
	var got result
	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		select {
		case got = <-ch:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, got.err)
	assert.Len(t, got.dets, 1)
}
