// Package pipeline wires one camera's detection source through its tracker
// into the shared room and group state, and runs the periodic sweep that
// forgets stale disappearance records.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/groups"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/rooms"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/track"
)

// CameraWorker owns the per-camera tick loop. One goroutine per camera; the
// tracker is private to the worker, rooms and groups are shared.
type CameraWorker struct {
	Room    string
	Source  detect.Source
	Tracker track.Tracker
	Filter  detect.FilterConfig
	Rooms   *rooms.Manager
	Groups  *groups.Analyzer
}

// Run pulls detections until the source is exhausted or ctx is cancelled.
// Each tick flows detect -> filter -> track -> room diff -> group
// correlation. A source error other than EOF ends the worker; the rest of
// the system keeps running on the other cameras.
func (w *CameraWorker) Run(ctx context.Context) error {
	monitoring.Logf("pipeline: camera worker for %s starting", w.Room)
	defer monitoring.Logf("pipeline: camera worker for %s stopped", w.Room)

	for {
		detections, err := w.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		filtered := detect.FilterOverlapping(detections, w.Filter)
		tracked := w.Tracker.Update(filtered)

		present := make([]string, 0, len(tracked))
		for _, tb := range tracked {
			present = append(present, tb.PersonID)
		}

		for _, ev := range w.Rooms.UpdateRoom(w.Room, present) {
			if w.Groups == nil || ev.FromRoom == "" {
				continue
			}
			w.Groups.AnalyzeMovement(ev.PersonID, ev.FromRoom, ev.ToRoom, ev.Timestamp)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// SweepWorker periodically expires stale disappearance records.
type SweepWorker struct {
	Rooms    *rooms.Manager
	MaxAge   time.Duration
	Interval time.Duration
	Clock    timeutil.Clock // nil means the real clock
}

// Run sweeps every Interval until ctx is cancelled.
func (w *SweepWorker) Run(ctx context.Context) {
	clock := w.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			w.Rooms.CleanupOldDisappeared(w.MaxAge)
		}
	}
}
