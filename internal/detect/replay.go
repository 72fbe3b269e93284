package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// replayFrame is one line of a capture file: every detection for one tick.
type replayFrame struct {
	Detections []struct {
		X1         float64 `json:"x1"`
		Y1         float64 `json:"y1"`
		X2         float64 `json:"x2"`
		Y2         float64 `json:"y2"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
}

// ReplaySource replays a recorded detection stream at a fixed tick interval.
// The file format is JSON lines, one frame per line; an empty detections
// array is a valid frame and still advances the tick.
type ReplaySource struct {
	frames   [][]Detection
	interval time.Duration
	clock    timeutil.Clock
	pos      int
}

// NewReplaySource wraps pre-parsed frames. Used directly in tests.
func NewReplaySource(frames [][]Detection, interval time.Duration) *ReplaySource {
	return &ReplaySource{frames: frames, interval: interval, clock: timeutil.RealClock{}}
}

// SetClock replaces the source's time source. Tests only.
func (r *ReplaySource) SetClock(clock timeutil.Clock) { r.clock = clock }

// OpenReplay parses a JSONL capture file into a ReplaySource.
func OpenReplay(path string, interval time.Duration) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames [][]Detection
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var frame replayFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		dets := make([]Detection, 0, len(frame.Detections))
		for _, d := range frame.Detections {
			dets = append(dets, Detection{
				Box:        geom.Box{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2},
				Confidence: d.Confidence,
			})
		}
		frames = append(frames, dets)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return NewReplaySource(frames, interval), nil
}

// Next returns the next frame after the tick interval elapses, io.EOF once
// the capture is exhausted, or ctx.Err on cancellation.
func (r *ReplaySource) Next(ctx context.Context) ([]Detection, error) {
	if r.pos >= len(r.frames) {
		return nil, io.EOF
	}

	if r.interval > 0 {
		timer := r.clock.NewTimer(r.interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C():
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame := r.frames[r.pos]
	r.pos++
	return frame, nil
}
