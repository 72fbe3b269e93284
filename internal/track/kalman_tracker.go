package track

import (
	"sort"

	kalman_filter "github.com/LdDl/kalman-filter"
	hungarian "github.com/arthurkushman/go-hungarian"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/monitoring"
)

// Kalman filter noise parameters for the constant-velocity center model.
// Not user-tunable; they match the pixel scale of detector output.
const (
	kalmanAccelNoise   = 2.0
	kalmanMeasureNoise = 0.1
	kalmanDt           = 1.0
	// highConfidence splits detections into the two matching bands:
	// confident detections are matched first, the remainder second.
	highConfidence = 0.5
)

// kalmanTrack is one tracked object: a Kalman-smoothed center, the last
// observed box, and the persistent identity bound to the internal id.
type kalmanTrack struct {
	internalID   uuid.UUID
	personID     string
	box          geom.Box
	confidence   float64
	filter       *kalman_filter.Kalman2D
	lastSeenTick int
}

// predictedBox returns the last box re-centered on the filter's predicted
// position.
func (k *kalmanTrack) predictedBox() geom.Box {
	px, py := k.filter.GetState()
	w := k.box.Width()
	h := k.box.Height()
	return geom.Box{X1: px - w/2, Y1: py - h/2, X2: px + w/2, Y2: py + h/2}
}

// observe feeds a matched detection through the filter and moves the box to
// the smoothed center.
func (k *kalmanTrack) observe(det detect.Detection, tick int) error {
	cx, cy := det.Box.Center()
	if err := k.filter.Update(cx, cy); err != nil {
		return errors.Wrap(err, "kalman update")
	}
	sx, sy := k.filter.GetState()
	w := det.Box.Width()
	h := det.Box.Height()
	k.box = geom.Box{X1: sx - w/2, Y1: sy - h/2, X2: sx + w/2, Y2: sy + h/2}
	k.confidence = det.Confidence
	k.lastSeenTick = tick
	return nil
}

// KalmanTracker is the advanced tracker: a constant-velocity Kalman filter
// per track with Hungarian assignment over the IoU matrix, matching
// high-confidence detections before low-confidence ones. Internal track ids
// are UUIDs; each new internal id is bound to a freshly issued persistent
// identity for its whole lifetime, so filter-level id churn never leaks into
// the identity stream.
type KalmanTracker struct {
	cfg  Config
	room string
	ids  *identitySource

	tick   int
	tracks map[uuid.UUID]*kalmanTrack
}

// NewKalmanTracker creates a Kalman tracker for one camera. store is only
// used to seed the identity counter; recovery of vanished identities is the
// room manager's concern at this tracking depth.
func NewKalmanTracker(cfg Config, room string, store RecoveryStore) *KalmanTracker {
	return &KalmanTracker{
		cfg:    cfg,
		room:   room,
		ids:    newIdentitySource(store),
		tracks: make(map[uuid.UUID]*kalmanTrack),
	}
}

// Update runs predict / two-band associate / update / spawn / prune for one
// tick and returns the identity-bound boxes.
func (t *KalmanTracker) Update(detections []detect.Detection) []TrackedBox {
	t.tick++

	for _, tr := range t.tracks {
		tr.filter.Predict()
	}

	if len(detections) == 0 {
		t.prune()
		return []TrackedBox{}
	}

	var high, low []int
	for i, det := range detections {
		if det.Confidence >= highConfidence {
			high = append(high, i)
		} else {
			low = append(low, i)
		}
	}

	assigned := make(map[int]*kalmanTrack, len(detections))
	matchedTracks := make(map[uuid.UUID]bool, len(t.tracks))
	t.assignBand(detections, high, assigned, matchedTracks)
	t.assignBand(detections, low, assigned, matchedTracks)

	out := make([]TrackedBox, 0, len(detections))
	for i, det := range detections {
		tr, ok := assigned[i]
		if !ok {
			tr = t.spawn(det)
		} else if err := tr.observe(det, t.tick); err != nil {
			monitoring.Logf("track: %s filter rejected observation in %s: %v", tr.personID, t.room, err)
			tr.box = det.Box
			tr.confidence = det.Confidence
			tr.lastSeenTick = t.tick
		}
		out = append(out, TrackedBox{Box: det.Box, PersonID: tr.personID})
	}

	t.prune()
	return out
}

// assignBand solves the assignment between unmatched tracks and the given
// detection indices via the Hungarian algorithm on a square-padded IoU
// matrix, accepting only pairs above the IoU threshold.
func (t *KalmanTracker) assignBand(detections []detect.Detection, band []int, assigned map[int]*kalmanTrack, matchedTracks map[uuid.UUID]bool) {
	if len(band) == 0 {
		return
	}

	open := make([]*kalmanTrack, 0, len(t.tracks))
	for _, tr := range t.tracks {
		if !matchedTracks[tr.internalID] {
			open = append(open, tr)
		}
	}
	if len(open) == 0 {
		return
	}
	// Stable order: tracks by persistent identity, so padded-matrix
	// tie-breaks cannot flip between ticks.
	sort.Slice(open, func(i, j int) bool { return open[i].personID < open[j].personID })

	size := max(len(open), len(band))
	matrix := make([][]float64, size)
	for i := range matrix {
		matrix[i] = make([]float64, size)
	}
	for i, tr := range open {
		pred := tr.predictedBox()
		for j, detIdx := range band {
			matrix[i][j] = geom.IoU(pred, detections[detIdx].Box)
		}
	}

	for trackIdx, row := range hungarian.SolveMax(matrix) {
		if trackIdx >= len(open) {
			continue
		}
		for bandIdx, iou := range row {
			if bandIdx >= len(band) || iou < t.cfg.IoUThreshold {
				continue
			}
			tr := open[trackIdx]
			assigned[band[bandIdx]] = tr
			matchedTracks[tr.internalID] = true
		}
	}
}

// spawn creates a new internal track bound to a freshly issued persistent
// identity.
func (t *KalmanTracker) spawn(det detect.Detection) *kalmanTrack {
	cx, cy := det.Box.Center()
	tr := &kalmanTrack{
		internalID: uuid.New(),
		personID:   t.ids.Issue(),
		box:        det.Box,
		confidence: det.Confidence,
		filter: kalman_filter.NewKalman2D(kalmanDt, 1.0, 1.0, kalmanAccelNoise,
			kalmanMeasureNoise, kalmanMeasureNoise, kalman_filter.WithState2D(cx, cy)),
		lastSeenTick: t.tick,
	}
	t.tracks[tr.internalID] = tr
	return tr
}

// prune drops tracks unmatched past the discard horizon. The freeze
// threshold acts as the coasting budget here: within it the filter keeps
// predicting and the track can re-match, past the discard TTL the internal
// id and its identity binding are gone for good.
func (t *KalmanTracker) prune() {
	for id, tr := range t.tracks {
		if t.tick-tr.lastSeenTick >= t.cfg.DiscardAfterTicks {
			delete(t.tracks, id)
		}
	}
}

// ActiveCount returns the number of live internal tracks.
func (t *KalmanTracker) ActiveCount() int { return len(t.tracks) }
