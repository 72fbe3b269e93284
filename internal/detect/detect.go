// Package detect defines the detection-source boundary of the pipeline:
// the Detection value type produced per camera per tick, the Source
// interface a camera worker pulls from, and the duplicate-suppression
// filter applied to raw detector output before it reaches the tracker.
package detect

import (
	"context"
	"math"
	"sort"

	"github.com/banshee-data/presence.report/internal/geom"
)

// Detection is a single detected bounding box with its confidence in [0, 1].
type Detection struct {
	Box        geom.Box
	Confidence float64
}

// Source yields one detection list per tick for a single camera. Next blocks
// until the next tick's detections are available, the source is exhausted
// (io.EOF or a source-specific error), or ctx is cancelled.
type Source interface {
	Next(ctx context.Context) ([]Detection, error)
}

// FilterConfig holds the duplicate-suppression tuning. These encode
// detector-specific assumptions (people are taller than wide, a box nested
// in a bigger box is usually a body part) and therefore live at this
// boundary rather than in the tracker.
type FilterConfig struct {
	MinBoxHeight   float64 // minimum box height in pixels
	MinBoxArea     float64 // minimum box area in pixels²
	MaxAspectRatio float64 // reject width/height above this
	MinAspectRatio float64 // reject width/height below this
	DuplicateIoU   float64 // overlap above this is a duplicate candidate
}

// DefaultFilterConfig returns the stock suppression tuning.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinBoxHeight:   150,
		MinBoxArea:     22500,
		MaxAspectRatio: 1.2,
		MinAspectRatio: 0.33,
		DuplicateIoU:   0.5,
	}
}

// FilterOverlapping removes implausible and duplicate detections: boxes below
// the size/aspect thresholds, boxes nested inside a larger kept box, and
// high-overlap near-duplicates (the less confident of a similar-sized pair
// loses). Detections are considered largest-and-most-confident first so body
// parts are suppressed in favour of whole-person boxes.
func FilterOverlapping(detections []Detection, cfg FilterConfig) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box.Area()*sorted[i].Confidence > sorted[j].Box.Area()*sorted[j].Confidence
	})

	filtered := make([]Detection, 0, len(sorted))

	for _, det := range sorted {
		area := det.Box.Area()
		height := det.Box.Height()

		if area < cfg.MinBoxArea || height < cfg.MinBoxHeight {
			continue
		}

		aspect := 0.0
		if height > 0 {
			aspect = det.Box.Width() / height
		}
		if aspect > cfg.MaxAspectRatio || aspect < cfg.MinAspectRatio {
			continue
		}

		duplicate := false
		for _, kept := range filtered {
			keptArea := kept.Box.Area()

			// A box fully nested in a larger kept box is a body part.
			if kept.Box.Contains(det.Box) && area < keptArea*0.8 {
				duplicate = true
				break
			}

			if geom.IoU(det.Box, kept.Box) > cfg.DuplicateIoU {
				if area < keptArea*0.7 {
					duplicate = true
					break
				}
				// Similar size, heavy overlap: keep the more confident one.
				if math.Abs(area-keptArea) < keptArea*0.3 && det.Confidence < kept.Confidence {
					duplicate = true
					break
				}
			}
		}
		if duplicate {
			continue
		}

		// Drop detections dwarfed by the largest kept one.
		if len(filtered) > 0 {
			maxArea := 0.0
			for _, kept := range filtered {
				if a := kept.Box.Area(); a > maxArea {
					maxArea = a
				}
			}
			if area < maxArea*0.3 {
				continue
			}
		}

		filtered = append(filtered, det)
	}

	return filtered
}
