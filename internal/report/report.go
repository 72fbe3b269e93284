// Package report computes dwell-time statistics from the visit log and
// renders an occupancy summary as a standalone HTML page.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/presence.report/internal/store"
)

// DwellStats summarizes completed visit durations for one room. All values
// are in seconds.
type DwellStats struct {
	Room   string  `json:"room"`
	Visits int     `json:"visits"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

// ComputeDwellStats aggregates completed visits per registered room, sorted
// by room name. Rooms with no completed visits appear with zero counts.
func ComputeDwellStats(s *store.Store) ([]DwellStats, error) {
	names, err := s.RoomNames()
	if err != nil {
		return nil, err
	}

	out := make([]DwellStats, 0, len(names))
	for _, room := range names {
		durations, err := s.VisitDurations(room)
		if err != nil {
			return nil, err
		}
		ds := DwellStats{Room: room, Visits: len(durations)}
		if len(durations) > 0 {
			sort.Float64s(durations)
			ds.Mean = stat.Mean(durations, nil)
			ds.Median = stat.Quantile(0.5, stat.Empirical, durations, nil)
			ds.P90 = stat.Quantile(0.9, stat.Empirical, durations, nil)
			if len(durations) > 1 {
				ds.StdDev = stat.StdDev(durations, nil)
			}
		}
		out = append(out, ds)
	}
	return out, nil
}

// WriteHTML renders the occupancy report (visit counts and mean dwell per
// room) as a self-contained HTML page.
func WriteHTML(w io.Writer, s *store.Store) error {
	stats, err := ComputeDwellStats(s)
	if err != nil {
		return err
	}

	rooms := make([]string, 0, len(stats))
	visits := make([]opts.BarData, 0, len(stats))
	dwell := make([]opts.BarData, 0, len(stats))
	for _, ds := range stats {
		rooms = append(rooms, ds.Room)
		visits = append(visits, opts.BarData{Value: ds.Visits})
		dwell = append(dwell, opts.BarData{Value: ds.Mean})
	}

	visitBar := charts.NewBar()
	visitBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Visits per room", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	visitBar.SetXAxis(rooms).
		AddSeries("visits", visits,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	dwellBar := charts.NewBar()
	dwellBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Mean dwell time per room (s)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	dwellBar.SetXAxis(rooms).
		AddSeries("mean dwell (s)", dwell,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(visitBar, dwellBar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
