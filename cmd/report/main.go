// Command report renders an offline occupancy report from a presence
// database: per-room visit counts and dwell-time statistics as an HTML
// page, plus a plain-text summary on stdout.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/presence.report/internal/report"
	"github.com/banshee-data/presence.report/internal/store"
)

func main() {
	dbPath := flag.String("db", "presence.db", "path to the presence database")
	outPath := flag.String("out", "report.html", "path to write the HTML report")
	flag.Parse()

	s, err := store.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer s.Close()

	stats, err := report.ComputeDwellStats(s)
	if err != nil {
		log.Fatalf("compute dwell stats: %v", err)
	}
	for _, ds := range stats {
		fmt.Printf("%-20s visits=%-5d mean=%.1fs median=%.1fs p90=%.1fs stddev=%.1fs\n",
			ds.Room, ds.Visits, ds.Mean, ds.Median, ds.P90, ds.StdDev)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("create report file: %v", err)
	}
	defer f.Close()

	if err := report.WriteHTML(f, s); err != nil {
		log.Fatalf("write report: %v", err)
	}
	log.Printf("wrote %s", *outPath)
}
