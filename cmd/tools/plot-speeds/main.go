// Command plot-speeds draws a histogram of the object speeds recorded for
// one run of a cloudmotion recording database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/cloudmotion/internal/lidar/storage/sqlite"
	"github.com/banshee-data/cloudmotion/internal/units"
)

var (
	dbFile  = flag.String("db", "", "Path to the recording database (required)")
	runID   = flag.String("run", "", "Run to plot (default: most recent run)")
	unit    = flag.String("units", units.KPH, "Speed units: "+units.GetValidUnitsString())
	bins    = flag.Int("bins", 40, "Number of histogram bins")
	outFile = flag.String("out", "speeds.png", "Output image (.png, .svg or .pdf)")
)

func main() {
	flag.Parse()
	if *dbFile == "" {
		log.Fatal("-db is required")
	}
	if !units.IsValid(*unit) {
		log.Fatalf("invalid -units %q, want one of %s", *unit, units.GetValidUnitsString())
	}

	db, err := sqlite.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	id := *runID
	if id == "" {
		if id, err = db.LatestRunID(ctx); err != nil {
			log.Fatalf("failed to find latest run: %v", err)
		}
	}
	speeds, err := db.SpeedSamples(ctx, id)
	if err != nil {
		log.Fatalf("failed to load speeds: %v", err)
	}
	p, err := speedHistogram(speeds, *unit, *bins, "Run "+id)
	if err != nil {
		log.Fatal(err)
	}
	if err := p.Save(10*vg.Inch, 6*vg.Inch, *outFile); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("plotted %d speeds of run %s to %s", len(speeds), id, *outFile)
}

// speedHistogram converts m/s samples to unit and bins them.
func speedHistogram(speedsMPS []float64, unit string, bins int, title string) (*plot.Plot, error) {
	if len(speedsMPS) == 0 {
		return nil, errors.New("no defined speeds recorded")
	}
	if bins < 1 {
		bins = 1
	}
	values := make(plotter.Values, len(speedsMPS))
	for i, v := range speedsMPS {
		values[i] = units.ConvertSpeed(v, unit)
	}
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, fmt.Errorf("failed to build histogram: %w", err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = fmt.Sprintf("Speed (%s)", units.Label(unit))
	p.Y.Label.Text = "Estimates"
	p.Add(hist)
	p.Add(plotter.NewGrid())
	return p, nil
}
