// Command flight-plot renders PNG plots of a recorded flight and prints its
// summary.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/banshee-data/raptorhab/internal/db"
	"github.com/banshee-data/raptorhab/internal/report"
	"github.com/banshee-data/raptorhab/internal/units"
)

var (
	dbPath   = flag.String("db", "raptorhab.db", "Flight recorder database")
	flightID = flag.String("flight", "", "Flight to plot (defaults to the most recent)")
	outDir   = flag.String("o", ".", "Output directory for the plots")
	list     = flag.Bool("list", false, "List recorded flights and exit")
	speedU   = flag.String("speed-units", units.MPS, "Units for rates in the summary (mps, kmph, mph, kn)")
	altU     = flag.String("alt-units", units.Metres, "Units for altitude in the summary (m, ft)")
	tz       = flag.String("tz", "UTC", "Timezone for displayed times")
)

// display selects how the summary and flight list present values.
type display struct {
	speed    string
	altitude string
	tz       string
}

func main() {
	flag.Parse()
	if err := units.Validate(*speedU, *altU); err != nil {
		log.Fatal(err)
	}
	if !units.IsTimezoneValid(*tz) {
		log.Fatalf("invalid timezone %q", *tz)
	}
	d := display{speed: *speedU, altitude: *altU, tz: *tz}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if *list {
		if err := listFlights(database, os.Stdout, d); err != nil {
			log.Fatal(err)
		}
		return
	}

	f, err := loadFlight(database, *flightID)
	if err != nil {
		log.Fatal(err)
	}
	paths, err := report.NewExportWriter(*outDir).WriteAll(f)
	for _, p := range paths {
		log.Printf("✓ Created: %s", p)
	}
	if err != nil {
		log.Fatalf("failed to render plots: %v", err)
	}
	printSummary(os.Stdout, f.ID, report.Summarize(f), d)
}

func listFlights(database *db.DB, out io.Writer, d display) error {
	flights, err := database.Flights()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FLIGHT\tSTARTED\tSAMPLES\tIMAGES")
	for _, f := range flights {
		started, err := units.ConvertTime(f.Started, d.tz)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", f.ID, started.Format("2006-01-02 15:04:05 MST"), f.Telemetry, f.Images)
	}
	return tw.Flush()
}

// loadFlight reads a flight's telemetry, burst and predicted landings. An
// empty id picks the most recently started flight.
func loadFlight(database *db.DB, id string) (report.Flight, error) {
	if id == "" {
		flights, err := database.Flights()
		if err != nil {
			return report.Flight{}, err
		}
		if len(flights) == 0 {
			return report.Flight{}, errors.New("no flights recorded")
		}
		id = flights[0].ID
	}

	f := report.Flight{ID: id}
	var err error
	if f.Samples, err = database.Telemetry(id, 0); err != nil {
		return f, fmt.Errorf("failed to read telemetry: %w", err)
	}
	if len(f.Samples) == 0 {
		return f, fmt.Errorf("flight %s has no telemetry", id)
	}

	ev, err := database.Burst(id)
	switch {
	case err == nil:
		f.Burst = &ev
	case !errors.Is(err, db.ErrNotFound):
		return f, fmt.Errorf("failed to read burst: %w", err)
	}

	preds, err := database.Predictions(id)
	if err != nil {
		return f, fmt.Errorf("failed to read predictions: %w", err)
	}
	for _, p := range preds {
		f.Landings = append(f.Landings, report.LatLon{Latitude: p.Latitude, Longitude: p.Longitude})
	}
	return f, nil
}

func printSummary(out io.Writer, id string, s report.Summary, d display) {
	rate := units.SpeedLabel(d.speed)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Flight\t%s\n", id)
	fmt.Fprintf(tw, "Samples\t%d\n", s.Samples)
	fmt.Fprintf(tw, "Duration\t%s\n", s.Duration)
	fmt.Fprintf(tw, "Max altitude\t%.0f %s\n", units.ConvertAltitude(s.MaxAltitude, d.altitude), d.altitude)
	fmt.Fprintf(tw, "Mean ascent\t%.1f %s\n", units.ConvertSpeed(s.MeanAscentRate, d.speed), rate)
	fmt.Fprintf(tw, "Mean descent\t%.1f %s\n", units.ConvertSpeed(s.MeanDescentRate, d.speed), rate)
	fmt.Fprintf(tw, "Ground distance\t%.1f km\n", s.GroundDistance/1000)
	fmt.Fprintf(tw, "Burst detected\t%t\n", s.Burst)
	tw.Flush()
}
