// Package report renders post-flight PNG plots of altitude and ground track
// and summarises a recorded flight.
package report

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/fsutil"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/security"
	"github.com/banshee-data/raptorhab/internal/telemetry"
)

// LatLon is a predicted landing point.
type LatLon struct {
	Latitude  float64
	Longitude float64
}

// Flight is everything the plots draw.
type Flight struct {
	ID       string
	Samples  []telemetry.Sample
	Burst    *flight.BurstEvent
	Landings []LatLon
}

// Summary holds headline numbers for a flight.
type Summary struct {
	Samples         int
	Duration        time.Duration
	MaxAltitude     float64
	MeanAscentRate  float64 // m/s, over samples climbing faster than 0.5 m/s
	MeanDescentRate float64 // m/s, positive
	GroundDistance  float64 // m, first fix to last fix
	Burst           bool
}

// Summarize computes a Summary from the recorded samples.
func Summarize(f Flight) Summary {
	s := Summary{Samples: len(f.Samples), Burst: f.Burst != nil}
	if len(f.Samples) == 0 {
		return s
	}
	s.Duration = f.Samples[len(f.Samples)-1].Timestamp.Sub(f.Samples[0].Timestamp)

	var up, down []float64
	var first, last *telemetry.Sample
	for i := range f.Samples {
		smp := &f.Samples[i]
		s.MaxAltitude = math.Max(s.MaxAltitude, smp.Altitude)
		switch {
		case smp.VerticalSpeed > 0.5:
			up = append(up, smp.VerticalSpeed)
		case smp.VerticalSpeed < -0.5:
			down = append(down, -smp.VerticalSpeed)
		}
		if smp.HasFix() {
			if first == nil {
				first = smp
			}
			last = smp
		}
	}
	if len(up) > 0 {
		s.MeanAscentRate = stat.Mean(up, nil)
	}
	if len(down) > 0 {
		s.MeanDescentRate = stat.Mean(down, nil)
	}
	if first != nil {
		s.GroundDistance = predict.Haversine(first.Latitude, first.Longitude, last.Latitude, last.Longitude)
	}
	return s
}

var (
	altitudeColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	rateColor     = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	burstColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	landingColor  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// Writer saves plots under a directory.
type Writer struct {
	fs     fsutil.FileSystem
	dir    string
	width  vg.Length
	height vg.Length
	// validate, when set, vets every output path before it is written.
	validate func(path string) error
}

// NewWriter returns a writer saving into dir on fsys.
func NewWriter(fsys fsutil.FileSystem, dir string) *Writer {
	return &Writer{fs: fsys, dir: dir, width: 12 * vg.Inch, height: 6 * vg.Inch}
}

// NewExportWriter writes to the real filesystem and refuses paths outside
// the working or temporary directory.
func NewExportWriter(dir string) *Writer {
	w := NewWriter(fsutil.OSFileSystem{}, dir)
	w.validate = security.ValidateExportPath
	return w
}

func (w *Writer) save(p *plot.Plot, name string, width, height vg.Length) (string, error) {
	path := filepath.Join(w.dir, name)
	if w.validate != nil {
		if err := w.validate(path); err != nil {
			return "", err
		}
	}
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, f.Close()
}

func prefix(f Flight) string {
	return "flight_" + security.SanitizeFilename(f.ID)
}

// Altitude plots altitude and vertical speed against elapsed minutes.
func (w *Writer) Altitude(f Flight) (string, error) {
	if len(f.Samples) == 0 {
		return "", fmt.Errorf("flight %s has no telemetry", f.ID)
	}
	start := f.Samples[0].Timestamp
	alt := make(plotter.XYs, 0, len(f.Samples))
	for _, s := range f.Samples {
		alt = append(alt, plotter.XY{X: s.Timestamp.Sub(start).Minutes(), Y: s.Altitude})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Flight %s altitude", f.ID)
	p.X.Label.Text = "Elapsed (min)"
	p.Y.Label.Text = "Altitude (m)"
	p.Add(plotter.NewGrid())

	altLine, err := plotter.NewLine(alt)
	if err != nil {
		return "", fmt.Errorf("failed to create altitude line: %w", err)
	}
	altLine.Color = altitudeColor
	altLine.Width = vg.Points(1.5)
	p.Add(altLine)
	p.Legend.Add("altitude", altLine)

	if f.Burst != nil {
		pt, err := plotter.NewScatter(plotter.XYs{{X: f.Burst.Time.Sub(start).Minutes(), Y: f.Burst.Altitude}})
		if err != nil {
			return "", fmt.Errorf("failed to create burst marker: %w", err)
		}
		pt.GlyphStyle.Color = burstColor
		pt.GlyphStyle.Radius = vg.Points(5)
		pt.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(pt)
		p.Legend.Add(fmt.Sprintf("burst %.0f m", f.Burst.Altitude), pt)
	}

	return w.save(p, prefix(f)+"_altitude.png", w.width, w.height)
}

// VerticalSpeed plots the smoothed vertical speed against elapsed minutes.
func (w *Writer) VerticalSpeed(f Flight) (string, error) {
	if len(f.Samples) == 0 {
		return "", fmt.Errorf("flight %s has no telemetry", f.ID)
	}
	start := f.Samples[0].Timestamp
	rate := make(plotter.XYs, 0, len(f.Samples))
	for _, s := range f.Samples {
		rate = append(rate, plotter.XY{X: s.Timestamp.Sub(start).Minutes(), Y: s.VerticalSpeed})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Flight %s vertical speed", f.ID)
	p.X.Label.Text = "Elapsed (min)"
	p.Y.Label.Text = "Vertical speed (m/s)"
	p.Add(plotter.NewGrid())
	line, err := plotter.NewLine(rate)
	if err != nil {
		return "", fmt.Errorf("failed to create rate line: %w", err)
	}
	line.Color = rateColor
	line.Width = vg.Points(1)
	p.Add(line)
	return w.save(p, prefix(f)+"_vertical_speed.png", w.width, w.height/2)
}

// Track plots the ground track with predicted landings and the burst point.
func (w *Writer) Track(f Flight) (string, error) {
	track := make(plotter.XYs, 0, len(f.Samples))
	for _, s := range f.Samples {
		if s.HasFix() {
			track = append(track, plotter.XY{X: s.Longitude, Y: s.Latitude})
		}
	}
	if len(track) == 0 {
		return "", fmt.Errorf("flight %s has no position fixes", f.ID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Flight %s ground track", f.ID)
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(track)
	if err != nil {
		return "", fmt.Errorf("failed to create track line: %w", err)
	}
	line.Color = altitudeColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("track", line)

	if len(f.Landings) > 0 {
		pts := make(plotter.XYs, len(f.Landings))
		for i, l := range f.Landings {
			pts[i] = plotter.XY{X: l.Longitude, Y: l.Latitude}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return "", fmt.Errorf("failed to create landing markers: %w", err)
		}
		sc.GlyphStyle.Color = landingColor
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("predicted landing", sc)
	}
	if f.Burst != nil {
		sc, err := plotter.NewScatter(plotter.XYs{{X: f.Burst.Longitude, Y: f.Burst.Latitude}})
		if err != nil {
			return "", fmt.Errorf("failed to create burst marker: %w", err)
		}
		sc.GlyphStyle.Color = burstColor
		sc.GlyphStyle.Radius = vg.Points(5)
		sc.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(sc)
		p.Legend.Add("burst", sc)
	}
	return w.save(p, prefix(f)+"_track.png", w.height, w.height)
}

// WriteAll renders every plot, returning the paths written before the first
// failure.
func (w *Writer) WriteAll(f Flight) ([]string, error) {
	var paths []string
	for _, render := range []func(Flight) (string, error){w.Altitude, w.VerticalSpeed, w.Track} {
		path, err := render(f)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
