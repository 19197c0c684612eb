// Package geometry resolves polygon question targets against boundary datasets.
package geometry

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/gokatarajesh/geotap/internal/question"
)

// ErrRegionNotFound is returned when a dataset has no geometry for a code.
var ErrRegionNotFound = errors.New("geometry: region not found")

// Code property names checked in order when indexing features.
var (
	CountryCodeProps = []string{"ISO_A2", "iso_a2", "ISO_A2_EH", "ISO2", "iso2"}
	StateCodeProps   = []string{"STUSPS", "postal", "code", "CODE"}
)

// Result is the outcome of locating a guess against a region.
type Result struct {
	Inside  bool
	Nearest orb.Point
}

// Index holds polygons keyed by dataset and upper-case code.
type Index struct {
	regions map[question.Dataset]map[string]orb.MultiPolygon
}

func NewIndex() *Index {
	return &Index{regions: make(map[question.Dataset]map[string]orb.MultiPolygon)}
}

// Add registers a polygon or multipolygon. Other geometry types are ignored.
func (ix *Index) Add(dataset question.Dataset, code string, g orb.Geometry) bool {
	var mp orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		mp = v
	default:
		return false
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == "-99" {
		return false
	}
	if ix.regions[dataset] == nil {
		ix.regions[dataset] = make(map[string]orb.MultiPolygon)
	}
	ix.regions[dataset][code] = append(ix.regions[dataset][code], mp...)
	return true
}

// Len returns the number of regions in a dataset.
func (ix *Index) Len(dataset question.Dataset) int {
	return len(ix.regions[dataset])
}

// LoadFile indexes a GeoJSON FeatureCollection file.
func (ix *Index) LoadFile(dataset question.Dataset, path string, codeProps []string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s boundaries: %w", dataset, err)
	}
	defer f.Close()
	return ix.Load(dataset, f, codeProps)
}

// Load indexes every feature of a FeatureCollection, keyed by the first
// non-empty code property.
func (ix *Index) Load(dataset question.Dataset, r io.Reader, codeProps []string) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read %s boundaries: %w", dataset, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, fmt.Errorf("decode %s boundaries: %w", dataset, err)
	}
	added := 0
	for _, feat := range fc.Features {
		code := ""
		for _, prop := range codeProps {
			if v := feat.Properties.MustString(prop, ""); v != "" && v != "-99" {
				code = v
				break
			}
		}
		if ix.Add(dataset, code, feat.Geometry) {
			added++
		}
	}
	return added, nil
}

// Locate reports whether (lat, lng) is inside the region and, when outside,
// the nearest point on its boundary.
func (ix *Index) Locate(dataset question.Dataset, code string, lat, lng float64) (Result, error) {
	mp, ok := ix.regions[dataset][strings.ToUpper(code)]
	if !ok || len(mp) == 0 {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrRegionNotFound, dataset, code)
	}
	guess := orb.Point{lng, lat}
	if planar.MultiPolygonContains(mp, guess) {
		return Result{Inside: true, Nearest: guess}, nil
	}
	return Result{Inside: false, Nearest: nearestOnBoundary(mp, guess)}, nil
}

func nearestOnBoundary(mp orb.MultiPolygon, guess orb.Point) orb.Point {
	best := guess
	bestDist := math.Inf(1)
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				p := projectOntoSegment(guess, ring[i], ring[i+1])
				if d := geo.DistanceHaversine(guess, p); d < bestDist {
					bestDist = d
					best = p
				}
			}
		}
	}
	return best
}

// projectOntoSegment works in a local equirectangular frame centred on the
// guess, with longitude deltas wrapped to [-180, 180].
func projectOntoSegment(g, a, b orb.Point) orb.Point {
	k := math.Cos(g.Lat() * math.Pi / 180)
	ax, ay := wrap(a.Lon()-g.Lon())*k, a.Lat()-g.Lat()
	bx, by := wrap(b.Lon()-g.Lon())*k, b.Lat()-g.Lat()
	dx, dy := bx-ax, by-ay
	t := 0.0
	if l2 := dx*dx + dy*dy; l2 > 0 {
		t = -(ax*dx + ay*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}
	px, py := ax+t*dx, ay+t*dy
	lng := g.Lon()
	if k > 1e-9 {
		lng += px / k
	}
	return orb.Point{wrap(lng), g.Lat() + py}
}

func wrap(deg float64) float64 {
	for deg > 180 {
		deg -= 360
	}
	for deg < -180 {
		deg += 360
	}
	return deg
}
