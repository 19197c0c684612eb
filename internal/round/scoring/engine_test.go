package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gokatarajesh/geotap/internal/geometry"
	"github.com/gokatarajesh/geotap/internal/question"
)

type mockGeometry struct {
	mock.Mock
}

func (m *mockGeometry) Locate(dataset question.Dataset, code string, lat, lng float64) (geometry.Result, error) {
	args := m.Called(dataset, code, lat, lng)
	return args.Get(0).(geometry.Result), args.Error(1)
}

func newEngine(geo Geometry) *Engine {
	return NewEngine(DefaultScoringConfig(), geo, zerolog.Nop())
}

func TestScorePointIdentityIsZero(t *testing.T) {
	e := newEngine(nil)
	a := LatLng{Lat: 51.5074, Lng: -0.1278}
	assert.Equal(t, 0, e.ScorePoint(a, a))
}

func TestScorePointSymmetric(t *testing.T) {
	e := newEngine(nil)
	london := LatLng{Lat: 51.5074, Lng: -0.1278}
	paris := LatLng{Lat: 48.8566, Lng: 2.3522}

	d := e.ScorePoint(london, paris)
	assert.Equal(t, d, e.ScorePoint(paris, london))
	assert.InDelta(t, 344, d, 2)
}

func TestScorePointAntipodeIsClamped(t *testing.T) {
	e := newEngine(nil)
	a := LatLng{Lat: 10, Lng: 20}
	anti := LatLng{Lat: -10, Lng: -160}

	assert.Greater(t, e.Haversine(a, anti), 20000.0)
	assert.Equal(t, 10000, e.ScorePoint(a, anti))
}

func TestClamp(t *testing.T) {
	e := newEngine(nil)
	assert.Equal(t, 0, e.Clamp(-3))
	assert.Equal(t, 2, e.Clamp(1.5))
	assert.Equal(t, 1, e.Clamp(1.49))
	assert.Equal(t, 10000, e.Clamp(123456))
	assert.Equal(t, 10000, e.Clamp(math.NaN()))
}

func TestScorePolygonInsideIsZero(t *testing.T) {
	geo := new(mockGeometry)
	e := newEngine(geo)
	guess := LatLng{Lat: 46, Lng: 2}

	geo.On("Locate", question.DatasetCountries, "FR", 46.0, 2.0).Return(geometry.Result{Inside: true}, nil)

	res := e.ScorePolygon(guess, question.PolygonTarget{Dataset: question.DatasetCountries, Code: "FR"})
	assert.Equal(t, 0, res.Km)
	assert.True(t, res.Inside)
	assert.False(t, res.Fallback)
	geo.AssertExpectations(t)
}

func TestScorePolygonOutsideUsesNearestBoundary(t *testing.T) {
	geo := new(mockGeometry)
	e := newEngine(geo)
	guess := LatLng{Lat: 0, Lng: 0}

	geo.On("Locate", question.DatasetStates, "TX", 0.0, 0.0).
		Return(geometry.Result{Nearest: orb.Point{1, 0}}, nil)

	res := e.ScorePolygon(guess, question.PolygonTarget{Dataset: question.DatasetStates, Code: "TX"})
	assert.False(t, res.Inside)
	assert.Equal(t, LatLng{Lat: 0, Lng: 1}, res.Nearest)
	assert.InDelta(t, 111, res.Km, 1)
}

func TestScorePolygonFallsBackToHint(t *testing.T) {
	geo := new(mockGeometry)
	e := newEngine(geo)
	hint := &question.PointTarget{Lat: 0, Lng: 1}

	geo.On("Locate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(geometry.Result{}, geometry.ErrRegionNotFound)

	res := e.ScorePolygon(LatLng{}, question.PolygonTarget{Dataset: question.DatasetCountries, Code: "XX", Hint: hint})
	assert.True(t, res.Fallback)
	assert.InDelta(t, 111, res.Km, 1)
}

func TestScorePolygonFallsBackToCentroidTable(t *testing.T) {
	e := newEngine(nil)
	vatican := LatLng{Lat: 41.9029, Lng: 12.4534}

	res := e.ScorePolygon(vatican, question.PolygonTarget{Dataset: question.DatasetCountries, Code: "va"})
	assert.True(t, res.Fallback)
	assert.Equal(t, 0, res.Km)
}

func TestScorePolygonUnresolvableIsWorstCase(t *testing.T) {
	geo := new(mockGeometry)
	e := newEngine(geo)

	geo.On("Locate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(geometry.Result{}, errors.New("index corrupt"))

	res := e.ScorePolygon(LatLng{}, question.PolygonTarget{Dataset: question.DatasetStates, Code: "ZZ"})
	assert.Equal(t, 10000, res.Km)
	assert.True(t, res.Fallback)
}

func TestScoreTimeout(t *testing.T) {
	e := newEngine(nil)
	assert.Equal(t, 10000, e.Score(nil, question.PointTarget{Lat: 1, Lng: 1}))
	assert.Equal(t, e.TimeoutScore(), e.MaxDistanceKM())
}

func TestTotal(t *testing.T) {
	e := newEngine(nil)
	assert.Equal(t, 900, e.Total([]int{400, 300, 200}))
	assert.Equal(t, 0, e.Total(nil))
}
