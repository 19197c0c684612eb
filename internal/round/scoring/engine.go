package scoring

import (
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/geometry"
	"github.com/gokatarajesh/geotap/internal/question"
)

// ScoringConfig holds configurable scoring constants (defaults match the game rules).
type ScoringConfig struct {
	EarthRadiusKM float64 // default: 6371
	MaxDistanceKM int     // default: 10000, also the timeout penalty
}

// DefaultScoringConfig returns production defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		EarthRadiusKM: 6371,
		MaxDistanceKM: 10000,
	}
}

// LatLng is a coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geometry resolves polygon targets.
type Geometry interface {
	Locate(dataset question.Dataset, code string, lat, lng float64) (geometry.Result, error)
}

// PolygonScore is the outcome of scoring a guess against a region.
type PolygonScore struct {
	Km      int
	Inside  bool
	Nearest LatLng
	// Fallback is set when the region could not be resolved and the guess
	// was scored against a representative point instead.
	Fallback bool
}

// Engine computes distance scores with configurable constants.
type Engine struct {
	config   ScoringConfig
	geometry Geometry
	logger   zerolog.Logger
}

// NewEngine creates a scoring engine. geo may be nil, in which case every
// polygon target falls back to point scoring.
func NewEngine(config ScoringConfig, geo Geometry, logger zerolog.Logger) *Engine {
	if config.EarthRadiusKM <= 0 {
		config.EarthRadiusKM = DefaultScoringConfig().EarthRadiusKM
	}
	if config.MaxDistanceKM <= 0 {
		config.MaxDistanceKM = DefaultScoringConfig().MaxDistanceKM
	}
	return &Engine{
		config:   config,
		geometry: geo,
		logger:   logger.With().Str("component", "scoring").Logger(),
	}
}

// MaxDistanceKM returns the configured cap.
func (e *Engine) MaxDistanceKM() int { return e.config.MaxDistanceKM }

// Haversine returns the unrounded great-circle distance in km.
func (e *Engine) Haversine(a, b LatLng) float64 {
	const rad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLng := (b.Lng - a.Lng) * rad
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	s = math.Min(1, math.Max(0, s))
	return 2 * e.config.EarthRadiusKM * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

// Clamp rounds km to the nearest integer within [0, MaxDistanceKM].
// NaN is treated as the worst case.
func (e *Engine) Clamp(km float64) int {
	if math.IsNaN(km) {
		return e.config.MaxDistanceKM
	}
	r := math.Round(km)
	if r < 0 {
		return 0
	}
	if r > float64(e.config.MaxDistanceKM) {
		return e.config.MaxDistanceKM
	}
	return int(r)
}

// ScorePoint scores a guess against a point target.
func (e *Engine) ScorePoint(guess, target LatLng) int {
	return e.Clamp(e.Haversine(guess, target))
}

// ScorePolygon scores a guess against a region: zero inside, otherwise the
// distance to the nearest boundary point.
func (e *Engine) ScorePolygon(guess LatLng, target question.PolygonTarget) PolygonScore {
	if e.geometry != nil {
		res, err := e.geometry.Locate(target.Dataset, target.Code, guess.Lat, guess.Lng)
		if err == nil {
			if res.Inside {
				return PolygonScore{Km: 0, Inside: true, Nearest: guess}
			}
			nearest := LatLng{Lat: res.Nearest.Lat(), Lng: res.Nearest.Lon()}
			return PolygonScore{Km: e.ScorePoint(guess, nearest), Nearest: nearest}
		}
		if !errors.Is(err, geometry.ErrRegionNotFound) {
			e.logger.Warn().Err(err).Str("code", target.Code).Msg("polygon lookup failed")
		}
	}

	if p, ok := e.fallbackPoint(target); ok {
		return PolygonScore{Km: e.ScorePoint(guess, p), Nearest: p, Fallback: true}
	}

	e.logger.Warn().
		Str("dataset", string(target.Dataset)).
		Str("code", target.Code).
		Msg("unresolvable polygon target, scoring as worst case")
	return PolygonScore{Km: e.config.MaxDistanceKM, Fallback: true}
}

// ResolvePoint returns a representative coordinate for any target, used to
// reveal the answer location.
func (e *Engine) ResolvePoint(target question.Target) (LatLng, bool) {
	switch t := target.(type) {
	case question.PointTarget:
		return LatLng{Lat: t.Lat, Lng: t.Lng}, true
	case question.PolygonTarget:
		return e.fallbackPoint(t)
	default:
		return LatLng{}, false
	}
}

func (e *Engine) fallbackPoint(target question.PolygonTarget) (LatLng, bool) {
	if target.Hint != nil {
		return LatLng{Lat: target.Hint.Lat, Lng: target.Hint.Lng}, true
	}
	if target.Dataset == question.DatasetCountries {
		if lat, lng, ok := geometry.CountryCentroid(target.Code); ok {
			return LatLng{Lat: lat, Lng: lng}, true
		}
	}
	return LatLng{}, false
}

// Score dispatches on the target shape. A nil guess is a timeout.
func (e *Engine) Score(guess *LatLng, target question.Target) int {
	if guess == nil {
		return e.TimeoutScore()
	}
	switch t := target.(type) {
	case question.PointTarget:
		return e.ScorePoint(*guess, LatLng{Lat: t.Lat, Lng: t.Lng})
	case question.PolygonTarget:
		return e.ScorePolygon(*guess, t).Km
	default:
		return e.TimeoutScore()
	}
}

// TimeoutScore is the score of a question with no guess.
func (e *Engine) TimeoutScore() int {
	return e.config.MaxDistanceKM
}

// Total sums rounded per-question distances.
func (e *Engine) Total(kms []int) int {
	total := 0
	for _, km := range kms {
		total += km
	}
	return total
}
