package question

// Kind classifies how a question is presented and answered.
type Kind string

const (
	KindCountry Kind = "country"
	KindCity    Kind = "city"
	KindState   Kind = "state"
	KindFlag    Kind = "flag"
	KindImage   Kind = "image"
	KindPoint   Kind = "point"
)

// Difficulty buckets used by the stratified builder.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty maps free text to a Difficulty. Unknown values map to "".
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(s)
	default:
		return ""
	}
}

// Dataset names a boundary collection polygon targets refer into.
type Dataset string

const (
	DatasetCountries Dataset = "countries"
	DatasetStates    Dataset = "states"
)

// Target is either a PointTarget or a PolygonTarget.
type Target interface {
	isTarget()
}

// PointTarget is scored by great-circle distance to a single coordinate.
type PointTarget struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PolygonTarget references a region by stable code (ISO-3166 alpha-2 for
// countries, USPS code for states). Hint is an optional representative point
// shipped with the question, used when the boundary cannot be resolved.
type PolygonTarget struct {
	Dataset Dataset      `json:"dataset"`
	Code    string       `json:"code"`
	Hint    *PointTarget `json:"hint,omitempty"`
}

func (PointTarget) isTarget()   {}
func (PolygonTarget) isTarget() {}

// Question is an immutable catalog record.
type Question struct {
	ID         string
	Kind       Kind
	Difficulty Difficulty
	Topic      string
	Region     string
	Prompt     string
	Answer     string
	Image      string
	Target     Target
}

// IsPolygon reports whether the question is scored against a region.
func (q Question) IsPolygon() bool {
	_, ok := q.Target.(PolygonTarget)
	return ok
}

// Set is the ordered sequence produced for one play session.
type Set struct {
	SeedKey   string
	Questions []Question
}

// Ready reports whether the set can start a round. An empty set means the
// catalog was not available yet.
func (s Set) Ready() bool { return len(s.Questions) > 0 }

// IDs returns the question ids in order.
func (s Set) IDs() []string {
	ids := make([]string, len(s.Questions))
	for i, q := range s.Questions {
		ids[i] = q.ID
	}
	return ids
}
