package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"
)

// Catalog is the read-only question collection loaded at startup.
type Catalog struct {
	items   []Question
	byID    map[string]int
	version string
}

// NewCatalog copies items into a catalog. Later duplicates of an id are dropped.
func NewCatalog(items []Question) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(items))}
	h := fnv.New64a()
	for _, q := range items {
		if q.ID == "" {
			continue
		}
		if _, dup := c.byID[q.ID]; dup {
			continue
		}
		c.byID[q.ID] = len(c.items)
		c.items = append(c.items, q)
		_, _ = h.Write([]byte(q.ID))
		_, _ = h.Write([]byte{0})
	}
	c.version = fmt.Sprintf("%016x", h.Sum64())
	return c
}

// Len returns the number of questions.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Version fingerprints the catalog contents; cached sets are keyed by it.
func (c *Catalog) Version() string {
	if c == nil {
		return ""
	}
	return c.version
}

// Lookup returns a question by id.
func (c *Catalog) Lookup(id string) (Question, bool) {
	if c == nil {
		return Question{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Question{}, false
	}
	return c.items[i], true
}

// Select returns the questions matching pred in catalog order.
func (c *Catalog) Select(pred Predicate) []Question {
	if c == nil {
		return nil
	}
	out := make([]Question, 0, len(c.items))
	for _, q := range c.items {
		if pred == nil || pred(q) {
			out = append(out, q)
		}
	}
	return out
}

// rawQuestion is the on-disk shape produced by the content build scripts.
type rawQuestion struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Kind       string `json:"kind"`
	Prompt     string `json:"prompt"`
	Name       string `json:"name"`
	Country    string `json:"country"`
	Region     string `json:"region"`
	Continent  string `json:"continent"`
	Difficulty string `json:"difficulty"`
	FeatureID  string `json:"featureId"`
	ISO2       string `json:"iso2"`
	Code       string `json:"code"`
	Image      string `json:"image"`
	Target     *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"target"`
}

// LoadFile reads a catalog file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes either a bare JSON array or an {"items": [...]} document.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var items []rawQuestion
	if err := json.Unmarshal(data, &items); err != nil {
		var doc struct {
			Items []rawQuestion `json:"items"`
		}
		if errDoc := json.Unmarshal(data, &doc); errDoc != nil {
			return nil, fmt.Errorf("decode catalog: %w", errors.Join(err, errDoc))
		}
		items = doc.Items
	}

	questions := make([]Question, 0, len(items))
	for _, raw := range items {
		q, ok := normalize(raw)
		if !ok {
			continue
		}
		questions = append(questions, q)
	}
	return NewCatalog(questions), nil
}

func normalize(raw rawQuestion) (Question, bool) {
	if raw.ID == "" {
		return Question{}, false
	}
	kind, topic := classify(raw.Type, raw.Kind)
	region := raw.Region
	if region == "" {
		region = raw.Continent
	}
	q := Question{
		ID:         raw.ID,
		Kind:       kind,
		Difficulty: ParseDifficulty(strings.ToLower(raw.Difficulty)),
		Topic:      topic,
		Region:     region,
		Answer:     firstNonEmpty(raw.Name, raw.FeatureID),
		Image:      raw.Image,
	}

	var point *PointTarget
	if raw.Target != nil {
		point = &PointTarget{Lat: raw.Target.Lat, Lng: raw.Target.Lng}
	}

	switch kind {
	case KindCountry, KindFlag, KindState:
		dataset := DatasetCountries
		if kind == KindState {
			dataset = DatasetStates
		}
		code := strings.ToUpper(firstNonEmpty(raw.ISO2, raw.Code, raw.FeatureID))
		if code == "" {
			if point == nil {
				return Question{}, false
			}
			q.Target = *point
		} else {
			q.Target = PolygonTarget{Dataset: dataset, Code: code, Hint: point}
		}
	default:
		if point == nil {
			return Question{}, false
		}
		q.Target = *point
	}

	q.Prompt = raw.Prompt
	if q.Prompt == "" {
		q.Prompt = defaultPrompt(q, raw.Country)
	}
	return q, true
}

// classify maps the loose type/kind pair of the content files onto Kind.
func classify(typ, kind string) (Kind, string) {
	typ = strings.ToLower(typ)
	kind = strings.ToLower(kind)
	switch {
	case kind == "capital":
		return KindCity, "capital"
	case kind == "city":
		return KindCity, ""
	case typ == "flag" || kind == "flag":
		return KindFlag, ""
	case typ == "country" || kind == "country":
		return KindCountry, ""
	case typ == "state" || kind == "state":
		return KindState, ""
	case typ == "image" || kind == "image":
		return KindImage, ""
	default:
		return KindPoint, kind
	}
}

func defaultPrompt(q Question, country string) string {
	switch q.Kind {
	case KindCity:
		if q.Answer == "" {
			return "Where is this city?"
		}
		if country != "" {
			return fmt.Sprintf("Where is %s, %s?", q.Answer, country)
		}
		return fmt.Sprintf("Where is %s?", q.Answer)
	case KindFlag:
		return "FLAG: Which country?"
	case KindImage:
		return "Where is this?"
	case KindCountry:
		if q.Answer == "" {
			return "Where is this country?"
		}
	case KindState:
		if q.Answer == "" {
			return "Where is this state?"
		}
	}
	if q.Answer == "" {
		return "Where is this?"
	}
	return fmt.Sprintf("Where is %s?", q.Answer)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Fallback is the minimal bundled catalog used when the content file cannot be read.
func Fallback() *Catalog {
	return NewCatalog([]Question{
		{
			ID: "louvre", Kind: KindImage, Difficulty: DifficultyEasy, Region: "Europe",
			Prompt: "Where is this landmark?", Answer: "Louvre", Image: "local:landmarks/louvre.jpg",
			Target: PointTarget{Lat: 48.8606, Lng: 2.3376},
		},
		{
			ID: "flag-japan", Kind: KindFlag, Difficulty: DifficultyMedium, Region: "Asia",
			Prompt: "Which country is this flag from?", Answer: "Japan", Image: "local:flags/japan.png",
			Target: PolygonTarget{Dataset: DatasetCountries, Code: "JP", Hint: &PointTarget{Lat: 36.2048, Lng: 138.2529}},
		},
		{
			ID: "cairo", Kind: KindCity, Difficulty: DifficultyEasy, Region: "Africa",
			Prompt: "Tap Cairo", Answer: "Cairo",
			Target: PointTarget{Lat: 30.0444, Lng: 31.2357},
		},
		{
			ID: "france", Kind: KindCountry, Difficulty: DifficultyEasy, Region: "Europe",
			Prompt: "Tap France", Answer: "France",
			Target: PolygonTarget{Dataset: DatasetCountries, Code: "FR", Hint: &PointTarget{Lat: 46.6034, Lng: 1.8883}},
		},
	})
}
