package round

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gokatarajesh/geotap/internal/question"
)

// LevelRule is one rung of the challenge ladder.
type LevelRule struct {
	ID           int                 `yaml:"id" json:"id"`
	Difficulty   question.Difficulty `yaml:"difficulty" json:"difficulty"`
	NumQuestions int                 `yaml:"numQuestions" json:"numQuestions"`
	AdvanceMaxKm int                 `yaml:"advanceMaxKm" json:"advanceMaxKm"`
}

// Ladder is the ordered, validated list of challenge levels.
type Ladder struct {
	Version int         `yaml:"version" json:"version"`
	Levels  []LevelRule `yaml:"levels" json:"levels"`
}

// LoadLadder reads a ladder from a YAML (or JSON) file.
func LoadLadder(path string) (*Ladder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read challenge ladder: %w", err)
	}
	return ParseLadder(data)
}

// ParseLadder decodes and validates a ladder.
func ParseLadder(data []byte) (*Ladder, error) {
	var l Ladder
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("decode challenge ladder: %w", err)
	}
	if err := l.validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

func (l *Ladder) validate() error {
	prev := 0
	for i, r := range l.Levels {
		if r.ID <= prev {
			return fmt.Errorf("challenge level %d: id %d not ascending", i, r.ID)
		}
		if question.ParseDifficulty(string(r.Difficulty)) == "" {
			return fmt.Errorf("challenge level %d: unknown difficulty %q", r.ID, r.Difficulty)
		}
		if r.NumQuestions <= 0 {
			return fmt.Errorf("challenge level %d: numQuestions must be positive", r.ID)
		}
		if r.AdvanceMaxKm <= 0 {
			return fmt.Errorf("challenge level %d: advanceMaxKm must be positive", r.ID)
		}
		prev = r.ID
	}
	return nil
}

// Level returns the rule with the given id.
func (l *Ladder) Level(id int) (LevelRule, bool) {
	if l == nil {
		return LevelRule{}, false
	}
	for _, r := range l.Levels {
		if r.ID == id {
			return r, true
		}
	}
	return LevelRule{}, false
}

// Next returns the rule following id.
func (l *Ladder) Next(id int) (LevelRule, bool) {
	if l == nil {
		return LevelRule{}, false
	}
	for _, r := range l.Levels {
		if r.ID > id {
			return r, true
		}
	}
	return LevelRule{}, false
}

// Len returns the number of levels.
func (l *Ladder) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Levels)
}
