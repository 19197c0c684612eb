package round

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/geotap/internal/question"
)

const ladderYAML = `
version: 1
levels:
  - id: 1
    difficulty: easy
    numQuestions: 5
    advanceMaxKm: 5000
  - id: 2
    difficulty: medium
    numQuestions: 5
    advanceMaxKm: 4000
  - id: 4
    difficulty: hard
    numQuestions: 10
    advanceMaxKm: 6000
`

func TestParseLadder(t *testing.T) {
	l, err := ParseLadder([]byte(ladderYAML))
	require.NoError(t, err)
	assert.Equal(t, 1, l.Version)
	assert.Equal(t, 3, l.Len())

	r, ok := l.Level(2)
	require.True(t, ok)
	assert.Equal(t, question.DifficultyMedium, r.Difficulty)
	assert.Equal(t, 4000, r.AdvanceMaxKm)

	next, ok := l.Next(2)
	require.True(t, ok)
	assert.Equal(t, 4, next.ID)

	_, ok = l.Next(4)
	assert.False(t, ok)
	_, ok = l.Level(3)
	assert.False(t, ok)
}

func TestParseLadderRejectsInvalidRules(t *testing.T) {
	cases := map[string]string{
		"descending":   "levels: [{id: 2, difficulty: easy, numQuestions: 1, advanceMaxKm: 1}, {id: 1, difficulty: easy, numQuestions: 1, advanceMaxKm: 1}]",
		"difficulty":   "levels: [{id: 1, difficulty: brutal, numQuestions: 1, advanceMaxKm: 1}]",
		"no questions": "levels: [{id: 1, difficulty: easy, numQuestions: 0, advanceMaxKm: 1}]",
		"no target":    "levels: [{id: 1, difficulty: easy, numQuestions: 1, advanceMaxKm: 0}]",
		"unknown key":  "levels: [{id: 1, difficulty: easy, numQuestions: 1, advanceMaxKm: 1, adAfter: true}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLadder([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadLadderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "challenge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ladderYAML), 0o600))

	l, err := LoadLadder(path)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())

	_, err = LoadLadder(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNilLadder(t *testing.T) {
	var l *Ladder
	assert.Equal(t, 0, l.Len())
	_, ok := l.Level(1)
	assert.False(t, ok)
}
