package question

import "math"

// Stratum asks for Count questions of a difficulty (and optionally a kind).
// Empty Difficulty or Kind match anything.
type Stratum struct {
	Difficulty Difficulty
	Kind       Kind
	Count      int
}

// BuildRequest describes one set to build.
type BuildRequest struct {
	SeedKey string
	Count   int
	Filter  Predicate
	// Strata defaults to DailyStrata(Count).
	Strata []Stratum
}

// DailyStrata splits count 40/40/20 across easy, medium and hard.
func DailyStrata(count int) []Stratum {
	if count <= 0 {
		return nil
	}
	easy := int(math.Round(float64(count) * 0.4))
	medium := int(math.Round(float64(count) * 0.4))
	if easy+medium > count {
		medium = count - easy
	}
	return []Stratum{
		{Difficulty: DifficultyEasy, Count: easy},
		{Difficulty: DifficultyMedium, Count: medium},
		{Difficulty: DifficultyHard, Count: count - easy - medium},
	}
}

// Build produces a reproducible set: same catalog and request give the same
// sequence. Strata are filled in order; a short stratum widens to the same
// kind at any difficulty, then any kind at its difficulty, then everything
// eligible. Ids repeat only when fewer than Count questions are eligible.
// An empty eligible pool yields an empty, not-ready set.
func Build(c *Catalog, req BuildRequest) Set {
	set := Set{SeedKey: req.SeedKey}
	if req.Count <= 0 {
		return set
	}
	eligible := c.Select(req.Filter)
	if len(eligible) == 0 {
		return set
	}

	strata := req.Strata
	if strata == nil {
		strata = DailyStrata(req.Count)
	}

	rng := newRNG(req.SeedKey)
	picked := make(map[string]struct{}, req.Count)
	selected := make([]Question, 0, req.Count)

	take := func(pool []Question, need int) int {
		for _, q := range shuffled(rng, pool) {
			if need == 0 {
				break
			}
			if _, dup := picked[q.ID]; dup {
				continue
			}
			picked[q.ID] = struct{}{}
			selected = append(selected, q)
			need--
		}
		return need
	}

	for _, st := range strata {
		need := st.Count
		for _, pool := range widen(eligible, st) {
			if need == 0 {
				break
			}
			need = take(pool, need)
		}
	}

	if len(selected) < req.Count {
		take(eligible, req.Count-len(selected))
	}

	// Catalog smaller than the request: cycle a fresh permutation.
	if len(selected) < req.Count {
		cycle := shuffled(rng, eligible)
		for i := 0; len(selected) < req.Count; i++ {
			selected = append(selected, cycle[i%len(cycle)])
		}
	}

	selected = shuffled(rng, selected)
	if len(selected) > req.Count {
		selected = selected[:req.Count]
	}
	set.Questions = selected
	return set
}

// widen returns the stratum's pools from narrowest to the whole eligible set.
func widen(eligible []Question, st Stratum) [][]Question {
	match := func(kind Kind, diff Difficulty) []Question {
		out := make([]Question, 0)
		for _, q := range eligible {
			if kind != "" && q.Kind != kind {
				continue
			}
			if diff != "" && q.Difficulty != diff {
				continue
			}
			out = append(out, q)
		}
		return out
	}

	pools := [][]Question{match(st.Kind, st.Difficulty)}
	if st.Kind != "" && st.Difficulty != "" {
		pools = append(pools, match(st.Kind, ""))
	}
	if st.Kind != "" {
		pools = append(pools, match("", st.Difficulty))
	}
	if st.Kind != "" || st.Difficulty != "" {
		pools = append(pools, eligible)
	}
	return pools
}
