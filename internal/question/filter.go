package question

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTopic is returned for practice topics outside PracticeTopics.
var ErrUnknownTopic = errors.New("unknown practice topic")

// Predicate selects catalog entries.
type Predicate func(Question) bool

// ByDifficulty matches a single difficulty bucket.
func ByDifficulty(d Difficulty) Predicate {
	return func(q Question) bool { return q.Difficulty == d }
}

// ByKind matches any of the given kinds.
func ByKind(kinds ...Kind) Predicate {
	return func(q Question) bool {
		for _, k := range kinds {
			if q.Kind == k {
				return true
			}
		}
		return false
	}
}

// And combines predicates; nil entries are ignored.
func And(preds ...Predicate) Predicate {
	return func(q Question) bool {
		for _, p := range preds {
			if p != nil && !p(q) {
				return false
			}
		}
		return true
	}
}

// Practice topic slugs.
const (
	TopicCountries      = "countries"
	TopicCapitals       = "capitals"
	TopicCities         = "cities"
	TopicStates         = "states"
	TopicFlags          = "flags"
	TopicRegionEurope   = "region_europe"
	TopicRegionAsia     = "region_asia"
	TopicRegionAfrica   = "region_africa"
	TopicRegionAmericas = "region_americas"
	TopicRegionOceania  = "region_oceania"
)

// PracticeTopics lists the topics a practice round may be started with.
var PracticeTopics = []string{
	TopicCountries, TopicCapitals, TopicCities, TopicStates, TopicFlags,
	TopicRegionEurope, TopicRegionAsia, TopicRegionAfrica, TopicRegionAmericas, TopicRegionOceania,
}

// ByTopic returns the predicate for a practice topic slug.
func ByTopic(slug string) (Predicate, error) {
	switch strings.ToLower(slug) {
	case TopicCountries:
		return ByKind(KindCountry), nil
	case TopicFlags:
		return ByKind(KindFlag), nil
	case TopicCapitals:
		return func(q Question) bool { return q.Topic == "capital" }, nil
	case TopicCities:
		return ByKind(KindCity), nil
	case TopicStates:
		return ByKind(KindState), nil
	case TopicRegionEurope:
		return regionMatches("europe"), nil
	case TopicRegionAsia:
		return regionMatches("asia"), nil
	case TopicRegionAfrica:
		return regionMatches("africa"), nil
	case TopicRegionAmericas:
		return regionMatches("america"), nil
	case TopicRegionOceania:
		return regionMatches("oceania", "australia"), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, slug)
	}
}

func regionMatches(needles ...string) Predicate {
	return func(q Question) bool {
		region := strings.ToLower(q.Region)
		for _, n := range needles {
			if strings.Contains(region, n) {
				return true
			}
		}
		return false
	}
}
