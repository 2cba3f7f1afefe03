package anonymizer

import "sort"

// Normalize turns raw detector output into an ordered, non-overlapping span
// sequence ready for left-to-right application.
//
// Malformed spans are dropped and reported in the returned error slice; they
// never fail the call. The input slice is not modified.
func Normalize(source string, entities []DetectedEntity, entitiesToAnonymize []string) ([]DetectedEntity, []error) {
	opts := Options{EntitiesToAnonymize: entitiesToAnonymize}
	return normalize([]rune(source), entities, opts.entityFilter())
}

func normalize(source []rune, entities []DetectedEntity, filter map[string]bool) ([]DetectedEntity, []error) {
	if len(entities) == 0 {
		return []DetectedEntity{}, nil
	}

	var malformed []error
	candidates := make([]DetectedEntity, 0, len(entities))
	for _, e := range entities {
		if err := e.validate(source); err != nil {
			malformed = append(malformed, err)
			continue
		}
		if filter != nil && !filter[e.EntityType] {
			continue
		}
		candidates = append(candidates, e)
	}

	// Start ascending, then the more confident, then the longer detection.
	// Exact ties keep detector order.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Len() > b.Len()
	})

	kept := make([]DetectedEntity, 0, len(candidates))
	lastEnd := 0
	for _, e := range candidates {
		if len(kept) > 0 && e.Start < lastEnd {
			continue
		}
		kept = append(kept, e)
		lastEnd = e.End
	}
	return kept, malformed
}
