// Package stats derives frequency and first-occurrence statistics from the
// word database. Recalculate is a pure full-database pass with no hidden
// state: running it twice in a row yields the same result, so callers simply
// re-run it after every mutation before persisting.
package stats

import (
	"sort"
	"strings"

	"github.com/cognicore/gloss/pkg/gloss/document"
)

const keySep = "|"

// Recalculate recomputes MostFrequentLemma, Frequency, FrequencyUpToHere,
// IsFirstOccurrence and the aggregated translation sets for every entry.
func Recalculate(d *document.Document) {
	if d == nil || len(d.WordDatabase) == 0 {
		return
	}

	// Pass 1: count resolved lemmas per (lower surface, part of speech).
	lemmaCounts := make(map[string]map[string]int)
	for _, e := range d.WordDatabase {
		if e.Lemma == "" || e.PartOfSpeech == "" {
			continue
		}
		key := e.LowerSurface() + keySep + e.PartOfSpeech
		if lemmaCounts[key] == nil {
			lemmaCounts[key] = make(map[string]int)
		}
		lemmaCounts[key][e.Lemma]++
	}

	// Pass 2: the most frequent lemma per group, ties broken lexically so the
	// result does not depend on map iteration order.
	mostFrequent := make(map[string]string, len(lemmaCounts))
	for key, counts := range lemmaCounts {
		best, bestCount := "", -1
		for lemma, n := range counts {
			if n > bestCount || (n == bestCount && lemma < best) {
				best, bestCount = lemma, n
			}
		}
		mostFrequent[key] = best
	}

	// Pass 3: stamp every entry, falling back to its own lemma when the group
	// has no resolved lemma yet.
	for _, e := range d.WordDatabase {
		key := e.LowerSurface() + keySep + e.PartOfSpeech
		if mfl, ok := mostFrequent[key]; ok {
			e.MostFrequentLemma = mfl
		} else {
			e.MostFrequentLemma = e.Lemma
		}
	}

	// Pass 4: aggregate per refined group (lower surface, MFL, part of speech).
	type aggregate struct {
		total             int
		translations      map[string]struct{}
		lemmaTranslations map[string]struct{}
	}
	aggregates := make(map[string]*aggregate)
	for _, e := range d.WordDatabase {
		key := refinedKey(e)
		agg := aggregates[key]
		if agg == nil {
			agg = &aggregate{
				translations:      make(map[string]struct{}),
				lemmaTranslations: make(map[string]struct{}),
			}
			aggregates[key] = agg
		}
		agg.total++
		for _, t := range e.PossibleTranslations {
			agg.translations[t] = struct{}{}
		}
		for _, t := range e.LemmaTranslations {
			agg.lemmaTranslations[t] = struct{}{}
		}
	}

	// Pass 5: in word-position order, stamp first occurrence and running
	// count, and copy the aggregates onto every group member.
	seen := make(map[string]struct{}, len(aggregates))
	running := make(map[string]int, len(aggregates))
	for _, pos := range d.SortedPositions() {
		e := d.WordDatabase[pos]
		key := refinedKey(e)

		_, already := seen[key]
		e.IsFirstOccurrence = !already
		seen[key] = struct{}{}

		running[key]++
		e.FrequencyUpToHere = running[key]

		agg := aggregates[key]
		e.Frequency = agg.total
		e.PossibleTranslations = sortedSet(agg.translations)
		e.LemmaTranslations = sortedSet(agg.lemmaTranslations)
	}
}

func refinedKey(e *document.WordEntry) string {
	return strings.Join([]string{e.LowerSurface(), e.MostFrequentLemma, e.PartOfSpeech}, keySep)
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
