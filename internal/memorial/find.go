package memorial

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// FuzzyThreshold is the minimum Jaro-Winkler similarity for a name match.
const FuzzyThreshold = 0.85

// Find resolves ref to a memorial. It tries, in order: an exact ID, a
// case-insensitive name or relation, and the best fuzzy name match at or
// above [FuzzyThreshold]. Ties keep the earlier entry in [Store.List] order.
func Find(ctx context.Context, store Store, ref string) (*Memorial, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	if m, err := store.Get(ctx, ref); err == nil {
		return m, nil
	}

	list, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	for i := range list {
		if strings.EqualFold(list[i].Name, ref) {
			return &list[i], nil
		}
	}
	for i := range list {
		if strings.EqualFold(list[i].Relation, ref) {
			return &list[i], nil
		}
	}

	query := tokens(ref)
	best, bestScore := -1, 0.0
	for i := range list {
		score := nameScore(query, tokens(list[i].Name))
		if score >= FuzzyThreshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: no memorial matches %q", ErrNotFound, ref)
	}
	return &list[best], nil
}

// nameScore is the highest Jaro-Winkler similarity between the query and a
// name, comparing the joined strings and every token pair.
func nameScore(query, name []string) float64 {
	if len(query) == 0 || len(name) == 0 {
		return 0
	}
	score := matchr.JaroWinkler(strings.Join(query, " "), strings.Join(name, " "), false)

	if len(query) > 1 || len(name) > 1 {
		if s := matchr.JaroWinkler(strings.Join(query, ""), strings.Join(name, ""), false); s > score {
			score = s
		}
	}

	// Single-letter tokens match far too eagerly.
	for _, q := range query {
		if len(q) < 2 {
			continue
		}
		for _, n := range name {
			if s := matchr.JaroWinkler(q, n, false); s > score {
				score = s
			}
		}
	}
	return score
}

// tokens lower-cases s and splits it on anything that is not a letter or digit,
// so "Grandma (Li Xiulan)" yields [grandma li xiulan].
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
