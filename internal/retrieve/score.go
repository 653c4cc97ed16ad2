// ABOUTME: Keyword-overlap relevance scoring for retrieval chunks
// ABOUTME: Score is the fraction of distinct usable query terms found in a segment

package retrieve

import (
	"strings"
	"unicode"
)

// Terms extracts the usable query terms: lowercased, punctuation stripped,
// longer than one character, distinct, in query order.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(fields))
	var terms []string
	for _, f := range fields {
		if len(f) <= 1 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// Score returns the fraction of distinct query terms that appear as
// substrings of segment, in [0,1]. A query with no usable terms scores 0.
func Score(query, segment string) float64 {
	return scoreTerms(Terms(query), segment)
}

// scoreTerms is the hot-path form used when the caller has already extracted
// the query's terms once.
func scoreTerms(terms []string, segment string) float64 {
	if len(terms) == 0 {
		return 0
	}

	seg := strings.ToLower(segment)
	hits := 0
	for _, t := range terms {
		if strings.Contains(seg, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
