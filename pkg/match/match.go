// Package match resolves free-text commentator names against canonical
// catalog candidates. Transliterated proper names score deceptively high on
// raw edit distance, so exact and near-exact canonical matches are ranked
// above character-level similarity.
package match

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/chavruta/chavruta/pkg/hebrew"
)

// Threshold is the minimum score for a confident match.
const Threshold = 0.65

// Name is one display name of a catalog entry, tagged by script/language
// ("he" is the library's primary script).
type Name struct {
	Text string
	Lang string
}

// Candidate is a catalog entry the caller wants resolved against.
type Candidate struct {
	ID    string
	Names []Name
}

// Scored pairs a candidate with its best score, for diagnostics and
// fallback display.
type Scored struct {
	Candidate Candidate
	Score     float64
}

// Best scores query against every candidate and returns the top candidate if
// it clears Threshold, plus the top three candidates regardless. A nil best
// with a non-empty top3 means "no confident match, here is what came close".
// A query that normalizes to nothing (all stop words or punctuation) can
// never match; it still yields a zero-scored top3 so callers always have
// suggestions to show.
func Best(query string, candidates []Candidate) (*Candidate, []Scored) {
	if len(candidates) == 0 {
		return nil, nil
	}
	qCanon, qTokens := hebrew.Normalize(query)

	scored := make([]Scored, 0, len(candidates))
	for _, cand := range candidates {
		score := 0.0
		if qCanon != "" {
			score = scoreCandidate(qCanon, qTokens, cand)
		}
		scored = append(scored, Scored{Candidate: cand, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Candidate.ID < scored[j].Candidate.ID
	})

	top3 := scored
	if len(top3) > 3 {
		top3 = top3[:3]
	}

	if scored[0].Score >= Threshold {
		best := scored[0].Candidate
		return &best, top3
	}
	return nil, top3
}

// scoreCandidate takes the maximum score over the candidate's display names.
// Hebrew-script names are checked first so an exact match in the library's
// primary script wins without consulting transliterations.
func scoreCandidate(qCanon string, qTokens map[string]struct{}, cand Candidate) float64 {
	ordered := make([]Name, 0, len(cand.Names))
	for _, n := range cand.Names {
		if n.Lang == "he" {
			ordered = append(ordered, n)
		}
	}
	for _, n := range cand.Names {
		if n.Lang != "he" {
			ordered = append(ordered, n)
		}
	}

	best := 0.0
	for _, name := range ordered {
		s := scoreName(qCanon, qTokens, name.Text)
		if s > best {
			best = s
		}
		if best >= 1.0 {
			break
		}
	}
	return best
}

func scoreName(qCanon string, qTokens map[string]struct{}, name string) float64 {
	nCanon, nTokens := hebrew.Normalize(name)
	if nCanon == "" {
		return 0
	}

	if qCanon == nCanon {
		return 1.0
	}
	if isSubset(qTokens, nTokens) || isSubset(nTokens, qTokens) {
		return 0.95
	}
	if strings.Contains(qCanon, nCanon) || strings.Contains(nCanon, qCanon) {
		return 0.90
	}

	return 0.6*similarityRatio(qCanon, nCanon) + 0.4*jaccard(qTokens, nTokens)
}

// similarityRatio maps Levenshtein distance to [0,1].
func similarityRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

func isSubset(sub, super map[string]struct{}) bool {
	if len(sub) == 0 || len(sub) > len(super) {
		return false
	}
	for tok := range sub {
		if _, ok := super[tok]; !ok {
			return false
		}
	}
	return true
}

// tokenEquivalence is the similarity at which two tokens count as the same
// for the Jaccard term. Transliteration maps one sound to several plausible
// spellings ("abrabanel"/"abravanel"), so strict equality would zero out the
// token overlap for exactly the names this matcher exists to resolve.
const tokenEquivalence = 0.8

// jaccard computes |A ∩ B| / |A ∪ B| over token sets, counting near-equal
// tokens as intersecting. Each token matches at most one partner.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	used := make(map[string]bool, len(b))
	intersection := 0
	for tok := range a {
		for other := range b {
			if used[other] {
				continue
			}
			if tok == other || similarityRatio(tok, other) >= tokenEquivalence {
				used[other] = true
				intersection++
				break
			}
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
