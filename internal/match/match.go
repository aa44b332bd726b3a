// Package match scores how well a voice-addressable label matches a spoken
// target phrase.
//
// The score is the sum of five independent signals: exact match, whole-word
// containment, token overlap, token order and character-level proximity.
// Scores are comparable across candidates for the same phrase; a score of 100
// or more always means the normalised strings are identical.
package match

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	exactWeight    = 100
	containWeight  = 40
	overlapWeight  = 30
	orderWeight    = 50
	distanceWeight = 20
)

// Normalize lower-cases s, replaces every non-word rune with a space and
// collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Tokens returns the normalised word tokens of s.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// Score returns a non-negative similarity score between a candidate label and
// a spoken phrase. It is pure and deterministic.
func Score(label, phrase string) float64 {
	lt := Tokens(label)
	pt := Tokens(phrase)
	if len(lt) == 0 || len(pt) == 0 {
		return 0
	}
	ln := strings.Join(lt, " ")
	pn := strings.Join(pt, " ")

	var score float64
	if ln == pn {
		score += exactWeight
	}
	if strings.Contains(" "+ln+" ", " "+pn+" ") {
		score += containWeight
	}
	score += overlapWeight * jaccard(lt, pt)
	score += orderWeight * float64(lcs(lt, pt)) / float64(max(len(lt), len(pt)))

	longest := max(len([]rune(ln)), len([]rune(pn)))
	dist := float64(matchr.Levenshtein(ln, pn)) / float64(longest)
	score += distanceWeight * (1 - min(dist, 1))
	return score
}

// Best returns the index and score of the best-scoring candidate for phrase.
// Ties go to the earliest candidate. It returns -1 when candidates is empty.
func Best(candidates []string, phrase string) (int, float64) {
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		s := Score(c, phrase)
		if best == -1 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

// BestOf returns the highest score of label against any of phrases.
func BestOf(label string, phrases []string) float64 {
	var best float64
	for _, p := range phrases {
		best = max(best, Score(label, p))
	}
	return best
}

func jaccard(a, b []string) float64 {
	set := make(map[string]uint8, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	var inter int
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

// lcs returns the length of the longest common subsequence of a and b.
func lcs(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
