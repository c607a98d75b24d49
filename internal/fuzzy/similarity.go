// Package fuzzy scores string similarity and parses free-form addresses for
// customer and address reconciliation.
//
// Similarity is the Ratcliff/Obershelp ratio 2*M/T, where M is the number of
// runes in matching blocks found by recursively taking the longest common
// substring, and T is the combined length. It agrees with Python's
// difflib.SequenceMatcher ratio, including its automatic junk heuristic for
// long inputs.
package fuzzy

import "strings"

// Default thresholds for accepting a match.
const (
	CustomerThreshold = 0.85
	AddressThreshold  = 0.80
)

// Similarity returns a score in [0, 1]. Inputs are lowercased and trimmed;
// equal inputs score 1 and an empty input scores 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	a = strings.TrimSpace(strings.ToLower(a))
	b = strings.TrimSpace(strings.ToLower(b))
	if a == b {
		return 1
	}
	return ratio([]rune(a), []rune(b))
}

func ratio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	m := newMatcher(a, b)
	return 2 * float64(m.matchedRunes()) / float64(total)
}

type matcher struct {
	a, b []rune
	b2j  map[rune][]int
}

// autojunkMin is the length of b at which popular runes stop seeding matches.
const autojunkMin = 200

func newMatcher(a, b []rune) *matcher {
	b2j := make(map[rune][]int)
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	if n := len(b); n >= autojunkMin {
		popular := n/100 + 1
		for r, idx := range b2j {
			if len(idx) > popular {
				delete(b2j, r)
			}
		}
	}

	return &matcher{a: a, b: b, b2j: b2j}
}

// longest finds the longest matching block in a[alo:ahi] and b[blo:bhi].
// Ties go to the earliest block in a, then in b.
func (m *matcher) longest(alo, ahi, blo, bhi int) (int, int, int) {
	besti, bestj, bestsize := alo, blo, 0
	j2len := map[int]int{}

	for i := alo; i < ahi; i++ {
		next := map[int]int{}
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}

	// extend over runes pruned as popular
	for besti > alo && bestj > blo && m.a[besti-1] == m.b[bestj-1] {
		besti, bestj, bestsize = besti-1, bestj-1, bestsize+1
	}
	for besti+bestsize < ahi && bestj+bestsize < bhi && m.a[besti+bestsize] == m.b[bestj+bestsize] {
		bestsize++
	}

	return besti, bestj, bestsize
}

// matchedRunes sums the sizes of all matching blocks.
func (m *matcher) matchedRunes() int {
	type span struct{ alo, ahi, blo, bhi int }

	total := 0
	queue := []span{{0, len(m.a), 0, len(m.b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := m.longest(s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		total += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return total
}
