package fuzzy

import "sort"

// Scored pairs a candidate with its similarity score.
type Scored[T any] struct {
	Candidate T       `json:"candidate"`
	Score     float64 `json:"score"`
}

// MatchResult is the outcome of Match. Best is nil when the top score is
// below the threshold; Ranked always holds every scored candidate so callers
// can offer "did you mean" choices.
type MatchResult[T any] struct {
	Best   *T          `json:"best,omitempty"`
	Score  float64     `json:"score"`
	Ranked []Scored[T] `json:"ranked"`
}

// Match scores query against each candidate's text and ranks them by
// descending score, keeping input order among ties. Candidates whose text is
// empty are not scored.
func Match[T any](query string, candidates []T, text func(T) string, threshold float64) MatchResult[T] {
	return match(query, candidates, text, threshold, Similarity)
}

// MatchAddress is Match with both sides passed through NormalizeAddress.
func MatchAddress[T any](query string, candidates []T, text func(T) string, threshold float64) MatchResult[T] {
	norm := NormalizeAddress(query)
	if norm == "" {
		return MatchResult[T]{}
	}
	return match(norm, candidates, func(c T) string { return NormalizeAddress(text(c)) }, threshold, Similarity)
}

func match[T any](query string, candidates []T, text func(T) string, threshold float64, score func(a, b string) float64) MatchResult[T] {
	var res MatchResult[T]
	if query == "" || len(candidates) == 0 {
		return res
	}

	for _, c := range candidates {
		t := text(c)
		if t == "" {
			continue
		}
		res.Ranked = append(res.Ranked, Scored[T]{Candidate: c, Score: score(query, t)})
	}

	sort.SliceStable(res.Ranked, func(i, j int) bool {
		return res.Ranked[i].Score > res.Ranked[j].Score
	})

	if len(res.Ranked) == 0 {
		return res
	}
	res.Score = res.Ranked[0].Score
	if res.Score >= threshold {
		best := res.Ranked[0].Candidate
		res.Best = &best
	}
	return res
}
