// Package rank selects a small, diverse, high-relevance subset of embedded
// candidates for a query vector. Used for memory retrieval at generation
// time.
package rank

import (
	"math"
	"sort"
)

// Candidate is one scored item. Value carries whatever text the caller wants
// back; ID lets callers map selections onto their own records.
type Candidate struct {
	ID        string
	Value     string
	Embedding []float32
}

// Options tune the selection. Zero values fall back to the defaults.
type Options struct {
	// MaxCount caps the result size. Default 10.
	MaxCount int
	// MinCount is the guaranteed floor when the adaptive threshold filters
	// out too much. Default 1.
	MinCount int
	// DiversityWeight is the MMR lambda. Nil defaults to 0.3; an explicit 0
	// ranks purely by relevance.
	DiversityWeight *float64
}

func (o Options) withDefaults() Options {
	if o.MaxCount == 0 {
		o.MaxCount = 10
	}
	if o.MinCount == 0 {
		o.MinCount = 1
	}
	if o.DiversityWeight == nil {
		lambda := 0.3
		o.DiversityWeight = &lambda
	}
	return o
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|), or 0 when either vector is
// empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type scored struct {
	candidate Candidate
	score     float64
}

// MostRelevant scores every candidate against the query, keeps those above
// an adaptive threshold (mean + stddev/2 of the score distribution; fixed
// thresholds drift across embedding models), then orders the survivors with
// maximal marginal relevance. Deterministic: ties go to the first-encountered
// candidate.
func MostRelevant(query []float32, candidates []Candidate, opts Options) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	opts = opts.withDefaults()

	pool := make([]scored, len(candidates))
	var sum float64
	for i, c := range candidates {
		score := CosineSimilarity(query, c.Embedding)
		pool[i] = scored{candidate: c, score: score}
		sum += score
	}
	mean := sum / float64(len(pool))
	var variance float64
	for _, s := range pool {
		variance += (s.score - mean) * (s.score - mean)
	}
	stddev := math.Sqrt(variance / float64(len(pool)))
	threshold := mean + stddev/2

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })

	kept := []scored{}
	for _, s := range pool {
		if s.score >= threshold {
			kept = append(kept, s)
		}
	}
	if len(kept) < opts.MinCount {
		n := opts.MinCount
		if n > len(pool) {
			n = len(pool)
		}
		kept = pool[:n]
	}

	return selectMMR(kept, opts)
}

func selectMMR(pool []scored, opts Options) []Candidate {
	lambda := *opts.DiversityWeight
	chosen := []Candidate{}
	for len(chosen) < opts.MaxCount && len(pool) > 0 {
		best, bestScore := -1, math.Inf(-1)
		for i, s := range pool {
			maxSim := 0.0
			for _, c := range chosen {
				if sim := CosineSimilarity(s.candidate.Embedding, c.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			score := (1-lambda)*s.score - lambda*maxSim
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		chosen = append(chosen, pool[best].candidate)
		pool = append(pool[:best], pool[best+1:]...)
	}
	return chosen
}
