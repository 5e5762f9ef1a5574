// Package search runs hybrid lexical+vector retrieval and fuses the two
// rankings with Reciprocal Rank Fusion.
package search

import (
	"sort"

	"github.com/mnemolite/mnemolite/internal/store"
)

// DefaultK0 is the RRF smoothing constant.
const DefaultK0 = 60

// Candidate is one fused result with full provenance: which channels ranked
// it, at which ranks, and the combined score.
type Candidate struct {
	ID          string
	Score       float64
	LexicalRank int // 1-based; 0 means the lexical channel did not rank it
	VectorRank  int // 1-based; 0 means the vector channel did not rank it
	LexScore    float64
	VecDistance float64
}

// FuseRRF combines the two channel rankings. Each candidate scores
// 1/(k0+rank) per channel that ranked it; a missing rank contributes
// nothing. Ties break on lexical score, then identifier ascending.
func FuseRRF(lexical []store.LexicalHit, vector []store.VectorHit, k0 int) []Candidate {
	if k0 <= 0 {
		k0 = DefaultK0
	}

	byID := map[string]*Candidate{}
	order := make([]string, 0, len(lexical)+len(vector))

	get := func(id string) *Candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &Candidate{ID: id}
		byID[id] = c
		order = append(order, id)
		return c
	}

	for i, hit := range lexical {
		c := get(hit.ID)
		c.LexicalRank = i + 1
		c.LexScore = hit.Score
		c.Score += 1.0 / float64(k0+i+1)
	}
	for i, hit := range vector {
		c := get(hit.ID)
		c.VectorRank = i + 1
		c.VecDistance = hit.Distance
		c.Score += 1.0 / float64(k0+i+1)
	}

	fused := make([]Candidate, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].LexScore != fused[j].LexScore {
			return fused[i].LexScore > fused[j].LexScore
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

// Clip returns at most limit candidates.
func Clip(candidates []Candidate, limit int) []Candidate {
	if limit > 0 && len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}
