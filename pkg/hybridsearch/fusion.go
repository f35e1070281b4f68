package hybridsearch

import (
	"sort"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/store"
)

func translateHits(res *store.QueryResult) []Hit {
	hits := make([]Hit, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = Hit{ID: h.ID, Score: h.Relevance, Fields: h.Fields}
	}
	return hits
}

// applyModifiers applies each score-modifier entry to every hit's
// score: additive entries add weight*fieldValue, multiplicative entries
// scale the score by weight*fieldValue. A field absent from a hit (or
// non-numeric) contributes nothing for that hit.
func applyModifiers(hits []Hit, modifiers []model.ScoreModifierEntry) []Hit {
	if len(modifiers) == 0 {
		return hits
	}
	out := make([]Hit, len(hits))
	copy(out, hits)
	for i := range out {
		for _, m := range modifiers {
			v, ok := numericField(out[i].Fields, m.FieldName)
			if !ok {
				continue
			}
			if m.Additive {
				out[i].Score += m.Weight * v
			} else {
				out[i].Score *= m.Weight * v
			}
		}
	}
	return out
}

func numericField(fields map[string]any, name string) (float64, bool) {
	if fields == nil {
		return 0, false
	}
	raw, ok := fields["score_modifiers."+name]
	if !ok {
		raw, ok = fields[name]
	}
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// fuseRRF implements §4.5.3's reciprocal rank fusion: each result set
// contributes weight/(k+rank) for documents it ranks, summed across
// both sets and sorted descending. lexicalHits/tensorHits must already
// be sorted by score descending so their index+1 is the rank.
func fuseRRF(lexicalHits, tensorHits []Hit, alpha float64, rrfK int) []Hit {
	k := float64(rrfK)
	lexicalRank := map[string]int{}
	for i, h := range lexicalHits {
		lexicalRank[h.ID] = i + 1
	}
	tensorRank := map[string]int{}
	for i, h := range tensorHits {
		tensorRank[h.ID] = i + 1
	}

	fields := map[string]map[string]any{}
	for _, h := range lexicalHits {
		fields[h.ID] = mergeFields(fields[h.ID], h.Fields)
	}
	for _, h := range tensorHits {
		fields[h.ID] = mergeFields(fields[h.ID], h.Fields)
	}

	seen := map[string]bool{}
	var ids []string
	for _, h := range lexicalHits {
		if !seen[h.ID] {
			seen[h.ID] = true
			ids = append(ids, h.ID)
		}
	}
	for _, h := range tensorHits {
		if !seen[h.ID] {
			seen[h.ID] = true
			ids = append(ids, h.ID)
		}
	}

	fused := make([]Hit, 0, len(ids))
	for _, id := range ids {
		var lexicalRRF, tensorRRF float64
		if rank, ok := lexicalRank[id]; ok {
			lexicalRRF = 1 / (k + float64(rank))
		}
		if rank, ok := tensorRank[id]; ok {
			tensorRRF = 1 / (k + float64(rank))
		}
		score := alpha*tensorRRF + (1-alpha)*lexicalRRF
		fused = append(fused, Hit{ID: id, Score: score, Fields: fields[id]})
	}

	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	return fused
}

func mergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// applyRerankWindow implements §4.5.3's rerank-depth semantics: the top
// min(R, N) fused hits are rescored with rootModifiers and re-sorted;
// the remainder retain fused order and are appended unchanged.
func applyRerankWindow(fused []Hit, rootModifiers []model.ScoreModifierEntry, rerankDepth *int) []Hit {
	n := len(fused)
	if rerankDepth == nil {
		r := n
		rerankDepth = &r
	}
	r := *rerankDepth
	if r <= 0 {
		return fused
	}
	if r > n {
		r = n
	}

	head := applyModifiers(fused[:r], rootModifiers)
	sort.SliceStable(head, func(i, j int) bool { return head[i].Score > head[j].Score })

	out := make([]Hit, 0, n)
	out = append(out, head...)
	out = append(out, fused[r:]...)
	return out
}
