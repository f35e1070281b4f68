package hybridsearch

import (
	"context"

	"github.com/marqocore/vespacore/pkg/model"
)

// retrieveLexical issues one lexical-retrieval store query, optionally
// restricted to restrictIDs (the §4.5.4 Tensor/Lexical candidate set),
// and applies modifiers to the returned relevance when non-nil.
func (c *Coordinator) retrieveLexical(ctx context.Context, idx IndexView, q model.MarqoQuery, attrs []string, modifiers []model.ScoreModifierEntry, limit, offset int, restrictIDs []string) (*SearchResult, error) {
	filterStr, err := compileFilter(idx, q.Filter, restrictIDs)
	if err != nil {
		return nil, err
	}
	pred := lexicalPredicate(q.Text, attrs)
	plan := materializeQuery(idx, q, pred, "", nil, attrs, nil, modifiers, nil, nil)
	plan.features["marqo__yql.lexical_filter"] = filterStr
	plan.features["marqo__limit"] = limit
	plan.features["marqo__offset"] = offset

	res, err := c.store.Query(ctx, plan.yql, plan.features, c.queryTimeout)
	if err != nil {
		return nil, err
	}
	hits := translateHits(res)
	if modifiers != nil {
		hits = applyModifiers(hits, modifiers)
		sortByScoreDesc(hits)
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return &SearchResult{Hits: hits, Total: res.Total}, nil
}

// retrieveTensor issues one tensor-retrieval store query, sourcing the
// query vector per §4.5.5, optionally restricted to restrictIDs (the
// §4.5.4 Lexical/Tensor candidate set).
func (c *Coordinator) retrieveTensor(ctx context.Context, idx IndexView, q model.MarqoQuery, attrs []string, modifiers []model.ScoreModifierEntry, limit, offset int, restrictIDs []string) (*SearchResult, error) {
	vec, err := resolveQueryVector(ctx, c.vectoriser, q)
	if err != nil {
		return nil, err
	}
	filterStr, err := compileFilter(idx, q.Filter, restrictIDs)
	if err != nil {
		return nil, err
	}
	pred := tensorPredicate(len(vec) > 0, attrs)
	plan := materializeQuery(idx, q, "", pred, vec, nil, attrs, nil, modifiers, nil)
	plan.features["marqo__yql.tensor_filter"] = filterStr
	plan.features["marqo__limit"] = limit
	plan.features["marqo__offset"] = offset

	res, err := c.store.Query(ctx, plan.yql, plan.features, c.queryTimeout)
	if err != nil {
		return nil, err
	}
	hits := translateHits(res)
	if modifiers != nil {
		hits = applyModifiers(hits, modifiers)
		sortByScoreDesc(hits)
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return &SearchResult{Hits: hits, Total: res.Total}, nil
}
