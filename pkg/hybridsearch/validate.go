package hybridsearch

import (
	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/model"
)

type comboKey struct {
	retrieval model.RetrievalMethod
	ranking   model.RankingMethod
}

type comboRule struct {
	allowLexicalModifiers bool
	allowTensorModifiers  bool
}

// compatibilityMatrix is §4.5.2's table. A combination absent from this
// map is rejected.
var compatibilityMatrix = map[comboKey]comboRule{
	{model.RetrievalDisjunction, model.RankingRRF}:     {allowLexicalModifiers: true, allowTensorModifiers: true},
	{model.RetrievalLexical, model.RankingLexical}:      {allowLexicalModifiers: true},
	{model.RetrievalLexical, model.RankingTensor}:       {allowTensorModifiers: true},
	{model.RetrievalTensor, model.RankingTensor}:        {allowTensorModifiers: true},
	{model.RetrievalTensor, model.RankingLexical}:       {allowLexicalModifiers: true},
}

// validateHybridParameters enforces §4.5.1's field-level constraints and
// §4.5.2's retrieval/ranking compatibility matrix.
func validateHybridParameters(idx IndexView, q model.MarqoQuery) error {
	h := q.Hybrid

	if idx.IndexType == model.IndexTypeUnstructured {
		if !model.SupportsFeature(idx.MarqoVersion, "hybrid_search") {
			return apperr.Newf(apperr.KindUnsupportedFeature, "hybrid search requires marqoVersion >= %s", model.MinHybridSearchVersion)
		}
		if len(h.SearchableAttributesLexical) > 0 || len(h.SearchableAttributesTensor) > 0 {
			return apperr.New(apperr.KindInvalidArgument, "searchableAttributes is not supported on legacy Unstructured indexes")
		}
	}

	rule, ok := compatibilityMatrix[comboKey{h.RetrievalMethod, h.RankingMethod}]
	if !ok {
		return apperr.Newf(apperr.KindInvalidArgument, "retrievalMethod %q is not compatible with rankingMethod %q", h.RetrievalMethod, h.RankingMethod)
	}
	if len(h.ScoreModifiersLexical) > 0 && !rule.allowLexicalModifiers {
		return apperr.Newf(apperr.KindInvalidArgument, "scoreModifiersLexical is not valid for retrievalMethod %q / rankingMethod %q", h.RetrievalMethod, h.RankingMethod)
	}
	if len(h.ScoreModifiersTensor) > 0 && !rule.allowTensorModifiers {
		return apperr.Newf(apperr.KindInvalidArgument, "scoreModifiersTensor is not valid for retrievalMethod %q / rankingMethod %q", h.RetrievalMethod, h.RankingMethod)
	}

	isDisjunctionRRF := h.RetrievalMethod == model.RetrievalDisjunction && h.RankingMethod == model.RankingRRF
	if !isDisjunctionRRF {
		if len(q.RootScoreModifiers) > 0 {
			return apperr.New(apperr.KindInvalidArgument, "scoreModifiers is only valid with retrievalMethod=Disjunction and rankingMethod=RRF")
		}
		if q.RerankDepth != nil {
			return apperr.New(apperr.KindInvalidArgument, "rerankDepth is only valid with retrievalMethod=Disjunction and rankingMethod=RRF")
		}
	}
	if q.RerankDepth != nil && *q.RerankDepth < 0 {
		return apperr.New(apperr.KindInvalidArgument, "rerankDepth must be non-negative")
	}

	if h.RankingMethod == model.RankingRRF {
		if h.Alpha < 0 || h.Alpha > 1 {
			return apperr.New(apperr.KindInvalidArgument, "alpha must be in [0,1]")
		}
		if h.RRFK < 0 {
			return apperr.New(apperr.KindInvalidArgument, "rrfK must be non-negative")
		}
	}
	return nil
}
