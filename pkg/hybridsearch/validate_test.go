package hybridsearch

import (
	"testing"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestValidateHybridParameters_DisjunctionRRFAllowsBothModifiers(t *testing.T) {
	h := model.DefaultHybridParameters()
	h.ScoreModifiersLexical = []model.ScoreModifierEntry{{FieldName: "x", Weight: 1}}
	h.ScoreModifiersTensor = []model.ScoreModifierEntry{{FieldName: "y", Weight: 1}}
	q := model.MarqoQuery{Hybrid: h, Limit: 10}
	require.NoError(t, validateHybridParameters(IndexView{}, q))
}

func TestValidateHybridParameters_LexicalLexicalRejectsTensorModifiers(t *testing.T) {
	h := model.HybridParameters{RetrievalMethod: model.RetrievalLexical, RankingMethod: model.RankingLexical}
	h.ScoreModifiersTensor = []model.ScoreModifierEntry{{FieldName: "y", Weight: 1}}
	q := model.MarqoQuery{Hybrid: h, Limit: 10}
	require.Error(t, validateHybridParameters(IndexView{}, q))
}

func TestValidateHybridParameters_DisjunctionLexicalIsRejected(t *testing.T) {
	h := model.HybridParameters{RetrievalMethod: model.RetrievalDisjunction, RankingMethod: model.RankingLexical}
	q := model.MarqoQuery{Hybrid: h, Limit: 10}
	require.Error(t, validateHybridParameters(IndexView{}, q))
}

func TestValidateHybridParameters_RootScoreModifiersOnlyValidOnDisjunctionRRF(t *testing.T) {
	h := model.HybridParameters{RetrievalMethod: model.RetrievalTensor, RankingMethod: model.RankingTensor}
	q := model.MarqoQuery{Hybrid: h, Limit: 10, RootScoreModifiers: []model.ScoreModifierEntry{{FieldName: "z", Weight: 1}}}
	require.Error(t, validateHybridParameters(IndexView{}, q))
}

func TestValidateHybridParameters_RerankDepthOnlyValidOnDisjunctionRRF(t *testing.T) {
	depth := 5
	h := model.HybridParameters{RetrievalMethod: model.RetrievalLexical, RankingMethod: model.RankingTensor}
	q := model.MarqoQuery{Hybrid: h, Limit: 10, RerankDepth: &depth}
	require.Error(t, validateHybridParameters(IndexView{}, q))
}

func TestValidateHybridParameters_LegacyUnstructuredRejectsSearchableAttributes(t *testing.T) {
	h := model.DefaultHybridParameters()
	h.SearchableAttributesLexical = []string{"title"}
	q := model.MarqoQuery{Hybrid: h, Limit: 10}
	idx := IndexView{IndexType: model.IndexTypeUnstructured, MarqoVersion: "2.11.0"}
	require.Error(t, validateHybridParameters(idx, q))
}

func TestValidateHybridParameters_LegacyUnstructuredBelowMinVersionRejected(t *testing.T) {
	h := model.DefaultHybridParameters()
	q := model.MarqoQuery{Hybrid: h, Limit: 10}
	idx := IndexView{IndexType: model.IndexTypeUnstructured, MarqoVersion: "2.0.0"}
	require.Error(t, validateHybridParameters(idx, q))
}

func TestValidateHybridParameters_AlphaOutOfRangeRejected(t *testing.T) {
	h := model.DefaultHybridParameters()
	h.Alpha = 1.5
	q := model.MarqoQuery{Hybrid: h, Limit: 10}
	require.Error(t, validateHybridParameters(IndexView{}, q))
}
