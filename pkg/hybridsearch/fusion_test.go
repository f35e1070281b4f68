package hybridsearch

import (
	"testing"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestFuseRRF_DocumentInBothListsBeatsTopOfOneList(t *testing.T) {
	lexical := []Hit{{ID: "a"}, {ID: "b"}}
	tensor := []Hit{{ID: "b"}, {ID: "c"}}

	fused := fuseRRF(lexical, tensor, 0.5, 60)
	require.Equal(t, "b", fused[0].ID)
}

func TestFuseRRF_AlphaZeroIsPureLexicalOrdering(t *testing.T) {
	lexical := []Hit{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	tensor := []Hit{{ID: "c"}, {ID: "a"}, {ID: "b"}}

	fused := fuseRRF(lexical, tensor, 0, 60)
	ids := idsOf(fused)
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestFuseRRF_AlphaOneIsPureTensorOrdering(t *testing.T) {
	lexical := []Hit{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	tensor := []Hit{{ID: "c"}, {ID: "a"}, {ID: "b"}}

	fused := fuseRRF(lexical, tensor, 1, 60)
	ids := idsOf(fused)
	require.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestApplyModifiers_AdditiveAndMultiplicative(t *testing.T) {
	hits := []Hit{
		{ID: "a", Score: 1.0, Fields: map[string]any{"popularity": 2.0}},
	}
	modifiers := []model.ScoreModifierEntry{{FieldName: "popularity", Weight: 0.5, Additive: true}}
	out := applyModifiers(hits, modifiers)
	require.InDelta(t, 2.0, out[0].Score, 1e-9)

	modifiers = []model.ScoreModifierEntry{{FieldName: "popularity", Weight: 2.0, Additive: false}}
	out = applyModifiers(hits, modifiers)
	require.InDelta(t, 4.0, out[0].Score, 1e-9)
}

func TestApplyRerankWindow_RerankDepthZeroLeavesFusedOrderUntouched(t *testing.T) {
	fused := []Hit{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}}
	zero := 0
	out := applyRerankWindow(fused, nil, &zero)
	require.Equal(t, fused, out)
}

func TestApplyRerankWindow_OnlyTopRRescoredRestAppendedInFusedOrder(t *testing.T) {
	fused := []Hit{
		{ID: "a", Score: 0.9, Fields: map[string]any{"boost": 0.0}},
		{ID: "b", Score: 0.8, Fields: map[string]any{"boost": 10.0}},
		{ID: "c", Score: 0.7, Fields: map[string]any{"boost": 0.0}},
	}
	depth := 2
	modifiers := []model.ScoreModifierEntry{{FieldName: "boost", Weight: 1, Additive: true}}
	out := applyRerankWindow(fused, modifiers, &depth)

	require.Equal(t, "b", out[0].ID)
	require.Equal(t, "a", out[1].ID)
	require.Equal(t, "c", out[2].ID)
}

func TestCombineContextVectors_WeightedAverageIncludesBaseWithWeightOne(t *testing.T) {
	base := []float32{1, 0}
	ctx := []model.ContextVector{{Vector: []float32{0, 1}, Weight: 1}}
	out := combineContextVectors(base, ctx)
	require.InDelta(t, 0.5, out[0], 1e-6)
	require.InDelta(t, 0.5, out[1], 1e-6)
}
