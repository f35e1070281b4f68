package hybridsearch

import (
	"testing"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestCompileFilter_AddsIDRestrictionAlongsideBaseFilter(t *testing.T) {
	idx := IndexView{IndexType: model.IndexTypeUnstructured}
	base := &model.FilterNode{Op: model.OpEq, Field: "color", Value: "red"}
	out, err := compileFilter(idx, base, []string{"a", "b"})
	require.NoError(t, err)
	require.Contains(t, out, "color")
	require.Contains(t, out, "a")
	require.Contains(t, out, "b")
}

func TestFieldsToRank_OnlyPopulatedForDeclaredIndexes(t *testing.T) {
	idx := IndexView{StructuredFields: map[string]model.Field{
		"title": {Name: "title", Type: model.FieldTypeText, Features: []model.Feature{model.FeatureLexicalSearch}},
	}}
	ranked := fieldsToRank(idx, nil)
	require.Equal(t, map[string]float64{"title": 1}, ranked)

	require.Nil(t, fieldsToRank(IndexView{}, nil))
}

func TestWeightMaps_SplitsAdditiveAndMultiplicative(t *testing.T) {
	modifiers := []model.ScoreModifierEntry{
		{FieldName: "a", Weight: 1, Additive: true},
		{FieldName: "b", Weight: 2, Additive: false},
	}
	mult, add := weightMaps(modifiers)
	require.Equal(t, map[string]float64{"b": 2}, mult)
	require.Equal(t, map[string]float64{"a": 1}, add)
}
