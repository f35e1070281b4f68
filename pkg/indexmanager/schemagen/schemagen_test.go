package schemagen

import (
	"testing"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestStructuredSchema_IncludesLexicalAndFilterFields(t *testing.T) {
	idx := &model.StructuredIndex{
		Index: model.Index{
			Name:              "products",
			SchemaName:        "products",
			Type:              model.IndexTypeStructured,
			DistanceMetric:    model.DistanceMetricAngular,
			VectorNumericType: model.VectorNumericFloat32,
			HNSW:              model.HNSWConfig{EfConstruction: 128, M: 16},
		},
		Fields: []model.Field{
			{Name: "title", Type: model.FieldTypeText, Features: []model.Feature{model.FeatureLexicalSearch, model.FeatureFilter}},
		},
		TensorFields: []model.TensorField{{Name: "title"}},
	}
	idx.Fields[0].DerivedNames()
	idx.TensorFields[0].DerivedNames()

	text := StructuredSchema(idx)
	require.Contains(t, text, "schema products {")
	require.Contains(t, text, "marqo__lexical_title")
	require.Contains(t, text, "marqo__filter_title")
	require.Contains(t, text, "marqo__chunks_title")
	require.Contains(t, text, "marqo__embeddings_title")
	require.Contains(t, text, "rank-profile hybrid_bm25_then_embedding_similarity")
}

func TestSemiStructuredSchema_RendersDeclaredFieldsOnly(t *testing.T) {
	idx := &model.SemiStructuredIndex{
		Index: model.Index{
			Name:              "docs",
			SchemaName:        "docs",
			Type:              model.IndexTypeSemiStructured,
			DistanceMetric:    model.DistanceMetricAngular,
			VectorNumericType: model.VectorNumericFloat32,
			HNSW:              model.HNSWConfig{EfConstruction: 128, M: 16},
		},
		LexicalFields:     []string{"body"},
		StringArrayFields: []string{"tags"},
	}
	idx.Version = 0
	idx.PartialUpdateVersionCutoff = 5

	text := SemiStructuredSchema(idx)
	require.Contains(t, text, "short_strings_fields type map<string,string>")
	require.Contains(t, text, "string_array_tags")
	require.Contains(t, text, "marqo__lexical_body")
	require.NotContains(t, text, "field_types type map")
}

func TestDefaultQueryProfileXML_FixesRankingProfileToHybridCustomSearcher(t *testing.T) {
	xml := DefaultQueryProfileXML()
	require.Contains(t, xml, `<query-profile id="default">`)
	require.Contains(t, xml, "hybrid_custom_searcher")
}
