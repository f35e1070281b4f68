package main

import (
	"testing"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestParseFieldFlag_NameTypeAndFeatures(t *testing.T) {
	f, err := parseFieldFlag("title:Text:LexicalSearch,Filter")
	require.NoError(t, err)
	require.Equal(t, "title", f.Name)
	require.Equal(t, model.FieldTypeText, f.Type)
	require.Equal(t, []model.Feature{model.FeatureLexicalSearch, model.FeatureFilter}, f.Features)
}

func TestParseFieldFlag_NameAndTypeOnly(t *testing.T) {
	f, err := parseFieldFlag("price:Float")
	require.NoError(t, err)
	require.Equal(t, "price", f.Name)
	require.Equal(t, model.FieldTypeFloat, f.Type)
	require.Empty(t, f.Features)
}

func TestParseFieldFlag_MissingTypeIsRejected(t *testing.T) {
	_, err := parseFieldFlag("title")
	require.Error(t, err)
}

func TestParseTensorFields_DerivesChunkAndEmbeddingNames(t *testing.T) {
	fields := parseTensorFields([]string{"description"})
	require.Len(t, fields, 1)
	require.NotEmpty(t, fields[0].ChunkFieldName)
	require.NotEmpty(t, fields[0].EmbeddingFieldName)
}
