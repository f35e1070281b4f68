package hybridsearch

import (
	"context"
	"testing"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestResolveQueryVector_CustomVectorUsedDirectly(t *testing.T) {
	q := model.MarqoQuery{Query: model.CustomVectorQuery{Vector: []float32{1, 2, 3}}}
	v, err := resolveQueryVector(context.Background(), &fakeVectoriser{dims: 3}, q)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, v)
}

func TestResolveQueryVector_EmbedsTextWhenNoCustomVector(t *testing.T) {
	q := model.MarqoQuery{Text: "hello", Query: "hello"}
	v, err := resolveQueryVector(context.Background(), &fakeVectoriser{dims: 4}, q)
	require.NoError(t, err)
	require.Equal(t, float32(5), v[0])
}

func TestResolveQueryVector_BlendsContextVectors(t *testing.T) {
	q := model.MarqoQuery{
		Query:   model.CustomVectorQuery{Vector: []float32{1, 0}},
		Context: []model.ContextVector{{Vector: []float32{0, 1}, Weight: 1}},
	}
	v, err := resolveQueryVector(context.Background(), &fakeVectoriser{dims: 2}, q)
	require.NoError(t, err)
	require.InDelta(t, 0.5, v[0], 1e-6)
	require.InDelta(t, 0.5, v[1], 1e-6)
}
