package vectoriser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingVectoriser struct {
	calls int
	dims  int
}

func (c *countingVectoriser) Embed(ctx context.Context, in Input) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []Input{in})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *countingVectoriser) EmbedBatch(ctx context.Context, ins []Input) ([][]float32, error) {
	c.calls++
	out := make([][]float32, len(ins))
	for i, in := range ins {
		v := make([]float32, c.dims)
		for j := range v {
			v[j] = float32(len(in.Text) + j)
		}
		out[i] = v
	}
	return out, nil
}

func (c *countingVectoriser) Dimensions() int { return c.dims }
func (c *countingVectoriser) Model() string   { return "counting-test-model" }
func (c *countingVectoriser) SupportsModality(m Modality) bool { return m == ModalityText }

func TestCachedVectoriser_HitsAvoidBaseCalls(t *testing.T) {
	base := &countingVectoriser{dims: 4}
	cached := NewCachedVectoriser(base, 10)

	v1, err := cached.Embed(context.Background(), Input{Modality: ModalityText, Text: "dogs"})
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), Input{Modality: ModalityText, Text: "dogs"})
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.Equal(t, 1, base.calls)

	hits, misses := cached.Stats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)
}

func TestCachedVectoriser_EmbedBatchOnlyFetchesMisses(t *testing.T) {
	base := &countingVectoriser{dims: 4}
	cached := NewCachedVectoriser(base, 10)

	_, err := cached.Embed(context.Background(), Input{Modality: ModalityText, Text: "dogs"})
	require.NoError(t, err)

	out, err := cached.EmbedBatch(context.Background(), []Input{
		{Modality: ModalityText, Text: "dogs"},
		{Modality: ModalityText, Text: "puppies"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	// first call populated "dogs"; this batch should only embed "puppies"
	require.Equal(t, 2, base.calls)
}

func TestCachedVectoriser_DelegatesMetadata(t *testing.T) {
	base := &countingVectoriser{dims: 8}
	cached := NewCachedVectoriser(base, 10)
	require.Equal(t, 8, cached.Dimensions())
	require.Equal(t, "counting-test-model", cached.Model())
	require.True(t, cached.SupportsModality(ModalityText))
	require.False(t, cached.SupportsModality(ModalityImage))
}
