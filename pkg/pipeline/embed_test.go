package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/marqocore/vespacore/pkg/vectoriser"
	"github.com/stretchr/testify/require"
)

func TestChunkText_ShortTextReturnsSingleChunk(t *testing.T) {
	chunks := chunkText("hello world", 100, 10)
	require.Equal(t, []string{"hello world"}, chunks)
}

func TestChunkText_BreaksAtParagraphBoundary(t *testing.T) {
	text := "first paragraph here padding padding\n\nsecond paragraph continues on and on"
	chunks := chunkText(text, 40, 5)
	require.Greater(t, len(chunks), 1)
	require.Contains(t, chunks[0], "first paragraph")
}

func TestChunkText_NeverInfiniteLoops(t *testing.T) {
	text := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	chunks := chunkText(text, 10, 9)
	require.NotEmpty(t, chunks)
}

func TestL2Normalize_UnitLength(t *testing.T) {
	v := l2Normalize([]float32{3, 4})
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-6)
}

func TestCombineMultimodal_WeightedSumNotAverage(t *testing.T) {
	embeddings := map[string][]float32{
		"image": {1, 0},
		"text":  {0, 1},
	}
	weights := map[string]float64{"image": 0.8, "text": 0.2}
	out := combineMultimodal(weights, embeddings)

	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
	require.Greater(t, out[0], out[1])
}

type fakeVectoriser struct {
	dims int
}

func (f *fakeVectoriser) Embed(ctx context.Context, in vectoriser.Input) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []vectoriser.Input{in})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeVectoriser) EmbedBatch(ctx context.Context, ins []vectoriser.Input) ([][]float32, error) {
	out := make([][]float32, len(ins))
	for i, in := range ins {
		v := make([]float32, f.dims)
		v[0] = float32(len(in.Text))
		out[i] = v
	}
	return out, nil
}

func (f *fakeVectoriser) Dimensions() int { return f.dims }
func (f *fakeVectoriser) Model() string   { return "fake" }
func (f *fakeVectoriser) SupportsModality(m vectoriser.Modality) bool {
	return m == vectoriser.ModalityText
}

func TestEmbedUnits_ModesProduceSameResultsRegardlessOfGrouping(t *testing.T) {
	v := &fakeVectoriser{dims: 2}
	units := []embedUnit{
		{docIndex: 0, field: "title", chunkIdx: 0, input: vectoriser.Input{Modality: vectoriser.ModalityText, Text: "abc"}},
		{docIndex: 0, field: "body", chunkIdx: 0, input: vectoriser.Input{Modality: vectoriser.ModalityText, Text: "de"}},
		{docIndex: 1, field: "title", chunkIdx: 0, input: vectoriser.Input{Modality: vectoriser.ModalityText, Text: "f"}},
	}

	batchResult, err := embedUnits(context.Background(), v, units, ModePerBatch)
	require.NoError(t, err)
	docResult, err := embedUnits(context.Background(), v, units, ModePerDocument)
	require.NoError(t, err)
	fieldResult, err := embedUnits(context.Background(), v, units, ModePerField)
	require.NoError(t, err)

	require.Equal(t, batchResult, docResult)
	require.Equal(t, batchResult, fieldResult)
}
