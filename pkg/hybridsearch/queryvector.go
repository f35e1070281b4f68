package hybridsearch

import (
	"context"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/vectoriser"
)

// resolveQueryVector sources the query vector per §4.5.5: a supplied
// custom vector, or an embedded text query, optionally blended with
// weighted context vectors.
func resolveQueryVector(ctx context.Context, v vectoriser.Vectoriser, q model.MarqoQuery) ([]float32, error) {
	var base []float32

	switch cv := q.Query.(type) {
	case model.CustomVectorQuery:
		base = cv.Vector
	case *model.CustomVectorQuery:
		base = cv.Vector
	default:
		text := q.Text
		if s, ok := q.Query.(string); ok && s != "" {
			text = s
		}
		if text == "" {
			if len(q.Context) == 0 {
				return nil, nil
			}
		} else {
			embedded, err := v.Embed(ctx, vectoriser.Input{Modality: vectoriser.ModalityText, Text: text})
			if err != nil {
				return nil, apperr.Wrap(apperr.KindGeneric, "embed query text", err)
			}
			base = embedded
		}
	}

	if len(q.Context) == 0 {
		return base, nil
	}
	return combineContextVectors(base, q.Context), nil
}

// combineContextVectors computes the weighted average of base (weight 1)
// and every context vector, per §4.5.5 step 3.
func combineContextVectors(base []float32, context []model.ContextVector) []float32 {
	dims := len(base)
	for _, cv := range context {
		if len(cv.Vector) > dims {
			dims = len(cv.Vector)
		}
	}
	if dims == 0 {
		return nil
	}

	sum := make([]float64, dims)
	totalWeight := 0.0
	if len(base) > 0 {
		for i, x := range base {
			sum[i] += float64(x)
		}
		totalWeight += 1
	}
	for _, cv := range context {
		for i, x := range cv.Vector {
			sum[i] += cv.Weight * float64(x)
		}
		totalWeight += cv.Weight
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	out := make([]float32, dims)
	for i, s := range sum {
		out[i] = float32(s / totalWeight)
	}
	return out
}
