package pipeline

import (
	"context"
	"math"
	"strings"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/vectoriser"
)

// embeddedDoc is a resolvedDoc whose tensor content has been embedded
// and folded into its StoredDocument.
type embeddedDoc struct {
	doc *resolvedDoc
}

// embedUnit is one piece of content to be embedded: a single text
// chunk of one field of one document, or a pre-resolved media chunk.
type embedUnit struct {
	docIndex int
	field    string
	chunkIdx int
	input    vectoriser.Input
}

// chunkText splits text into chunks with overlap, preferring paragraph,
// then sentence, then word breaks over a hard cut (mirrors the
// natural-boundary chunking used elsewhere in the corpus for
// embedding-bound text).
func chunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 || len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		if end < len(text) {
			chunk := text[start:end]
			if idx := strings.LastIndex(chunk, "\n\n"); idx > chunkSize/2 {
				end = start + idx
			} else if idx := strings.LastIndex(chunk, ". "); idx > chunkSize/2 {
				end = start + idx + 1
			} else if idx := strings.LastIndex(chunk, " "); idx > chunkSize/2 {
				end = start + idx
			}
		}
		chunks = append(chunks, text[start:end])

		nextStart := end - overlap
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}
	return chunks
}

// planEmbedUnits expands every tensor-candidate field of every kept
// document into one embedUnit per chunk (text) or per decoded media
// chunk, checking index-type modality gating and model capability
// along the way (§4.4.3 steps 2-3, §4.4.4).
func planEmbedUnits(kept []*resolvedDoc, mediaResults map[string]mediaResult, idx IndexView, prefixes model.ModelPrefixes, v vectoriser.Vectoriser) ([]embedUnit, []ItemResult) {
	var units []embedUnit
	var failed []ItemResult

	for docIdx, rd := range kept {
		for field, value := range rd.tensorCandidates {
			declared, isStructuredField := idx.StructuredFields[field]

			if looksLikeURL(value) {
				mr, ok := mediaResults[value]
				if !ok || mr.err != nil {
					msg := "media content unavailable"
					if ok {
						msg = mr.err.Error()
					}
					failed = append(failed, ItemResult{ID: rd.id, Status: apperr.KindOf(mr.err).HTTPStatus(), Message: msg})
					rd.stored = nil
					break
				}
				if isStructuredField {
					if err := checkModalityAgainstIndex(declared.Type, mr.modality); err != nil {
						failed = append(failed, itemResultForError(rd.id, err))
						rd.stored = nil
						break
					}
				}
				if !v.SupportsModality(mr.modality) {
					failed = append(failed, ItemResult{ID: rd.id, Status: apperr.KindUnsupportedModality.HTTPStatus(), Message: "model does not support modality " + string(mr.modality)})
					rd.stored = nil
					break
				}
				for ci, chunk := range mr.chunks {
					units = append(units, embedUnit{docIndex: docIdx, field: field, chunkIdx: ci, input: vectoriser.Input{Modality: mr.modality, Text: value, PreEncoded: chunk}})
				}
				continue
			}

			text := prefixes.TextChunkPrefix + value
			chunks := chunkText(text, 0, 0)
			if idx.TextPreprocessing.SplitLength > 0 {
				chunks = chunkText(text, idx.TextPreprocessing.SplitLength, idx.TextPreprocessing.SplitOverlap)
			}
			for ci, c := range chunks {
				units = append(units, embedUnit{docIndex: docIdx, field: field, chunkIdx: ci, input: vectoriser.Input{Modality: vectoriser.ModalityText, Text: c}})
			}
		}
	}
	return units, failed
}

// embedUnits executes every planned unit according to mode, returning
// one embedding per unit in the same order. PerField and PerDocument
// both ultimately call EmbedBatch grouped differently; PerBatch sends
// everything in a single call. All three must be numerically
// equivalent since EmbedBatch guarantees input-order independence
// (§4.4.4).
func embedUnits(ctx context.Context, v vectoriser.Vectoriser, units []embedUnit, mode BatchVectorisationMode) ([][]float32, error) {
	if len(units) == 0 {
		return nil, nil
	}

	switch mode {
	case ModePerBatch, "":
		ins := make([]vectoriser.Input, len(units))
		for i, u := range units {
			ins[i] = u.input
		}
		return embedWithRetry(ctx, v, ins)

	case ModePerDocument:
		groups := map[int][]int{} // docIndex -> unit positions
		var order []int
		for i, u := range units {
			if _, ok := groups[u.docIndex]; !ok {
				order = append(order, u.docIndex)
			}
			groups[u.docIndex] = append(groups[u.docIndex], i)
		}
		out := make([][]float32, len(units))
		for _, docIdx := range order {
			positions := groups[docIdx]
			ins := make([]vectoriser.Input, len(positions))
			for j, pos := range positions {
				ins[j] = units[pos].input
			}
			embs, err := embedWithRetry(ctx, v, ins)
			if err != nil {
				return nil, err
			}
			for j, pos := range positions {
				out[pos] = embs[j]
			}
		}
		return out, nil

	case ModePerField:
		groups := map[string][]int{}
		var order []string
		for i, u := range units {
			key := u.field
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], i)
		}
		out := make([][]float32, len(units))
		for _, key := range order {
			positions := groups[key]
			ins := make([]vectoriser.Input, len(positions))
			for j, pos := range positions {
				ins[j] = units[pos].input
			}
			embs, err := embedWithRetry(ctx, v, ins)
			if err != nil {
				return nil, err
			}
			for j, pos := range positions {
				out[pos] = embs[j]
			}
		}
		return out, nil

	default:
		ins := make([]vectoriser.Input, len(units))
		for i, u := range units {
			ins[i] = u.input
		}
		return embedWithRetry(ctx, v, ins)
	}
}

func embedWithRetry(ctx context.Context, v vectoriser.Vectoriser, ins []vectoriser.Input) ([][]float32, error) {
	const maxRetries = 3
	var err error
	var out [][]float32
	for attempt := 1; attempt <= maxRetries; attempt++ {
		out, err = v.EmbedBatch(ctx, ins)
		if err == nil {
			return out, nil
		}
		if attempt == maxRetries {
			break
		}
	}
	return nil, apperr.Wrap(apperr.KindGeneric, "embedding batch", err)
}

// combineMultimodal computes the weighted sum of one embedding per
// dependent field followed by L2 normalization, generalizing an
// unweighted multi-chunk average to weighted combination across
// distinct sibling fields (§4.4.4).
func combineMultimodal(weights map[string]float64, embeddings map[string][]float32) []float32 {
	var dims int
	for _, e := range embeddings {
		dims = len(e)
		break
	}
	if dims == 0 {
		return nil
	}

	out := make([]float32, dims)
	for field, w := range weights {
		e, ok := embeddings[field]
		if !ok {
			continue
		}
		for i := 0; i < dims && i < len(e); i++ {
			out[i] += float32(w) * e[i]
		}
	}
	return l2Normalize(out)
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// embedDocuments runs media-URL-aware planning, executes the chosen
// batching strategy, folds results back into each document's
// StoredDocument tensor buckets, then resolves multimodal-combination
// fields from their already-embedded dependent siblings (§4.4.4).
func embedDocuments(ctx context.Context, v vectoriser.Vectoriser, kept []*resolvedDoc, mediaResults map[string]mediaResult, idx IndexView, prefixes model.ModelPrefixes, normalize bool, mode BatchVectorisationMode) ([]*embeddedDoc, []ItemResult, error) {
	units, failed := planEmbedUnits(kept, mediaResults, idx, prefixes, v)

	embeddings, err := embedUnits(ctx, v, units, mode)
	if err != nil {
		return nil, nil, err
	}

	fieldEmbeddingsByDoc := make([]map[string][]float32, len(kept))
	for i, u := range units {
		rd := kept[u.docIndex]
		if rd.stored == nil {
			continue
		}
		emb := embeddings[i]
		if normalize {
			emb = l2Normalize(emb)
		}
		if rd.stored.Embeddings[u.field] == nil {
			rd.stored.Embeddings[u.field] = map[int][]float32{}
		}
		rd.stored.Embeddings[u.field][u.chunkIdx] = emb
		rd.stored.Chunks[u.field] = append(rd.stored.Chunks[u.field], u.input.Text)
		rd.stored.FieldTypes[u.field] = model.StoredFieldTensor
		rd.stored.VectorCount++

		if fieldEmbeddingsByDoc[u.docIndex] == nil {
			fieldEmbeddingsByDoc[u.docIndex] = map[string][]float32{}
		}
		if u.chunkIdx == 0 {
			fieldEmbeddingsByDoc[u.docIndex][u.field] = emb
		}
	}

	var out []*embeddedDoc
	for i, rd := range kept {
		if rd.stored == nil {
			continue
		}
		for field, mapping := range rd.multimodal {
			combined := combineMultimodal(mapping.Weights, fieldEmbeddingsByDoc[i])
			if combined == nil {
				continue
			}
			rd.stored.Embeddings[field] = map[int][]float32{0: combined}
			rd.stored.Chunks[field] = []string{field}
			rd.stored.FieldTypes[field] = model.StoredFieldTensor
			rd.stored.MultimodalWeights[field] = mapping.Weights
			rd.stored.VectorCount++
		}
		out = append(out, &embeddedDoc{doc: rd})
	}
	return out, failed, nil
}
