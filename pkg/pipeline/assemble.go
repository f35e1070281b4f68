package pipeline

import "github.com/marqocore/vespacore/pkg/model"

// storedDocumentToWireFields renders a StoredDocument's buckets into
// the flat field map the store's feed endpoint expects (§3.2). Below
// schemaVersionCutoff the per-field fieldTypes map is omitted: older
// SemiStructured schema versions never wrote it, and including it
// would trip a precondition a reader at that version doesn't expect.
func storedDocumentToWireFields(sd *model.StoredDocument, schemaVersion, schemaVersionCutoff int) map[string]any {
	fields := map[string]any{}

	for name, v := range sd.ShortStrings {
		fields[name] = v
	}
	for name, v := range sd.Bools {
		fields[name] = v
	}
	for name, v := range sd.Ints {
		fields[name] = v
	}
	for name, v := range sd.Floats {
		fields[name] = v
	}
	for name, v := range sd.ScoreModifiers {
		fields["score_modifiers."+name] = v
	}
	for name, v := range sd.StringArrayFields {
		fields[name] = v
	}
	if len(sd.FlatStringArray) > 0 {
		fields["marqo__string_array"] = sd.FlatStringArray
	}
	for name, v := range sd.NumericArrays {
		fields[name] = v
	}

	for field, chunks := range sd.Chunks {
		fields[chunkFieldName(field)] = chunks
	}
	for field, byChunk := range sd.Embeddings {
		fields[embeddingFieldName(field)] = flattenEmbeddings(byChunk)
	}

	if schemaVersion >= schemaVersionCutoff && len(sd.FieldTypes) > 0 {
		ft := make(map[string]string, len(sd.FieldTypes))
		for name, t := range sd.FieldTypes {
			ft[name] = string(t)
		}
		fields["fieldTypes"] = ft
	}

	return fields
}

func chunkFieldName(field string) string {
	return model.ReservedPrefix + "chunks_" + field
}

func embeddingFieldName(field string) string {
	return model.ReservedPrefix + "embeddings_" + field
}

// flattenEmbeddings orders a chunk-index-keyed embedding map into a
// tensor block the store's "cells" wire format can carry.
func flattenEmbeddings(byChunk map[int][]float32) [][]float32 {
	max := -1
	for idx := range byChunk {
		if idx > max {
			max = idx
		}
	}
	out := make([][]float32, max+1)
	for idx, vec := range byChunk {
		out[idx] = vec
	}
	return out
}
