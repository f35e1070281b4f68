package pipeline

import (
	"context"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/store"
)

// PartialUpdateDocuments implements §4.4.6: each input document is
// resolved against its currently-stored counterpart, per-field values
// are routed to the store's composite-update shape, and the whole
// batch is written with a single call per document carrying an
// optimistic-concurrency precondition built from the existing
// document's fieldTypes and createTimestamp.
func (p *Pipeline) PartialUpdateDocuments(ctx context.Context, idx IndexView, docs []map[string]any) (BatchResult, error) {
	if len(docs) == 0 {
		return BatchResult{}, apperr.New(apperr.KindInvalidArgument, "docs must not be empty")
	}

	byID := map[string]int{}
	var ordered []map[string]any
	var failed []ItemResult
	for _, doc := range docs {
		id, ok := doc["_id"].(string)
		if !ok || id == "" {
			failed = append(failed, ItemResult{Status: apperr.KindInvalidArgument.HTTPStatus(), Message: "_id is required for partial update"})
			continue
		}
		if existing, seen := byID[id]; seen {
			ordered[existing] = doc
		} else {
			byID[id] = len(ordered)
			ordered = append(ordered, doc)
		}
	}
	if len(ordered) == 0 {
		return mergeUpdateResults(failed, store.BatchResult{}), nil
	}

	ids := make([]string, len(ordered))
	for i, doc := range ordered {
		ids[i] = doc["_id"].(string)
	}
	existingBatch, err := p.store.GetBatch(ctx, idx.SchemaName, ids, nil, p.feedConcurrency, p.feedTimeout)
	if err != nil {
		return BatchResult{}, err
	}
	existingByID := make(map[string]store.Outcome, len(existingBatch.Items))
	for _, o := range existingBatch.Items {
		existingByID[o.ID] = o
	}

	items := make([]store.UpdateItem, 0, len(ordered))
	for _, doc := range ordered {
		id := doc["_id"].(string)
		existing, found := existingByID[id]
		if !found || !existing.OK() {
			failed = append(failed, ItemResult{ID: id, Status: 404, Message: "document not found"})
			continue
		}

		patch, pre, err := buildUpdatePatch(idx, id, doc, existing.Doc)
		if err != nil {
			failed = append(failed, itemResultForError(id, err))
			continue
		}
		items = append(items, store.UpdateItem{ID: id, Fields: patch, Precondition: pre})
	}

	var feedResult store.BatchResult
	if len(items) > 0 {
		feedResult, err = p.store.UpdateDocumentsBatch(ctx, idx.SchemaName, items, p.feedConcurrency, p.feedTimeout)
		if err != nil {
			return BatchResult{}, err
		}
	}
	return mergeUpdateResults(failed, feedResult), nil
}

func mergeUpdateResults(failed []ItemResult, feedResult store.BatchResult) BatchResult {
	items := make([]ItemResult, 0, len(failed)+len(feedResult.Items))
	summary := BatchSummary{ErrorsByKind: map[string]int{}}
	items = append(items, failed...)
	for _, o := range feedResult.Items {
		items = append(items, ItemResult{ID: o.ID, Status: o.Status, Message: o.Message})
	}
	errs := false
	for _, it := range items {
		summary.Processed++
		if it.OK() {
			summary.Succeeded++
		} else {
			summary.Failed++
			errs = true
			summary.ErrorsByKind[statusKind(it.Status)]++
		}
	}
	return BatchResult{Errors: errs, Items: items, Summary: summary}
}

// buildUpdatePatch routes every field of a partial-update document to
// the store's composite-update wire shape, and derives the
// optimistic-concurrency precondition from the existing document's
// recorded fieldTypes and createTimestamp (§4.4.6).
func buildUpdatePatch(idx IndexView, id string, doc map[string]any, existing map[string]any) (map[string]any, store.UpdatePrecondition, error) {
	patch := map[string]any{}
	pre := store.UpdatePrecondition{FieldTypes: map[string]string{}}

	if ts, ok := existing["createTimestamp"].(float64); ok {
		pre.CreateTimestamp = &ts
	}
	existingFieldTypes, _ := existing["fieldTypes"].(map[string]any)

	for name, raw := range doc {
		if name == "_id" {
			continue
		}
		if err := model.ValidateFieldName(name); err != nil {
			return nil, store.UpdatePrecondition{}, err
		}

		declared, isStructuredField := idx.StructuredFields[name]

		switch v := raw.(type) {
		case bool:
			patch[name] = map[string]any{"assign": v}
			pre.FieldTypes[name] = string(model.StoredFieldBool)

		case string:
			if isStructuredField {
				if declared.Type != model.FieldTypeText || !declared.HasFeature(model.FeatureLexicalSearch) {
					return nil, store.UpdatePrecondition{}, apperr.Newf(apperr.KindInvalidArgument, "field %q is not an updatable lexical field", name)
				}
			} else if ft, ok := existingFieldTypes[name]; ok && ft != string(model.StoredFieldString) {
				return nil, store.UpdatePrecondition{}, apperr.Newf(apperr.KindInvalidArgument, "field %q is not a declared lexical string field", name)
			}
			patch[name] = map[string]any{"assign": v}
			pre.FieldTypes[name] = string(model.StoredFieldString)

		case float64:
			patch[name] = map[string]any{"assign": v}
			pre.FieldTypes[name] = string(model.StoredFieldFloatMap)
			if isStructuredField && declared.HasFeature(model.FeatureScoreModifier) {
				patch["score_modifiers."+name] = map[string]any{"assign": v}
			}

		case []any:
			strs, ok := stringSlice(v)
			if !ok {
				return nil, store.UpdatePrecondition{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: array updates must be homogeneous string arrays", name)
			}
			if isStructuredField && declared.Type != model.FieldTypeArrayText {
				return nil, store.UpdatePrecondition{}, apperr.Newf(apperr.KindInvalidArgument, "field %q is not a declared string array field", name)
			}
			patch[name] = map[string]any{"assign": strs}
			pre.FieldTypes[name] = string(model.StoredFieldStringArray)

		case map[string]any:
			if isMultimodalOrTensorMapping(idx, name, isStructuredField, declared) {
				return nil, store.UpdatePrecondition{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: tensor, multimodal, and custom_vector fields cannot be partially updated", name)
			}
			if err := applyMapUpdate(patch, name, v, existing); err != nil {
				return nil, store.UpdatePrecondition{}, err
			}
			pre.FieldTypes[name] = string(model.StoredFieldFloatMap)

		case nil:
			return nil, store.UpdatePrecondition{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: null values are not a valid update", name)

		default:
			return nil, store.UpdatePrecondition{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: unsupported update value type %T", name, raw)
		}
	}
	return patch, pre, nil
}

func isMultimodalOrTensorMapping(idx IndexView, name string, isStructuredField bool, declared model.Field) bool {
	if idx.TensorFields[name] {
		return true
	}
	if isStructuredField {
		return declared.Type == model.FieldTypeMultimodalCombination || declared.Type == model.FieldTypeCustomVector
	}
	return false
}

func stringSlice(v []any) ([]string, bool) {
	out := make([]string, len(v))
	for i, e := range v {
		if _, isList := e.([]any); isList {
			return nil, false
		}
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// applyMapUpdate flattens a map<string,int|float> update into one
// "<field>.<key>" composite-assign entry per surviving key, and drops
// the score_modifiers cell for every key present in the existing
// stored map but absent from the update (§4.4.6's score-modifier
// maintenance rule: only map-entry removal clears a cell, a standalone
// numeric field's removal never does).
func applyMapUpdate(patch map[string]any, name string, update map[string]any, existing map[string]any) error {
	for k, raw := range update {
		f, ok := raw.(float64)
		if !ok {
			return apperr.Newf(apperr.KindInvalidArgument, "field %q: map entry %q must be numeric", name, k)
		}
		patch[name+"."+k] = map[string]any{"assign": f}
		patch["score_modifiers."+name+"."+k] = map[string]any{"assign": f}
	}

	existingMap, _ := existing[name].(map[string]any)
	for k := range existingMap {
		if _, stillPresent := update[k]; !stillPresent {
			patch[name+"."+k] = map[string]any{"remove": nil}
			patch["score_modifiers."+name+"."+k] = map[string]any{"remove": nil}
		}
	}
	return nil
}
