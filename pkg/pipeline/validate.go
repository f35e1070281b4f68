package pipeline

import (
	"fmt"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/model"
)

// BatchVectorisationMode selects how tensor-field content is grouped
// before being sent to the Vectoriser (§4.4.4).
type BatchVectorisationMode string

const (
	ModePerField    BatchVectorisationMode = "PerField"
	ModePerDocument BatchVectorisationMode = "PerDocument"
	ModePerBatch    BatchVectorisationMode = "PerBatch"
)

// FieldMappingType tags a mappings-declared dict field on an
// Unstructured/SemiStructured index (§4.4.2).
type FieldMappingType string

const (
	MappingMultimodalCombination FieldMappingType = "multimodal_combination"
	MappingCustomVector          FieldMappingType = "custom_vector"
)

// FieldMapping is one entry of the caller-supplied mappings object.
type FieldMapping struct {
	Type    FieldMappingType
	Weights map[string]float64 // dependentFields, MultimodalCombination only
}

// AddDocsRequest is the input contract of §4.4.1.
type AddDocsRequest struct {
	Docs                    []map[string]any
	Mappings                map[string]FieldMapping
	MediaDownloadHeaders    map[string]string
	Device                  string
	UseExistingTensors      bool
	Mode                    BatchVectorisationMode
	TextChunkPrefixOverride *string
}

// ItemResult is the outcome of processing a single input document.
type ItemResult struct {
	ID      string
	Status  int
	Message string
}

func (r ItemResult) OK() bool { return r.Status == 200 }

// BatchSummary tallies outcomes by error kind. Carried alongside
// BatchResult even though metrics shipping is out of scope, mirroring
// the original pipeline's per-batch telemetry summary (§9).
type BatchSummary struct {
	Processed    int
	Succeeded    int
	Failed       int
	ErrorsByKind map[string]int
}

// BatchResult is the aggregate result of AddDocuments/PartialUpdateDocuments.
type BatchResult struct {
	Errors  bool
	Items   []ItemResult
	Summary BatchSummary
}

// resolvedDoc is one input document that has passed per-document
// validation (§4.4.2) and is ready for media acquisition and
// embedding. Plain scalar/array values are already bucketed into the
// stored-document shape; tensor-eligible string values are held
// separately pending modality resolution.
type resolvedDoc struct {
	id            string
	originalIndex int

	stored *model.StoredDocument

	// tensorCandidates holds, for every field eligible for embedding,
	// the raw string value pending modality resolution.
	tensorCandidates map[string]string

	// multimodal holds MultimodalCombination fields: no raw content of
	// their own, only the dependent-field weights to combine.
	multimodal map[string]FieldMapping
}

// ValidationContext carries everything validateBatch needs to know
// about the target index to classify and bucket one batch (§4.4.2).
type ValidationContext struct {
	IndexType        model.IndexType
	StructuredFields map[string]model.Field // keyed by name; nil unless Structured
	TensorFields     map[string]bool
	Mappings         map[string]FieldMapping
	MaxDocBytes      int64
}

// validateBatch validates every document independently, collapses
// duplicate _ids to the last occurrence, and returns the documents
// that passed alongside the ItemResults for the ones that didn't
// (§4.4.2).
func validateBatch(vc ValidationContext, docs []map[string]any) ([]*resolvedDoc, []ItemResult) {
	byID := make(map[string]int)
	var kept []*resolvedDoc
	var failed []ItemResult

	for i, doc := range docs {
		id, rd, err := validateOne(vc, doc, i)
		if err != nil {
			failed = append(failed, itemResultForError(id, err))
			continue
		}
		if existing, ok := byID[rd.id]; ok {
			kept[existing] = rd
		} else {
			byID[rd.id] = len(kept)
			kept = append(kept, rd)
		}
	}
	return kept, failed
}

func itemResultForError(id string, err error) ItemResult {
	return ItemResult{ID: id, Status: apperr.KindOf(err).HTTPStatus(), Message: err.Error()}
}

func validateOne(vc ValidationContext, doc map[string]any, idx int) (string, *resolvedDoc, error) {
	id, err := resolveID(doc, idx)
	if err != nil {
		return id, nil, err
	}

	rd := &resolvedDoc{
		id:               id,
		originalIndex:    idx,
		stored:           model.NewStoredDocument(id),
		tensorCandidates: map[string]string{},
		multimodal:       map[string]FieldMapping{},
	}

	approxSize := len(id)
	for name, raw := range doc {
		if name == "_id" {
			continue
		}
		if err := model.ValidateFieldName(name); err != nil {
			return id, nil, err
		}
		approxSize += len(name) + estimateValueSize(raw)

		mapping, hasMapping := vc.Mappings[name]
		declared, isStructuredField := vc.StructuredFields[name]

		if vc.IndexType == model.IndexTypeStructured && !isStructuredField {
			return id, nil, apperr.Newf(apperr.KindInvalidArgument, "field %q is not declared on this index", name)
		}

		switch {
		case hasMapping && mapping.Type == MappingMultimodalCombination:
			rd.multimodal[name] = mapping
		case hasMapping && mapping.Type == MappingCustomVector:
			if err := bucketCustomVector(rd, name, raw); err != nil {
				return id, nil, err
			}
		case isStructuredField && declared.Type == model.FieldTypeMultimodalCombination:
			rd.multimodal[name] = FieldMapping{Type: MappingMultimodalCombination, Weights: declared.DependentFields}
		case isStructuredField && declared.Type == model.FieldTypeCustomVector:
			if err := bucketCustomVector(rd, name, raw); err != nil {
				return id, nil, err
			}
		case vc.TensorFields[name]:
			s, ok := raw.(string)
			if !ok {
				return id, nil, apperr.Newf(apperr.KindInvalidArgument, "field %q is a tensor field and must be a string", name)
			}
			rd.tensorCandidates[name] = s
		default:
			var declaredPtr *model.Field
			if isStructuredField {
				declaredPtr = &declared
			}
			fv, err := classifyValue(name, raw, declaredPtr)
			if err != nil {
				return id, nil, err
			}
			scoreModifier := isStructuredField && declared.HasFeature(model.FeatureScoreModifier)
			bucketFieldValue(rd.stored, name, fv, scoreModifier)
		}
	}

	if vc.MaxDocBytes > 0 && int64(approxSize) > vc.MaxDocBytes {
		return id, nil, apperr.Newf(apperr.KindDocTooLarge, "document %q: serialized size exceeds maximum of %d bytes", id, vc.MaxDocBytes)
	}
	return id, rd, nil
}

func resolveID(doc map[string]any, idx int) (string, error) {
	raw, present := doc["_id"]
	if !present {
		return fmt.Sprintf("auto-%d", idx), nil
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return fmt.Sprintf("auto-%d", idx), apperr.New(apperr.KindInvalidArgument, "_id must be a non-empty string")
	}
	if len(s) > 512 {
		return s, apperr.Newf(apperr.KindInvalidArgument, "_id %q exceeds maximum length", s)
	}
	if model.ProtectedFieldIDs[s] {
		return s, apperr.Newf(apperr.KindInvalidArgument, "_id %q collides with a protected id", s)
	}
	return s, nil
}

func estimateValueSize(raw any) int {
	switch v := raw.(type) {
	case string:
		return len(v)
	case []any:
		n := 0
		for _, e := range v {
			n += estimateValueSize(e)
		}
		return n
	default:
		return 8
	}
}

func bucketCustomVector(rd *resolvedDoc, name string, raw any) error {
	m, ok := raw.(map[string]any)
	if !ok {
		return apperr.Newf(apperr.KindInvalidArgument, "field %q: custom_vector value must be an object with content/vector", name)
	}
	content, _ := m["content"].(string)
	rawVec, ok := m["vector"].([]any)
	if !ok {
		return apperr.Newf(apperr.KindInvalidArgument, "field %q: custom_vector requires a numeric vector", name)
	}
	vec := make([]float32, len(rawVec))
	for i, e := range rawVec {
		f, ok := e.(float64)
		if !ok {
			return apperr.Newf(apperr.KindInvalidArgument, "field %q: custom_vector elements must be numeric", name)
		}
		vec[i] = float32(f)
	}
	rd.stored.ShortStrings[name] = content
	if rd.stored.Embeddings[name] == nil {
		rd.stored.Embeddings[name] = map[int][]float32{}
	}
	rd.stored.Embeddings[name][0] = vec
	rd.stored.Chunks[name] = []string{content}
	rd.stored.FieldTypes[name] = model.StoredFieldString
	return nil
}

func classifyValue(name string, raw any, declared *model.Field) (model.FieldValue, error) {
	switch v := raw.(type) {
	case bool:
		if declared != nil && declared.Type != model.FieldTypeBool {
			return model.FieldValue{}, typeMismatch(name, declared.Type, "Bool")
		}
		return model.FieldValue{Kind: model.FVBool, Bool: v}, nil
	case string:
		if declared != nil {
			switch declared.Type {
			case model.FieldTypeText, model.FieldTypeImagePointer, model.FieldTypeVideoPointer, model.FieldTypeAudioPointer:
			default:
				return model.FieldValue{}, typeMismatch(name, declared.Type, "Text")
			}
		}
		return model.FieldValue{Kind: model.FVText, Text: v}, nil
	case float64:
		return classifyNumber(name, v, declared)
	case []any:
		return classifyArray(name, v, declared)
	default:
		return model.FieldValue{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: unsupported value type %T", name, raw)
	}
}

func classifyNumber(name string, v float64, declared *model.Field) (model.FieldValue, error) {
	if declared != nil {
		switch declared.Type {
		case model.FieldTypeInt:
			if !model.FitsInt32(v) {
				return model.FieldValue{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: value %v does not fit in a 32-bit signed integer", name, v)
			}
			return model.FieldValue{Kind: model.FVInt, Int: int32(v)}, nil
		case model.FieldTypeLong:
			if !model.FitsInt64(v) {
				return model.FieldValue{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: value %v does not fit in a 64-bit signed integer", name, v)
			}
			return model.FieldValue{Kind: model.FVLong, Long: int64(v)}, nil
		case model.FieldTypeFloat:
			if !model.FitsFloat32(v) {
				return model.FieldValue{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: value %v is out of range for a 32-bit float", name, v)
			}
			return model.FieldValue{Kind: model.FVFloat, Float: float32(v)}, nil
		case model.FieldTypeDouble:
			return model.FieldValue{Kind: model.FVDouble, Double: v}, nil
		default:
			return model.FieldValue{}, typeMismatch(name, declared.Type, "a numeric type")
		}
	}
	// Unstructured/SemiStructured: bucket by shape, not a declared type.
	if v == float64(int32(v)) && model.FitsInt32(v) {
		return model.FieldValue{Kind: model.FVInt, Int: int32(v)}, nil
	}
	return model.FieldValue{Kind: model.FVDouble, Double: v}, nil
}

func classifyArray(name string, arr []any, declared *model.Field) (model.FieldValue, error) {
	if len(arr) == 0 {
		return model.FieldValue{Kind: model.FVArrayText}, nil
	}
	switch arr[0].(type) {
	case string:
		out := make([]string, len(arr))
		for i, e := range arr {
			s, ok := e.(string)
			if !ok {
				return model.FieldValue{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: array elements must share a single primitive type", name)
			}
			out[i] = s
		}
		if declared != nil && declared.Type != model.FieldTypeArrayText {
			return model.FieldValue{}, typeMismatch(name, declared.Type, "ArrayText")
		}
		return model.FieldValue{Kind: model.FVArrayText, ArrayText: out}, nil
	case float64:
		out := make([]float64, len(arr))
		for i, e := range arr {
			f, ok := e.(float64)
			if !ok {
				return model.FieldValue{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: array elements must share a single primitive type", name)
			}
			out[i] = f
		}
		return classifyNumericArray(name, out, declared)
	default:
		return model.FieldValue{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: unsupported array element type", name)
	}
}

func classifyNumericArray(name string, out []float64, declared *model.Field) (model.FieldValue, error) {
	if declared == nil {
		return model.FieldValue{Kind: model.FVArrayDouble, ArrayDouble: out}, nil
	}
	switch declared.Type {
	case model.FieldTypeArrayInt:
		ints := make([]int32, len(out))
		for i, v := range out {
			if !model.FitsInt32(v) {
				return model.FieldValue{}, apperr.Newf(apperr.KindInvalidArgument, "field %q: value %v does not fit in a 32-bit signed integer", name, v)
			}
			ints[i] = int32(v)
		}
		return model.FieldValue{Kind: model.FVArrayInt, ArrayInt: ints}, nil
	case model.FieldTypeArrayLong:
		longs := make([]int64, len(out))
		for i, v := range out {
			longs[i] = int64(v)
		}
		return model.FieldValue{Kind: model.FVArrayLong, ArrayLong: longs}, nil
	case model.FieldTypeArrayFloat:
		floats := make([]float32, len(out))
		for i, v := range out {
			floats[i] = float32(v)
		}
		return model.FieldValue{Kind: model.FVArrayFloat, ArrayFloat: floats}, nil
	case model.FieldTypeArrayDouble:
		return model.FieldValue{Kind: model.FVArrayDouble, ArrayDouble: out}, nil
	default:
		return model.FieldValue{}, typeMismatch(name, declared.Type, "an array type")
	}
}

func typeMismatch(name string, declared model.FieldType, got string) error {
	return apperr.Newf(apperr.KindInvalidArgument, "field %q: declared type %s does not accept a %s value", name, declared, got)
}

// bucketFieldValue places a classified value into the appropriate
// StoredDocument bucket, additionally mirroring numeric values into
// ScoreModifiers when the declaring field carries the ScoreModifier
// feature (§3.1, §4.4.2).
func bucketFieldValue(stored *model.StoredDocument, name string, fv model.FieldValue, scoreModifier bool) {
	switch fv.Kind {
	case model.FVBool:
		stored.Bools[name] = fv.Bool
		stored.FieldTypes[name] = model.StoredFieldBool
	case model.FVText:
		stored.ShortStrings[name] = fv.Text
		stored.FieldTypes[name] = model.StoredFieldString
	case model.FVInt:
		stored.Ints[name] = int64(fv.Int)
		stored.FieldTypes[name] = model.StoredFieldIntMap
		if scoreModifier {
			stored.ScoreModifiers[name] = float64(fv.Int)
		}
	case model.FVLong:
		stored.Ints[name] = fv.Long
		stored.FieldTypes[name] = model.StoredFieldIntMap
		if scoreModifier {
			stored.ScoreModifiers[name] = float64(fv.Long)
		}
	case model.FVFloat:
		stored.Floats[name] = float64(fv.Float)
		stored.FieldTypes[name] = model.StoredFieldFloatMap
		if scoreModifier {
			stored.ScoreModifiers[name] = float64(fv.Float)
		}
	case model.FVDouble:
		stored.Floats[name] = fv.Double
		stored.FieldTypes[name] = model.StoredFieldFloatMap
		if scoreModifier {
			stored.ScoreModifiers[name] = fv.Double
		}
	case model.FVArrayText:
		stored.StringArrayFields[name] = fv.ArrayText
		stored.FieldTypes[name] = model.StoredFieldStringArray
	case model.FVArrayInt:
		out := make([]float64, len(fv.ArrayInt))
		for i, v := range fv.ArrayInt {
			out[i] = float64(v)
		}
		stored.NumericArrays[name] = out
		stored.FieldTypes[name] = model.StoredFieldNumericArray
	case model.FVArrayLong:
		out := make([]float64, len(fv.ArrayLong))
		for i, v := range fv.ArrayLong {
			out[i] = float64(v)
		}
		stored.NumericArrays[name] = out
		stored.FieldTypes[name] = model.StoredFieldNumericArray
	case model.FVArrayFloat:
		out := make([]float64, len(fv.ArrayFloat))
		for i, v := range fv.ArrayFloat {
			out[i] = float64(v)
		}
		stored.NumericArrays[name] = out
		stored.FieldTypes[name] = model.StoredFieldNumericArray
	case model.FVArrayDouble:
		stored.NumericArrays[name] = fv.ArrayDouble
		stored.FieldTypes[name] = model.StoredFieldNumericArray
	}
}

// discoverNewFields reports fields observed in kept documents that are
// not yet part of idx's declared set, for the caller to deploy via the
// Index Manager before (or instead of) this batch (§4.3's evolution
// trigger).
func discoverNewFields(kept []*resolvedDoc, idx IndexView) DiscoveredFields {
	declared := map[string]bool{}
	for name := range idx.TensorFields {
		declared[name] = true
	}
	lexicalDeclared := idx.DeclaredLexicalFields
	arrayDeclared := idx.DeclaredStringArrayFields

	var out DiscoveredFields
	seenLexical := map[string]bool{}
	seenArray := map[string]bool{}
	seenTensor := map[string]bool{}

	for _, rd := range kept {
		for name := range rd.stored.ShortStrings {
			if !lexicalDeclared[name] && !seenLexical[name] {
				seenLexical[name] = true
				out.Lexical = append(out.Lexical, name)
			}
		}
		for name := range rd.stored.StringArrayFields {
			if !arrayDeclared[name] && !seenArray[name] {
				seenArray[name] = true
				out.StringArray = append(out.StringArray, name)
			}
		}
		for name := range rd.tensorCandidates {
			if !declared[name] && !seenTensor[name] {
				seenTensor[name] = true
				tf := model.TensorField{Name: name}
				tf.DerivedNames()
				out.Tensor = append(out.Tensor, tf)
			}
		}
	}
	return out
}
