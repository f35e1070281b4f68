package model

// StoredFieldType is the logical type token recorded in a SemiStructured
// stored document's fieldTypes map, used as an optimistic-concurrency
// precondition for partial updates (§3.2, §4.1).
type StoredFieldType string

const (
	StoredFieldBool        StoredFieldType = "bool"
	StoredFieldString      StoredFieldType = "string"
	StoredFieldStringArray StoredFieldType = "string_array"
	StoredFieldIntMap      StoredFieldType = "int_map"
	StoredFieldFloatMap    StoredFieldType = "float_map"
	StoredFieldNumericArray StoredFieldType = "numeric_array" // list<int|long|float|double> (§4.4.2)
	StoredFieldTensor      StoredFieldType = "tensor" // never a valid update precondition target
)

// StoredDocument is the logical shape of a document as held by the
// external store (§3.2). Bucket maps mirror the store's generic
// containers for Unstructured/SemiStructured indexes; Structured indexes
// use the same shape but with one bucket entry per declared field.
type StoredDocument struct {
	ID              string
	CreateTimestamp float64

	ShortStrings  map[string]string
	Bools         map[string]bool
	Ints          map[string]int64
	Floats        map[string]float64
	ScoreModifiers map[string]float64

	// StringArrayFields: one entry per field for SemiStructured indexes at
	// or above PartialUpdateVersionCutoff; FlatStringArray is the legacy
	// "field::value" encoded representation used by older Unstructured
	// indexes (mutually exclusive in practice, both representable here).
	StringArrayFields map[string][]string
	FlatStringArray    []string

	// NumericArrays holds list<int|long|float|double> values (§4.4.2);
	// the store has no per-element numeric type beyond float64, so the
	// declared element type is tracked separately in FieldTypes.
	NumericArrays map[string][]float64

	// FieldTypes is present on SemiStructured indexes at or above
	// PartialUpdateVersionCutoff.
	FieldTypes map[string]StoredFieldType

	// Tensor fields: chunk ids (ordered) and the embeddings tensor block,
	// keyed by tensor field name then chunk ordinal.
	Chunks     map[string][]string
	Embeddings map[string]map[int][]float32

	MultimodalWeights map[string]map[string]float64 // fieldName -> dependentField -> weight

	VectorCount int

	// Internal hybrid-scoring fields, populated only in search responses.
	InternalFusedScore   float64
	InternalLexicalRank  int
	InternalTensorRank   int
}

// NewStoredDocument returns a StoredDocument with all maps initialized.
func NewStoredDocument(id string) *StoredDocument {
	return &StoredDocument{
		ID:                id,
		ShortStrings:      map[string]string{},
		Bools:             map[string]bool{},
		Ints:              map[string]int64{},
		Floats:            map[string]float64{},
		ScoreModifiers:    map[string]float64{},
		StringArrayFields: map[string][]string{},
		NumericArrays:     map[string][]float64{},
		FieldTypes:        map[string]StoredFieldType{},
		Chunks:            map[string][]string{},
		Embeddings:        map[string]map[int][]float32{},
		MultimodalWeights: map[string]map[string]float64{},
	}
}

// FlatArrayEncode renders the "field::value" encoding used by legacy
// Unstructured indexes for a single field's string-array value.
func FlatArrayEncode(field string, values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, field+"::"+v)
	}
	return out
}
