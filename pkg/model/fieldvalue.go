package model

import "math"

// FieldValueKind tags the dynamic shape of an input document field (§9
// "Dynamic typing in source").
type FieldValueKind string

const (
	FVText        FieldValueKind = "text"
	FVBool        FieldValueKind = "bool"
	FVInt         FieldValueKind = "int"
	FVLong        FieldValueKind = "long"
	FVFloat       FieldValueKind = "float"
	FVDouble      FieldValueKind = "double"
	FVArrayText   FieldValueKind = "array_text"
	FVArrayInt    FieldValueKind = "array_int"
	FVArrayLong   FieldValueKind = "array_long"
	FVArrayFloat  FieldValueKind = "array_float"
	FVArrayDouble FieldValueKind = "array_double"
	FVMapNumeric  FieldValueKind = "map_numeric"
	FVCustomVector FieldValueKind = "custom_vector"
	FVMedia        FieldValueKind = "media"
	FVMultimodalCombination FieldValueKind = "multimodal_combination"
)

// FieldValue is a tagged union over everything a caller may put in a
// document field. Validation resolves raw `any` input into a FieldValue,
// or produces a per-document error (§9).
type FieldValue struct {
	Kind FieldValueKind

	Text    string
	Bool    bool
	Int     int32
	Long    int64
	Float   float32
	Double  float64

	ArrayText   []string
	ArrayInt    []int32
	ArrayLong   []int64
	ArrayFloat  []float32
	ArrayDouble []float64

	MapNumeric map[string]float64

	CustomVectorContent string
	CustomVectorVector  []float32

	MediaURL string

	MultimodalWeights map[string]float64
}

// FitsInt32 / FitsInt64 / FitsFloat32 enforce the numeric bounds of §4.4.2.

func FitsInt32(v float64) bool {
	return v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32
}

func FitsInt64(v float64) bool {
	return v == math.Trunc(v) && v >= math.MinInt64 && v <= math.MaxInt64
}

func FitsFloat32(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= -math.MaxFloat32 && v <= math.MaxFloat32
}
