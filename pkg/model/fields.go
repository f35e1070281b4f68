package model

// FieldType is the declared type of a field on a Structured index, or the
// inferred type tag recorded for a discovered field on Unstructured /
// SemiStructured indexes.
type FieldType string

const (
	FieldTypeText                FieldType = "Text"
	FieldTypeBool                FieldType = "Bool"
	FieldTypeInt                 FieldType = "Int"
	FieldTypeLong                FieldType = "Long"
	FieldTypeFloat               FieldType = "Float"
	FieldTypeDouble              FieldType = "Double"
	FieldTypeArrayText           FieldType = "ArrayText"
	FieldTypeArrayInt            FieldType = "ArrayInt"
	FieldTypeArrayLong           FieldType = "ArrayLong"
	FieldTypeArrayFloat          FieldType = "ArrayFloat"
	FieldTypeArrayDouble         FieldType = "ArrayDouble"
	FieldTypeImagePointer        FieldType = "ImagePointer"
	FieldTypeVideoPointer        FieldType = "VideoPointer"
	FieldTypeAudioPointer        FieldType = "AudioPointer"
	FieldTypeMultimodalCombination FieldType = "MultimodalCombination"
	FieldTypeCustomVector        FieldType = "CustomVector"
)

// Feature is a per-field capability flag (§3.1).
type Feature string

const (
	FeatureLexicalSearch Feature = "LexicalSearch"
	FeatureScoreModifier Feature = "ScoreModifier"
	FeatureFilter        Feature = "Filter"
)

// Field is a declared field of a Structured index.
type Field struct {
	Name            string
	Type            FieldType
	Features        []Feature
	DependentFields map[string]float64 // only for MultimodalCombination

	// derived, computed by DerivedNames once the field is attached to an index
	LexicalFieldName string
	FilterFieldName  string
}

func (f Field) HasFeature(feat Feature) bool {
	for _, x := range f.Features {
		if x == feat {
			return true
		}
	}
	return false
}

// DerivedNames computes LexicalFieldName / FilterFieldName in place.
func (f *Field) DerivedNames() {
	if f.HasFeature(FeatureLexicalSearch) {
		f.LexicalFieldName = ReservedPrefix + "lexical_" + f.Name
	}
	if f.HasFeature(FeatureFilter) {
		f.FilterFieldName = ReservedPrefix + "filter_" + f.Name
	}
}

// TensorField is a field whose content is embedded into chunk vectors (§3.1).
type TensorField struct {
	Name string

	// derived
	ChunkFieldName     string
	EmbeddingFieldName string
}

// DerivedNames computes ChunkFieldName / EmbeddingFieldName in place.
func (t *TensorField) DerivedNames() {
	t.ChunkFieldName = ReservedPrefix + "chunks_" + t.Name
	t.EmbeddingFieldName = ReservedPrefix + "embeddings_" + t.Name
}

// isNumericType reports whether a FieldType can carry a ScoreModifier feature.
func isNumericType(t FieldType) bool {
	switch t {
	case FieldTypeInt, FieldTypeLong, FieldTypeFloat, FieldTypeDouble:
		return true
	}
	return false
}

// ValidateField checks the per-field invariants of §3.1 against a field
// considered in isolation (name validity, feature/type compatibility,
// multimodal-combination constraints). It does not check cross-field
// references (tensor field -> declared field); callers validating a whole
// Structured/SemiStructured index must additionally call ValidateTensorFieldRefs.
func ValidateField(f Field) error {
	if err := validateFieldName(f.Name); err != nil {
		return err
	}
	for _, feat := range f.Features {
		switch feat {
		case FeatureLexicalSearch:
			if f.Type != FieldTypeText && f.Type != FieldTypeArrayText && f.Type != FieldTypeCustomVector {
				return invalidArg("field %q: LexicalSearch is only valid on Text/ArrayText/CustomVector, got %s", f.Name, f.Type)
			}
		case FeatureScoreModifier:
			if !isNumericType(f.Type) {
				return invalidArg("field %q: ScoreModifier is only valid on numeric types, got %s", f.Name, f.Type)
			}
		case FeatureFilter:
			// any declared type may be filter-eligible
		default:
			return invalidArg("field %q: unknown feature %q", f.Name, feat)
		}
	}
	if f.Type == FieldTypeMultimodalCombination {
		if len(f.DependentFields) == 0 {
			return invalidArg("field %q: MultimodalCombination requires non-empty dependentFields", f.Name)
		}
		if len(f.Features) != 0 {
			return invalidArg("field %q: MultimodalCombination forbids feature flags", f.Name)
		}
	} else if len(f.DependentFields) != 0 {
		return invalidArg("field %q: dependentFields is only valid on MultimodalCombination", f.Name)
	}
	return nil
}

// ValidateFieldName checks the name-level invariants shared by declared
// Structured fields and fields discovered at ingest time on Unstructured/
// SemiStructured indexes (reserved prefix, protected ids, character set).
func ValidateFieldName(name string) error {
	return validateFieldName(name)
}

func validateFieldName(name string) error {
	if name == "" {
		return invalidArg("field name must not be empty")
	}
	if len(name) >= len(ReservedPrefix) && name[:len(ReservedPrefix)] == ReservedPrefix {
		return invalidArg("field name %q must not start with reserved prefix %q", name, ReservedPrefix)
	}
	if ProtectedFieldIDs[name] {
		return invalidArg("field name %q collides with a protected id", name)
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return invalidArg("field name %q contains invalid character %q", name, string(r))
		}
	}
	return nil
}

// ValidateTensorFieldRefs checks that every tensor field of a Structured
// index references a declared field (§3.1 invariant).
func ValidateTensorFieldRefs(fields []Field, tensorFields []TensorField) error {
	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Name] = true
	}
	for _, tf := range tensorFields {
		if !declared[tf.Name] {
			return invalidArg("tensor field %q does not reference a declared field", tf.Name)
		}
	}
	return nil
}

func (t FieldType) String() string { return string(t) }
