// Package model defines the data model of the indexing and search
// coordination core: index definitions, field types, stored-document
// shape, queries, and filter expressions (spec §3).
//
// Cyclic references are avoided throughout: indexes hold field
// definitions by value, and tensor fields reference other fields by
// name rather than by pointer.
package model

import (
	"regexp"
	"time"
)

// ReservedPrefix is the prefix no user-visible field or index name may start with.
const ReservedPrefix = "marqo__"

var (
	indexNamePattern  = regexp.MustCompile(`^[A-Za-z_-][A-Za-z0-9_-]*$`)
	schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ProtectedFieldIDs are reserved document keys that user field names may not collide with.
var ProtectedFieldIDs = map[string]bool{
	"_id":             true,
	"_tensor_facets":  true,
	"_highlights":     true,
	"_score":          true,
	"_found":          true,
}

// IndexType distinguishes the three index variants of §3.1.
type IndexType string

const (
	IndexTypeStructured     IndexType = "Structured"
	IndexTypeUnstructured   IndexType = "Unstructured"
	IndexTypeSemiStructured IndexType = "SemiStructured"
)

// DistanceMetric is the vector similarity metric used by the tensor index.
type DistanceMetric string

const (
	DistanceMetricAngular  DistanceMetric = "angular"
	DistanceMetricEuclidean DistanceMetric = "euclidean"
	DistanceMetricDotProduct DistanceMetric = "dotproduct"
	DistanceMetricPrenormalizedAngular DistanceMetric = "prenormalized-angular"
)

// VectorNumericType is the on-disk numeric type of stored embedding tensors.
type VectorNumericType string

const (
	VectorNumericFloat32 VectorNumericType = "float32"
	VectorNumericBFloat16 VectorNumericType = "bfloat16"
)

// HNSWConfig holds the approximate-nearest-neighbour index construction parameters.
//
// Invariant: EfConstruction > 0 and M > 0; checked by Index.Validate before
// any deploy (not deferred to the store), per original_source's Pydantic-level validators.
type HNSWConfig struct {
	EfConstruction int
	M              int
}

func (h HNSWConfig) Validate() error {
	if h.EfConstruction <= 0 {
		return invalidArg("hnswConfig.efConstruction must be > 0")
	}
	if h.M <= 0 {
		return invalidArg("hnswConfig.m must be > 0")
	}
	return nil
}

// ModelConfig names the embedding model a Vectoriser must load for this index.
type ModelConfig struct {
	Name             string
	CustomProperties map[string]any // only meaningful for custom/open_clip-style models
	Prefixes         ModelPrefixes
}

// ModelPrefixes are prepended to text before embedding (spec §4.4.4).
type ModelPrefixes struct {
	TextChunkPrefix string
	TextQueryPrefix string
}

// MediaPreprocessing configures optional decode-time preprocessing for a modality.
type MediaPreprocessing struct {
	Method string // e.g. "simple", "chunking"; empty = no preprocessing
}

// TextPreprocessing configures chunking of text fields before embedding.
type TextPreprocessing struct {
	SplitMethod  string
	SplitLength  int
	SplitOverlap int
}

// Index is the common header shared by all three index variants (§3.1).
//
// Structured, Unstructured, and SemiStructured embed Index and add their
// own variant-specific fields; Index itself never appears bare.
type Index struct {
	Name       string
	SchemaName string
	Type       IndexType

	Model               ModelConfig
	NormalizeEmbeddings bool

	TextPreprocessing  TextPreprocessing
	ImagePreprocessing MediaPreprocessing
	VideoPreprocessing MediaPreprocessing
	AudioPreprocessing MediaPreprocessing

	DistanceMetric    DistanceMetric
	VectorNumericType VectorNumericType
	HNSW              HNSWConfig

	MarqoVersion string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int

	// PartialUpdateVersionCutoff is the schema-version floor below which
	// fieldTypes preconditions are not written by the Store Client
	// (supplemented from original_source's SemiStructuredVespaIndex).
	PartialUpdateVersionCutoff int
}

// Validate checks the invariants common to every index variant.
func (idx *Index) Validate() error {
	if !indexNamePattern.MatchString(idx.Name) {
		return invalidArg("index name %q must match [A-Za-z_-][A-Za-z0-9_-]*", idx.Name)
	}
	if len(idx.Name) >= len(ReservedPrefix) && idx.Name[:len(ReservedPrefix)] == ReservedPrefix {
		return invalidArg("index name %q must not start with reserved prefix %q", idx.Name, ReservedPrefix)
	}
	if !schemaNamePattern.MatchString(idx.SchemaName) {
		return invalidArg("schema name %q must match [A-Za-z_][A-Za-z0-9_]*", idx.SchemaName)
	}
	if err := idx.HNSW.Validate(); err != nil {
		return err
	}
	return nil
}

// StructuredIndex is an Index with a closed set of declared fields.
type StructuredIndex struct {
	Index
	Fields       []Field
	TensorFields []TensorField
}

// UnstructuredIndex is a legacy index whose fields are discovered at ingest time.
type UnstructuredIndex struct {
	Index
	TreatURLsAndPointersAsImages bool
	TreatURLsAndPointersAsMedia  bool
	FilterStringMaxLength        int
}

// SemiStructuredIndex is Unstructured plus a set of fields that grow monotonically.
type SemiStructuredIndex struct {
	Index
	LexicalFields     []string
	TensorFields      []TensorField
	StringArrayFields []string
}

// IndexDefinition is implemented by all three index variants so read
// paths like the Index Manager's GetIndex/GetAllIndexes (§4.3) can
// return a single value regardless of which shape a deployed index is.
type IndexDefinition interface {
	Base() *Index
}

func (idx *StructuredIndex) Base() *Index     { return &idx.Index }
func (idx *UnstructuredIndex) Base() *Index   { return &idx.Index }
func (idx *SemiStructuredIndex) Base() *Index { return &idx.Index }

// Clone returns a deep-enough copy suitable for building the next schema version.
func (s *SemiStructuredIndex) Clone() *SemiStructuredIndex {
	out := *s
	out.LexicalFields = append([]string(nil), s.LexicalFields...)
	out.TensorFields = append([]TensorField(nil), s.TensorFields...)
	out.StringArrayFields = append([]string(nil), s.StringArrayFields...)
	return &out
}

// DeclaredFieldSet is the set of field names this SemiStructured index has
// already committed to its deployed schema (lexical ∪ tensor ∪ string-array).
func (s *SemiStructuredIndex) DeclaredFieldSet() map[string]bool {
	out := make(map[string]bool, len(s.LexicalFields)+len(s.TensorFields)+len(s.StringArrayFields))
	for _, f := range s.LexicalFields {
		out[f] = true
	}
	for _, f := range s.TensorFields {
		out[f.Name] = true
	}
	for _, f := range s.StringArrayFields {
		out[f] = true
	}
	return out
}
