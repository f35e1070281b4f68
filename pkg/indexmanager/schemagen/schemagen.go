// Package schemagen renders store schema definition text for the three
// index variants (§4.3). Output is deterministic string-building, the
// way the teacher's apoc/schema package frames equivalent
// create/drop/info operations as plain data transformations rather
// than templated text — no schema-DSL templating library appears
// anywhere in the pack, so text/template would be reaching for
// machinery the corpus never uses for this kind of generation; see
// DESIGN.md for the fuller justification.
package schemagen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marqocore/vespacore/pkg/model"
)

// rankProfileNames are the four hybrid profiles, the two single-method
// profiles and hybrid_custom_searcher, which every schema variant
// registers (§4.3).
var rankProfileNames = []string{
	"embedding_similarity",
	"bm25",
	"hybrid_bm25_then_embedding_similarity",
	"hybrid_embedding_similarity_then_bm25",
	"hybrid_bm25_then_embedding_similarity_inverse",
	"hybrid_embedding_similarity_then_bm25_inverse",
	"hybrid_custom_searcher",
}

func numericTypeToken(t model.VectorNumericType) string {
	switch t {
	case model.VectorNumericBFloat16:
		return "bfloat16"
	default:
		return "float"
	}
}

func fieldTypeToken(t model.FieldType) string {
	switch t {
	case model.FieldTypeText:
		return "string"
	case model.FieldTypeBool:
		return "bool"
	case model.FieldTypeInt:
		return "int"
	case model.FieldTypeLong:
		return "long"
	case model.FieldTypeFloat:
		return "float"
	case model.FieldTypeDouble:
		return "double"
	case model.FieldTypeArrayText:
		return "array<string>"
	case model.FieldTypeArrayInt:
		return "array<int>"
	case model.FieldTypeArrayLong:
		return "array<long>"
	case model.FieldTypeArrayFloat:
		return "array<float>"
	case model.FieldTypeArrayDouble:
		return "array<double>"
	case model.FieldTypeImagePointer, model.FieldTypeVideoPointer, model.FieldTypeAudioPointer:
		return "string"
	case model.FieldTypeCustomVector:
		return "string"
	default:
		return "string"
	}
}

// StructuredSchema renders the .sd text for a Structured index (§4.3).
func StructuredSchema(idx *model.StructuredIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema %s {\n", idx.SchemaName)
	fmt.Fprintf(&b, "  document %s {\n", idx.SchemaName)

	fields := append([]model.Field(nil), idx.Fields...)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	for _, f := range fields {
		fmt.Fprintf(&b, "    field %s type %s {\n", f.Name, fieldTypeToken(f.Type))
		fmt.Fprintf(&b, "      indexing: summary | attribute\n")
		fmt.Fprintf(&b, "    }\n")
		if f.LexicalFieldName != "" {
			fmt.Fprintf(&b, "    field %s type %s {\n", f.LexicalFieldName, fieldTypeToken(f.Type))
			fmt.Fprintf(&b, "      indexing: index\n      index: enable-bm25\n")
			fmt.Fprintf(&b, "    }\n")
		}
		if f.FilterFieldName != "" {
			fmt.Fprintf(&b, "    field %s type %s {\n", f.FilterFieldName, fieldTypeToken(f.Type))
			fmt.Fprintf(&b, "      indexing: attribute\n")
			fmt.Fprintf(&b, "    }\n")
		}
	}

	tensorFields := append([]model.TensorField(nil), idx.TensorFields...)
	sort.Slice(tensorFields, func(i, j int) bool { return tensorFields[i].Name < tensorFields[j].Name })
	for _, tf := range tensorFields {
		writeTensorFieldBlock(&b, tf, idx.Index)
	}

	b.WriteString("  }\n")
	writeRankProfiles(&b, tensorFields)
	b.WriteString("}\n")
	return b.String()
}

func writeTensorFieldBlock(b *strings.Builder, tf model.TensorField, idx model.Index) {
	fmt.Fprintf(b, "    field %s type array<string> {\n      indexing: attribute\n    }\n", tf.ChunkFieldName)
	dims := 512
	fmt.Fprintf(b, "    field %s type tensor<%s>(p{}, x[%d]) {\n", tf.EmbeddingFieldName, numericTypeToken(idx.VectorNumericType), dims)
	fmt.Fprintf(b, "      indexing: attribute | index\n")
	fmt.Fprintf(b, "      attribute {\n        distance-metric: %s\n      }\n", string(idx.DistanceMetric))
	fmt.Fprintf(b, "      index {\n        hnsw {\n          max-links-per-node: %d\n          neighbors-to-explore-at-insert: %d\n        }\n      }\n",
		idx.HNSW.M, idx.HNSW.EfConstruction)
	b.WriteString("    }\n")
}

func writeRankProfiles(b *strings.Builder, tensorFields []model.TensorField) {
	for _, name := range rankProfileNames {
		fmt.Fprintf(b, "  rank-profile %s inherits default {\n", name)
		b.WriteString("    inputs {\n      query(marqo__query_embedding) tensor<float>(x[512])\n    }\n")
		switch {
		case name == "bm25":
			b.WriteString("    first-phase {\n      expression: bm25_score\n    }\n")
		case name == "embedding_similarity":
			b.WriteString("    first-phase {\n      expression: closeness(field, " + firstEmbeddingField(tensorFields) + ")\n    }\n")
		default:
			b.WriteString("    first-phase {\n      expression: marqo__hybrid_score\n    }\n")
		}
		b.WriteString("  }\n")
	}
}

func firstEmbeddingField(tensorFields []model.TensorField) string {
	if len(tensorFields) == 0 {
		return "marqo__embeddings"
	}
	return tensorFields[0].EmbeddingFieldName
}

// DefaultQueryProfileXML renders the search/query-profiles/default.xml
// bundle entry installed by Bootstrap (§4.2). It fixes the default
// ranking profile to hybrid_custom_searcher so a query that omits an
// explicit ranking.profile still resolves to the hybrid rank profile
// every schema variant registers.
func DefaultQueryProfileXML() string {
	var b strings.Builder
	b.WriteString("<query-profile id=\"default\">\n")
	fmt.Fprintf(&b, "  <field name=\"ranking.profile\">%s</field>\n", "hybrid_custom_searcher")
	b.WriteString("</query-profile>\n")
	return b.String()
}

// SemiStructuredSchema renders the .sd text for a SemiStructured (or
// Unstructured) index: fixed generic containers for every possible
// value bucket, plus the currently-declared lexical/tensor/string-array
// fields (§4.3).
func SemiStructuredSchema(idx *model.SemiStructuredIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema %s {\n", idx.SchemaName)
	fmt.Fprintf(&b, "  document %s {\n", idx.SchemaName)

	b.WriteString("    field short_strings_fields type map<string,string> {\n      indexing: summary | attribute\n    }\n")
	b.WriteString("    field int_fields type map<string,int> {\n      indexing: summary | attribute\n    }\n")
	b.WriteString("    field float_fields type map<string,float> {\n      indexing: summary | attribute\n    }\n")
	b.WriteString("    field bool_fields type map<string,byte> {\n      indexing: summary | attribute\n    }\n")
	b.WriteString("    field score_modifiers type map<string,float> {\n      indexing: summary | attribute\n    }\n")
	b.WriteString("    field vespa_multimodal_params type map<string,string> {\n      indexing: summary | attribute\n    }\n")
	if idx.PartialUpdateVersionCutoff <= idx.Version {
		b.WriteString("    field field_types type map<string,string> {\n      indexing: summary | attribute\n    }\n")
	}

	stringArrayFields := append([]string(nil), idx.StringArrayFields...)
	sort.Strings(stringArrayFields)
	if len(stringArrayFields) == 0 {
		b.WriteString("    field string_array type array<string> {\n      indexing: attribute\n    }\n")
	} else {
		for _, name := range stringArrayFields {
			fmt.Fprintf(&b, "    field string_array_%s type array<string> {\n      indexing: attribute\n    }\n", name)
		}
	}

	lexicalFields := append([]string(nil), idx.LexicalFields...)
	sort.Strings(lexicalFields)
	for _, name := range lexicalFields {
		fmt.Fprintf(&b, "    field %s%s type string {\n      indexing: index\n      index: enable-bm25\n    }\n", model.ReservedPrefix+"lexical_", name)
	}

	tensorFields := append([]model.TensorField(nil), idx.TensorFields...)
	sort.Slice(tensorFields, func(i, j int) bool { return tensorFields[i].Name < tensorFields[j].Name })
	for _, tf := range tensorFields {
		writeTensorFieldBlock(&b, tf, idx.Index)
	}

	b.WriteString("  }\n")
	writeRankProfiles(&b, tensorFields)
	b.WriteString("}\n")
	return b.String()
}
