package hybridsearch

import (
	"fmt"
	"strings"

	"github.com/marqocore/vespacore/pkg/model"
)

// buildFieldResolver maps a logical filter field name to its store
// bucket and physical attribute name for idx. Structured/SemiStructured
// indexes resolve through the declared field's derived filter name;
// Unstructured indexes have no declared schema, so every field resolves
// to its own name as an untyped short-string attribute (the store infers
// the actual bucket at query time for legacy indexes).
func buildFieldResolver(idx IndexView) model.FieldResolver {
	return func(field string) (model.FilterFieldBucket, string, bool) {
		if idx.StructuredFields == nil {
			return model.BucketShortString, field, true
		}
		f, ok := idx.StructuredFields[field]
		if !ok || !f.HasFeature(model.FeatureFilter) {
			return 0, "", false
		}
		return bucketForFieldType(f.Type), f.FilterFieldName, true
	}
}

func bucketForFieldType(t model.FieldType) model.FilterFieldBucket {
	switch t {
	case model.FieldTypeInt, model.FieldTypeLong:
		return model.BucketInt
	case model.FieldTypeFloat, model.FieldTypeDouble:
		return model.BucketFloat
	case model.FieldTypeBool:
		return model.BucketBool
	case model.FieldTypeArrayText:
		return model.BucketStringArray
	default:
		return model.BucketShortString
	}
}

// compileFilter renders q's filter (plus an optional ID restriction) for
// idx, per §3.4.
func compileFilter(idx IndexView, base *model.FilterNode, restrictIDs []string) (string, error) {
	n := base
	if len(restrictIDs) > 0 {
		// An OR of _id equality terms rather than an IN term, which
		// Compile rejects on Unstructured indexes.
		idTerm := &model.FilterNode{Op: model.OpOr}
		for _, id := range restrictIDs {
			idTerm.Children = append(idTerm.Children, &model.FilterNode{Op: model.OpEq, Field: "_id", Value: id})
		}
		if n == nil {
			n = idTerm
		} else {
			n = &model.FilterNode{Op: model.OpAnd, Children: []*model.FilterNode{n, idTerm}}
		}
	}
	if n == nil {
		return "", nil
	}
	unstructured := idx.IndexType == model.IndexTypeUnstructured
	return model.Compile(n, buildFieldResolver(idx), unstructured)
}

// fieldsToRank builds the marqo__fields_to_rank_{lexical,tensor} map:
// physical field name -> weight 1, Structured/SemiStructured only
// (§4.5.6).
func fieldsToRank(idx IndexView, attrs []string) map[string]float64 {
	if idx.StructuredFields == nil {
		return nil
	}
	out := map[string]float64{}
	names := attrs
	if len(names) == 0 {
		for name := range idx.StructuredFields {
			names = append(names, name)
		}
	}
	for _, name := range names {
		if f, ok := idx.StructuredFields[name]; ok {
			out[f.Name] = 1
		}
	}
	return out
}

// weightMaps splits score-modifier entries into additive and
// multiplicative weight maps (§4.5.6's marqo__mult_weights_*/marqo__add_weights_*).
func weightMaps(modifiers []model.ScoreModifierEntry) (mult, add map[string]float64) {
	mult, add = map[string]float64{}, map[string]float64{}
	for _, m := range modifiers {
		if m.Additive {
			add[m.FieldName] = m.Weight
		} else {
			mult[m.FieldName] = m.Weight
		}
	}
	return mult, add
}

// queryPlan is the materialized store-side expression (§4.5.6).
type queryPlan struct {
	yql      string
	features map[string]any
}

// materializeQuery builds the single store RPC expression carrying both
// retrieval predicates and every hybrid/ranking feature the store's
// custom rank profile needs.
func materializeQuery(idx IndexView, q model.MarqoQuery, lexicalPredicate, tensorPredicate string, queryEmbedding []float32, lexicalAttrs, tensorAttrs []string, lexicalMods, tensorMods, rootMods []model.ScoreModifierEntry) queryPlan {
	features := map[string]any{}
	features["marqo__yql.lexical"] = lexicalPredicate
	features["marqo__yql.tensor"] = tensorPredicate

	if len(queryEmbedding) > 0 {
		features["marqo__query_embedding"] = queryEmbedding
	}
	if names := fieldsToRank(idx, lexicalAttrs); names != nil {
		features["marqo__fields_to_rank_lexical"] = names
	}
	if names := fieldsToRank(idx, tensorAttrs); names != nil {
		features["marqo__fields_to_rank_tensor"] = names
	}

	multL, addL := weightMaps(lexicalMods)
	multT, addT := weightMaps(tensorMods)
	multG, addG := weightMaps(rootMods)
	features["marqo__mult_weights_lexical"] = multL
	features["marqo__add_weights_lexical"] = addL
	features["marqo__mult_weights_tensor"] = multT
	features["marqo__add_weights_tensor"] = addT
	features["marqo__mult_weights_global"] = multG
	features["marqo__add_weights_global"] = addG

	features["marqo__hybrid.retrievalMethod"] = string(q.Hybrid.RetrievalMethod)
	features["marqo__hybrid.rankingMethod"] = string(q.Hybrid.RankingMethod)
	features["marqo__hybrid.alpha"] = q.Hybrid.Alpha
	features["marqo__hybrid.rrf_k"] = q.Hybrid.RRFK
	if q.RerankDepth != nil {
		features["marqo__hybrid.rerankDepthGlobal"] = *q.RerankDepth
	}
	features["ranking.profile"] = rankingProfileName

	return queryPlan{yql: "select * from sources * where marqo__placeholder()", features: features}
}

// rankingProfileName is the custom rank profile every hybrid query
// targets (§4.5.6); the store's deployed schema registers it alongside
// the single-method profiles (see schemagen.rankProfileNames).
const rankingProfileName = "hybrid_custom_searcher"

// lexicalPredicate renders an opaque, store-consumed placeholder for a
// lexical retrieval over the given searchable attributes — never
// evaluated locally, per §4.5.6.
func lexicalPredicate(text string, attrs []string) string {
	if text == "" {
		return ""
	}
	scope := "all_lexical_fields"
	if len(attrs) > 0 {
		scope = strings.Join(attrs, ",")
	}
	return fmt.Sprintf("marqo__lexical_search(%q, fields=%s)", text, scope)
}

// tensorPredicate renders an opaque placeholder for a tensor (nearest
// neighbor) retrieval over the given searchable attributes.
func tensorPredicate(hasVector bool, attrs []string) string {
	if !hasVector {
		return ""
	}
	scope := "all_tensor_fields"
	if len(attrs) > 0 {
		scope = strings.Join(attrs, ",")
	}
	return fmt.Sprintf("marqo__nearest_neighbor(marqo__query_embedding, fields=%s)", scope)
}
