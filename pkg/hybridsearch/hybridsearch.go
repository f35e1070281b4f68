// Package hybridsearch is the Hybrid Search Coordinator (§4.5): it takes
// a fully-resolved model.MarqoQuery, validates the retrieval/ranking
// combination, sources the query vector, issues the necessary store
// retrievals, fuses or re-scores them as the combination requires, and
// returns a ranked hit list.
//
// The fusion math (reciprocal-rank scoring, rerank-depth windowing) runs
// client-side, the same way the teacher's search.Service queries its
// vector and fulltext indexes separately and fuses the two rankings in
// Go rather than pushing the math into the storage layer — generalized
// here from an in-process HNSW/BM25 pair to two RPCs against the
// external store.
package hybridsearch

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/store"
	"github.com/marqocore/vespacore/pkg/vectoriser"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/marqocore/vespacore/pkg/hybridsearch")

// limitFloor is the candidate-set multiplier applied on top of the
// caller's limit when retrieving for fusion (§4.5.3's "2·limit_floor").
const limitFloor = 2

// IndexView is the coordinator's narrow read-only view of the index
// being searched, supplied by the Index Manager.
type IndexView struct {
	SchemaName string
	IndexType  model.IndexType

	// MarqoVersion gates hybrid search on legacy Unstructured indexes
	// per model.SupportsFeature. Score modifiers are not version-checked,
	// and searchable attributes are rejected on Unstructured indexes
	// whatever the version.
	MarqoVersion string

	// StructuredFields is the declared field set for Structured and
	// SemiStructured indexes; nil for Unstructured.
	StructuredFields map[string]model.Field
}

// Config controls coordinator-wide timeouts.
type Config struct {
	QueryTimeout time.Duration
}

// Coordinator is the Hybrid Search Coordinator.
type Coordinator struct {
	store      *store.Client
	vectoriser vectoriser.Vectoriser
	logger     *log.Logger

	queryTimeout time.Duration
}

func New(storeClient *store.Client, v vectoriser.Vectoriser, cfg Config, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{store: storeClient, vectoriser: v, logger: logger, queryTimeout: timeout}
}

// Hit is one ranked search result.
type Hit struct {
	ID     string
	Score  float64
	Fields map[string]any
}

// SearchResult is the coordinator's response to a single Search call.
type SearchResult struct {
	Hits  []Hit
	Total int
}

// Search resolves and executes q against idx (§4.5).
func (c *Coordinator) Search(ctx context.Context, idx IndexView, q model.MarqoQuery) (*SearchResult, error) {
	if q.Limit <= 0 {
		return nil, apperr.New(apperr.KindInvalidArgument, "limit must be positive")
	}

	switch q.Method {
	case model.QueryLexical:
		return c.retrieveLexical(ctx, idx, q, q.SearchableAttributes, q.ScoreModifiers, q.Limit, q.Offset, nil)
	case model.QueryTensor:
		return c.retrieveTensor(ctx, idx, q, q.SearchableAttributes, q.ScoreModifiers, q.Limit, q.Offset, nil)
	case model.QueryHybrid:
		if err := validateHybridParameters(idx, q); err != nil {
			return nil, err
		}
		return c.searchHybrid(ctx, idx, q)
	default:
		return nil, apperr.Newf(apperr.KindInvalidArgument, "unknown query method %q", q.Method)
	}
}

// searchHybrid dispatches the retrieval/ranking combination table in
// §4.5.2/§4.5.4.
func (c *Coordinator) searchHybrid(ctx context.Context, idx IndexView, q model.MarqoQuery) (*SearchResult, error) {
	h := q.Hybrid
	switch {
	case h.RetrievalMethod == model.RetrievalDisjunction && h.RankingMethod == model.RankingRRF:
		return c.searchDisjunctionRRF(ctx, idx, q)

	case h.RetrievalMethod == model.RetrievalLexical && h.RankingMethod == model.RankingLexical:
		return c.retrieveLexical(ctx, idx, q, h.SearchableAttributesLexical, h.ScoreModifiersLexical, q.Limit, q.Offset, nil)

	case h.RetrievalMethod == model.RetrievalTensor && h.RankingMethod == model.RankingTensor:
		return c.retrieveTensor(ctx, idx, q, h.SearchableAttributesTensor, h.ScoreModifiersTensor, q.Limit, q.Offset, nil)

	case h.RetrievalMethod == model.RetrievalLexical && h.RankingMethod == model.RankingTensor:
		candidates, err := c.retrieveLexical(ctx, idx, q, h.SearchableAttributesLexical, nil, q.Limit, q.Offset, nil)
		if err != nil {
			return nil, err
		}
		return c.retrieveTensor(ctx, idx, q, h.SearchableAttributesTensor, h.ScoreModifiersTensor, q.Limit, q.Offset, idsOf(candidates.Hits))

	case h.RetrievalMethod == model.RetrievalTensor && h.RankingMethod == model.RankingLexical:
		candidates, err := c.retrieveTensor(ctx, idx, q, h.SearchableAttributesTensor, nil, q.Limit, q.Offset, nil)
		if err != nil {
			return nil, err
		}
		return c.retrieveLexical(ctx, idx, q, h.SearchableAttributesLexical, h.ScoreModifiersLexical, q.Limit, q.Offset, idsOf(candidates.Hits))

	default:
		return nil, apperr.Newf(apperr.KindInvalidArgument, "unsupported retrievalMethod/rankingMethod combination %q/%q", h.RetrievalMethod, h.RankingMethod)
	}
}

func idsOf(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// searchDisjunctionRRF implements §4.5.3: two full retrievals fused by
// reciprocal rank, then the rerank-depth modifier rescore.
func (c *Coordinator) searchDisjunctionRRF(ctx context.Context, idx IndexView, q model.MarqoQuery) (*SearchResult, error) {
	ctx, span := tracer.Start(ctx, "hybridsearch.fuse",
		trace.WithAttributes(attribute.Float64("alpha", q.Hybrid.Alpha), attribute.Int("rrf_k", q.Hybrid.RRFK)))
	defer span.End()

	h := q.Hybrid
	candidateLimit := maxInt(q.Limit, rerankDepthOrZero(q), limitFloor*q.Limit)

	lexicalResult, err := c.retrieveLexical(ctx, idx, q, h.SearchableAttributesLexical, nil, candidateLimit, 0, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	tensorResult, err := c.retrieveTensor(ctx, idx, q, h.SearchableAttributesTensor, nil, candidateLimit, 0, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	lexicalHits := applyModifiers(lexicalResult.Hits, h.ScoreModifiersLexical)
	tensorHits := applyModifiers(tensorResult.Hits, h.ScoreModifiersTensor)
	sortByScoreDesc(lexicalHits)
	sortByScoreDesc(tensorHits)

	fused := fuseRRF(lexicalHits, tensorHits, h.Alpha, h.RRFK)
	windowed := applyRerankWindow(fused, q.RootScoreModifiers, q.RerankDepth)

	if len(windowed) > q.Limit {
		windowed = windowed[:q.Limit]
	}
	span.SetAttributes(attribute.Int("fused_count", len(fused)), attribute.Int("returned_count", len(windowed)))
	return &SearchResult{Hits: windowed, Total: len(fused)}, nil
}

func rerankDepthOrZero(q model.MarqoQuery) int {
	if q.RerankDepth == nil {
		return 0
	}
	return *q.RerankDepth
}

func maxInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func sortByScoreDesc(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
