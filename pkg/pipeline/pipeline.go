// Package pipeline is the Document Pipeline (§4.4): it converts a
// batch of arbitrary input documents into store documents and writes
// them, and exposes the separate partial-update entry point.
//
// The pipeline never touches the lock or the Application Package
// Manager — field discovery on SemiStructured indexes is signaled to
// the caller via DiscoveredFields on AddDocumentsResult, and the caller (the
// Index Manager's EvolveSemiStructuredSchema) decides whether and how
// to deploy a wider schema before the next batch.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/store"
	"github.com/marqocore/vespacore/pkg/vectoriser"
)

// Pipeline is the Document Pipeline.
type Pipeline struct {
	store      *store.Client
	vectoriser vectoriser.Vectoriser
	decoder    MediaDecoder
	httpClient *http.Client

	feedConcurrency int
	feedTimeout     time.Duration
	policy          MediaPolicy
}

// Config controls the pipeline's resource usage, mirroring
// config.PipelineConfig (§4.4.3 step 4, §5).
type Config struct {
	FeedConcurrency int
	FeedTimeout     time.Duration
	Policy          MediaPolicy
	MaxDocBytes     int64
}

func New(storeClient *store.Client, v vectoriser.Vectoriser, decoder MediaDecoder, cfg Config) *Pipeline {
	timeout := cfg.FeedTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Pipeline{
		store:           storeClient,
		vectoriser:      v,
		decoder:         decoder,
		httpClient:      &http.Client{},
		feedConcurrency: cfg.FeedConcurrency,
		feedTimeout:     timeout,
		policy:          cfg.Policy,
	}
}

// IndexView is the subset of index knowledge the pipeline needs to
// validate, embed, and assemble documents, independent of which of the
// three index variants is in play.
type IndexView struct {
	SchemaName       string
	IndexType        model.IndexType
	StructuredFields map[string]model.Field // nil unless Structured
	TensorFields     map[string]bool
	Model            model.ModelConfig
	NormalizeEmbeddings bool
	TextPreprocessing model.TextPreprocessing
	PartialUpdateVersionCutoff int
	SchemaVersion    int
	MaxDocBytes      int64

	// DeclaredLexicalFields / DeclaredStringArrayFields are the
	// currently-deployed field sets of a SemiStructured index, used to
	// tell a genuinely new field apart from one already declared
	// (§4.3's evolution trigger). Both nil for Structured/Unstructured.
	DeclaredLexicalFields     map[string]bool
	DeclaredStringArrayFields map[string]bool
}

// DiscoveredFields reports field names observed in this batch that are
// not yet part of a SemiStructured index's declared set (§4.3's
// evolution trigger). Empty for Structured/Unstructured indexes.
type DiscoveredFields struct {
	Lexical     []string
	StringArray []string
	Tensor      []model.TensorField
}

// AddDocumentsResult is BatchResult plus any newly discovered fields.
type AddDocumentsResult struct {
	BatchResult
	Discovered DiscoveredFields
}

// AddDocuments runs the full §4.4 pipeline: validate, acquire media,
// embed, assemble, and write.
func (p *Pipeline) AddDocuments(ctx context.Context, idx IndexView, req AddDocsRequest) (AddDocumentsResult, error) {
	if len(req.Docs) == 0 {
		return AddDocumentsResult{}, apperr.New(apperr.KindInvalidArgument, "docs must not be empty")
	}

	maxBytes := idx.MaxDocBytes
	vc := ValidationContext{
		IndexType:        idx.IndexType,
		StructuredFields: idx.StructuredFields,
		TensorFields:     idx.TensorFields,
		Mappings:         req.Mappings,
		MaxDocBytes:      maxBytes,
	}
	kept, failed := validateBatch(vc, req.Docs)

	discovered := DiscoveredFields{}
	if idx.IndexType == model.IndexTypeSemiStructured {
		discovered = discoverNewFields(kept, idx)
	}

	urls := collectMediaURLs(kept)
	mediaResults := map[string]mediaResult{}
	if len(urls) > 0 {
		inferred, inferErrs := inferAllModalities(ctx, urls, req.MediaDownloadHeaders, p.httpClient)
		mediaResults = acquireMedia(ctx, p.httpClient, p.decoder, inferred, req.MediaDownloadHeaders, p.policy)
		for u, err := range inferErrs {
			mediaResults[u] = mediaResult{err: err}
		}
	}

	prefixes := idx.Model.Prefixes
	if req.TextChunkPrefixOverride != nil {
		prefixes.TextChunkPrefix = *req.TextChunkPrefixOverride
	}

	embedded, embedFailed, err := embedDocuments(ctx, p.vectoriser, kept, mediaResults, idx, prefixes, idx.NormalizeEmbeddings, req.Mode)
	if err != nil {
		return AddDocumentsResult{}, err
	}
	failed = append(failed, embedFailed...)

	items := make([]store.FeedItem, 0, len(embedded))
	for _, ed := range embedded {
		items = append(items, store.FeedItem{ID: ed.doc.id, Fields: storedDocumentToWireFields(ed.doc.stored, idx.SchemaVersion, idx.PartialUpdateVersionCutoff)})
	}

	var feedResult store.BatchResult
	if len(items) > 0 {
		feedResult, err = p.store.FeedBatch(ctx, idx.SchemaName, items, p.feedConcurrency, p.feedTimeout)
		if err != nil {
			return AddDocumentsResult{}, err
		}
	}

	return AddDocumentsResult{
		BatchResult: mergeResults(failed, feedResult),
		Discovered:  discovered,
	}, nil
}

func mergeResults(failed []ItemResult, feedResult store.BatchResult) BatchResult {
	items := make([]ItemResult, 0, len(failed)+len(feedResult.Items))
	summary := BatchSummary{ErrorsByKind: map[string]int{}}

	for _, f := range failed {
		items = append(items, f)
	}
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

func statusKind(status int) string {
	switch status {
	case 400:
		return "invalid_argument"
	case 404:
		return "not_found"
	case 409:
		return "conflict"
	case 413:
		return "doc_too_large"
	default:
		return "internal_error"
	}
}
