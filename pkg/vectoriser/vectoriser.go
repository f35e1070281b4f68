// Package vectoriser provides the opaque embedding-model capability
// consumed by the Document Pipeline and the Hybrid Search Coordinator.
//
// A Vectoriser turns already-acquired content (text, or a decoded
// media tensor produced by the pipeline's media-acquisition step) into
// fixed-length float vectors. It never performs media download itself;
// callers resolve URLs to bytes before calling Embed/EmbedBatch with a
// Modality.
package vectoriser

import (
	"context"
	"time"
)

// Modality identifies the kind of content being embedded.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// Input is one item submitted to Embed/EmbedBatch.
type Input struct {
	Modality Modality
	// Text holds the chunk text for ModalityText; for other modalities
	// it is the pipeline-assigned content key (used only for error
	// reporting and cache keys), the actual payload is PreEncoded.
	Text string
	// PreEncoded carries an already-decoded media tensor (per spec
	// §4.4.3 step 6) for non-text modalities; nil for text.
	PreEncoded []float32
}

// Vectoriser generates vector embeddings from acquired content.
//
// Implementations must be safe for concurrent use from multiple
// goroutines, since one instance can serve several requests at once.
// The pipeline itself calls EmbedBatch from the calling goroutine in
// every strategy (PerField, PerDocument and PerBatch, §4.4.4), one
// group after another.
type Vectoriser interface {
	// Embed generates one embedding.
	Embed(ctx context.Context, in Input) ([]float32, error)
	// EmbedBatch generates one embedding per input, in input order.
	// A partial failure aborts the whole call — per-document isolation
	// is the pipeline's responsibility, not the Vectoriser's.
	EmbedBatch(ctx context.Context, ins []Input) ([][]float32, error)
	// Dimensions returns this model's embedding vector length.
	Dimensions() int
	// Model returns the model name this Vectoriser was loaded for.
	Model() string
	// SupportsModality reports whether this model can embed a given
	// modality (§4.4.3 step 3 model-capability check).
	SupportsModality(m Modality) bool
}

// Config configures an HTTP-backed Vectoriser.
type Config struct {
	ModelName  string
	APIURL     string
	APIPath    string
	Dimensions int
	Modalities []Modality
	Timeout    time.Duration
}

// DefaultConfig returns conservative HTTP defaults, mirroring the
// teacher's DefaultOllamaConfig shape.
func DefaultConfig(modelName string, dimensions int) Config {
	return Config{
		ModelName:  modelName,
		APIURL:     "http://localhost:8090",
		APIPath:    "/embed",
		Dimensions: dimensions,
		Modalities: []Modality{ModalityText},
		Timeout:    30 * time.Second,
	}
}
