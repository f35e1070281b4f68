package vectoriser

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/marqocore/vespacore/pkg/apperr"
)

// HTTPVectoriser calls an inference server's embedding endpoint. It is
// the reference implementation of Vectoriser, grounded on the
// teacher's Ollama/OpenAI HTTP embedder: one POST per call, a JSON
// body of inputs, a JSON response of vectors.
type HTTPVectoriser struct {
	config Config
	client *http.Client

	modalities map[Modality]bool
}

func NewHTTPVectoriser(cfg Config) *HTTPVectoriser {
	modalities := make(map[Modality]bool, len(cfg.Modalities))
	for _, m := range cfg.Modalities {
		modalities[m] = true
	}
	return &HTTPVectoriser{
		config:     cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		modalities: modalities,
	}
}

type embedRequest struct {
	Model string       `json:"model"`
	Items []requestItem `json:"items"`
}

type requestItem struct {
	Modality string    `json:"modality"`
	Text     string    `json:"text,omitempty"`
	Tensor   []float32 `json:"tensor,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (v *HTTPVectoriser) Embed(ctx context.Context, in Input) ([]float32, error) {
	out, err := v.EmbedBatch(ctx, []Input{in})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (v *HTTPVectoriser) EmbedBatch(ctx context.Context, ins []Input) ([][]float32, error) {
	items := make([]requestItem, len(ins))
	for i, in := range ins {
		items[i] = requestItem{Modality: string(in.Modality), Text: in.Text, Tensor: in.PreEncoded}
	}
	body, err := json.Marshal(embedRequest{Model: v.config.ModelName, Items: items})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "encode embed request", err)
	}

	url := v.config.APIURL + v.config.APIPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "embedding request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "read embedding response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.KindStatus, "embedding server returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindStatus, "decode embedding response", err)
	}
	if parsed.Error != "" {
		return nil, apperr.New(apperr.KindGeneric, parsed.Error)
	}
	if len(parsed.Embeddings) != len(ins) {
		return nil, apperr.Newf(apperr.KindGeneric, "embedding server returned %d vectors for %d inputs", len(parsed.Embeddings), len(ins))
	}
	return parsed.Embeddings, nil
}

func (v *HTTPVectoriser) Dimensions() int { return v.config.Dimensions }

func (v *HTTPVectoriser) Model() string { return v.config.ModelName }

func (v *HTTPVectoriser) SupportsModality(m Modality) bool { return v.modalities[m] }
