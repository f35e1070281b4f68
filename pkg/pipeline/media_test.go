package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/vectoriser"
	"github.com/stretchr/testify/require"
)

func TestInferModality_ByExtension(t *testing.T) {
	m, err := inferModality(context.Background(), "https://example.com/cat.jpg", nil, http.DefaultClient)
	require.NoError(t, err)
	require.Equal(t, vectoriser.ModalityImage, m)
}

func TestInferModality_FallsBackToContentTypeProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
	}))
	defer srv.Close()

	m, err := inferModality(context.Background(), srv.URL+"/clip", nil, srv.Client())
	require.NoError(t, err)
	require.Equal(t, vectoriser.ModalityAudio, m)
}

func TestDownloadAndDecode_ExceedsMaxSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	res := downloadAndDecode(context.Background(), srv.Client(), nil, srv.URL, vectoriser.ModalityImage, nil, MediaPolicy{MaxBytes: 10})
	require.Error(t, res.err)
	require.Equal(t, apperr.KindMediaExceedsMaxSize, apperr.KindOf(res.err))
}

func TestDownloadAndDecode_NonImageWithoutDecoderIsUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	res := downloadAndDecode(context.Background(), srv.Client(), nil, srv.URL, vectoriser.ModalityAudio, nil, MediaPolicy{})
	require.Error(t, res.err)
	require.Equal(t, apperr.KindUnsupportedModality, apperr.KindOf(res.err))
}

type fakeDecoder struct {
	chunks [][]float32
}

func (f *fakeDecoder) Decode(ctx context.Context, m vectoriser.Modality, data []byte) ([][]float32, error) {
	return f.chunks, nil
}

func TestAcquireMedia_DedupesSharedURLAcrossDocuments(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("img-bytes"))
	}))
	defer srv.Close()

	modalities := map[string]vectoriser.Modality{srv.URL + "/shared.jpg": vectoriser.ModalityImage}
	decoder := &fakeDecoder{chunks: [][]float32{{1, 2}}}
	results := acquireMedia(context.Background(), srv.Client(), decoder, modalities, nil, MediaPolicy{Timeout: time.Second})
	require.Len(t, results, 1)
	require.NoError(t, results[srv.URL+"/shared.jpg"].err)
	require.Equal(t, 1, hits)
}

func TestMediaPolicy_ConcurrencyPrecedence(t *testing.T) {
	require.Equal(t, 7, MediaPolicy{PerRequestConcurrency: 7}.concurrencyFor(vectoriser.ModalityImage))
	require.Equal(t, 20, MediaPolicy{}.concurrencyFor(vectoriser.ModalityImage))
	require.Equal(t, 5, MediaPolicy{}.concurrencyFor(vectoriser.ModalityVideo))
	require.Equal(t, 3, MediaPolicy{MediaConcurrency: 3}.concurrencyFor(vectoriser.ModalityAudio))
}
