package hybridsearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/store"
	"github.com/marqocore/vespacore/pkg/vectoriser"
	"github.com/stretchr/testify/require"
)

type fakeVectoriser struct{ dims int }

func (f *fakeVectoriser) Embed(ctx context.Context, in vectoriser.Input) ([]float32, error) {
	v := make([]float32, f.dims)
	v[0] = float32(len(in.Text))
	return v, nil
}
func (f *fakeVectoriser) EmbedBatch(ctx context.Context, ins []vectoriser.Input) ([][]float32, error) {
	out := make([][]float32, len(ins))
	for i, in := range ins {
		v, _ := f.Embed(ctx, in)
		out[i] = v
	}
	return out, nil
}
func (f *fakeVectoriser) Dimensions() int                             { return f.dims }
func (f *fakeVectoriser) Model() string                               { return "fake" }
func (f *fakeVectoriser) SupportsModality(m vectoriser.Modality) bool { return m == vectoriser.ModalityText }

func testStoreConfig(queryURL string) store.Config {
	return store.Config{
		QueryURL:             queryURL,
		FeedConcurrency:      4,
		GetConcurrency:       4,
		DeleteConcurrency:    4,
		FeedTimeout:          time.Second,
		QueryTimeout:         time.Second,
		ConvergencePollEvery: 10 * time.Millisecond,
		ConvergenceTimeout:   time.Second,
	}
}

func searchEnvelope(children ...map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{
		"root": map[string]any{
			"fields":   map[string]any{"totalCount": len(children)},
			"children": children,
		},
	})
	return body
}

func TestSearch_LexicalMethodIssuesOneQuery(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(searchEnvelope(map[string]any{"id": "p1", "relevance": 0.9, "fields": map[string]any{}}))
	}))
	defer srv.Close()

	sc := store.NewClient(testStoreConfig(srv.URL), nil)
	c := New(sc, &fakeVectoriser{dims: 4}, Config{}, nil)

	q := model.MarqoQuery{Method: model.QueryLexical, Text: "red shoes", Limit: 10}
	res, err := c.Search(context.Background(), IndexView{IndexType: model.IndexTypeUnstructured}, q)
	require.NoError(t, err)
	require.Equal(t, 1, requests)
	require.Len(t, res.Hits, 1)
	require.Equal(t, "p1", res.Hits[0].ID)
}

func TestSearch_HybridDisjunctionRRFIssuesTwoQueriesAndFuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		features, _ := body["query_features"].(map[string]any)
		lexicalPred, _ := features["marqo__yql.lexical"].(string)

		w.WriteHeader(http.StatusOK)
		if lexicalPred != "" {
			_, _ = w.Write(searchEnvelope(
				map[string]any{"id": "a", "relevance": 0.9, "fields": map[string]any{}},
				map[string]any{"id": "b", "relevance": 0.5, "fields": map[string]any{}},
			))
			return
		}
		_, _ = w.Write(searchEnvelope(
			map[string]any{"id": "b", "relevance": 0.95, "fields": map[string]any{}},
			map[string]any{"id": "c", "relevance": 0.4, "fields": map[string]any{}},
		))
	}))
	defer srv.Close()

	sc := store.NewClient(testStoreConfig(srv.URL), nil)
	c := New(sc, &fakeVectoriser{dims: 4}, Config{}, nil)

	q := model.MarqoQuery{
		Method: model.QueryHybrid,
		Text:   "red shoes",
		Query:  "red shoes",
		Limit:  10,
		Hybrid: model.DefaultHybridParameters(),
	}
	res, err := c.Search(context.Background(), IndexView{IndexType: model.IndexTypeUnstructured, MarqoVersion: "2.11.0"}, q)
	require.NoError(t, err)
	require.Equal(t, "b", res.Hits[0].ID)
}

func TestSearch_HybridRejectsIncompatibleCombination(t *testing.T) {
	c := New(nil, &fakeVectoriser{dims: 4}, Config{}, nil)
	q := model.MarqoQuery{
		Method: model.QueryHybrid,
		Limit:  10,
		Hybrid: model.HybridParameters{RetrievalMethod: model.RetrievalDisjunction, RankingMethod: model.RankingLexical},
	}
	_, err := c.Search(context.Background(), IndexView{}, q)
	require.Error(t, err)
}
