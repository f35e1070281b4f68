package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/store"
	"github.com/stretchr/testify/require"
)

func TestPartialUpdateDocuments_RoutesScalarAndMapFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/document/v1/products/products/docid/p1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"fields": map[string]any{
					"createTimestamp": 1000.0,
					"scores":          map[string]any{"a": 1.0, "b": 2.0},
				},
			})
		case http.MethodPut:
			body := map[string]any{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sc := store.NewClient(testStoreConfig(srv.URL), nil)
	p := New(sc, &fakeVectoriser{dims: 4}, nil, Config{})

	idx := IndexView{SchemaName: "products"}
	docs := []map[string]any{
		{"_id": "p1", "price": 12.0, "scores": map[string]any{"a": 5.0}},
	}
	result, err := p.PartialUpdateDocuments(context.Background(), idx, docs)
	require.NoError(t, err)
	require.False(t, result.Errors)
	require.Len(t, result.Items, 1)
	require.Equal(t, 200, result.Items[0].Status)
}

func TestPartialUpdateDocuments_TensorFieldForbidden(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/document/v1/products/products/docid/p1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"fields": map[string]any{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sc := store.NewClient(testStoreConfig(srv.URL), nil)
	p := New(sc, &fakeVectoriser{dims: 4}, nil, Config{})

	idx := IndexView{SchemaName: "products", TensorFields: map[string]bool{"title": true}}
	docs := []map[string]any{{"_id": "p1", "title": "new title"}}

	result, err := p.PartialUpdateDocuments(context.Background(), idx, docs)
	require.NoError(t, err)
	require.True(t, result.Errors)
	require.Equal(t, 400, result.Items[0].Status)
}

func TestPartialUpdateDocuments_DuplicateIDsCollapseLastWriterWins(t *testing.T) {
	var lastPrice float64
	mux := http.NewServeMux()
	mux.HandleFunc("/document/v1/products/products/docid/dup", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{"fields": map[string]any{}})
		case http.MethodPut:
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if assign, ok := body.Fields["price"].(map[string]any); ok {
				lastPrice, _ = assign["assign"].(float64)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sc := store.NewClient(testStoreConfig(srv.URL), nil)
	p := New(sc, &fakeVectoriser{dims: 4}, nil, Config{})

	docs := []map[string]any{
		{"_id": "dup", "price": 1.0},
		{"_id": "dup", "price": 2.0},
	}
	result, err := p.PartialUpdateDocuments(context.Background(), IndexView{SchemaName: "products"}, docs)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, 2.0, lastPrice)
}

func TestApplyMapUpdate_RemovedEntryDropsScoreModifierCell(t *testing.T) {
	patch := map[string]any{}
	existing := map[string]any{"scores": map[string]any{"a": 1.0, "b": 2.0}}
	err := applyMapUpdate(patch, "scores", map[string]any{"a": 5.0}, existing)
	require.NoError(t, err)
	require.Contains(t, patch, "scores.a")
	require.Contains(t, patch, "score_modifiers.scores.b")
	require.Equal(t, map[string]any{"remove": nil}, patch["scores.b"])
}

func TestBuildUpdatePatch_StandaloneNumericRemovalDoesNotTouchScoreModifiers(t *testing.T) {
	idx := IndexView{StructuredFields: map[string]model.Field{
		"popularity": {Name: "popularity", Type: model.FieldTypeFloat, Features: []model.Feature{model.FeatureScoreModifier}},
	}}
	doc := map[string]any{"_id": "p1", "popularity": 9.0}
	existing := map[string]any{}
	patch, _, err := buildUpdatePatch(idx, "p1", doc, existing)
	require.NoError(t, err)
	require.Contains(t, patch, "popularity")
	require.Contains(t, patch, "score_modifiers.popularity")

	for k, v := range patch {
		require.NotEqual(t, map[string]any{"remove": nil}, v, k)
	}
}
