package indexmanager

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/appmanager"
	"github.com/marqocore/vespacore/pkg/lock"
	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/store"
	"github.com/stretchr/testify/require"
)

// fakeCoordinator is an in-memory lock.Coordinator, mirroring the
// equivalent fake in pkg/lock's own tests.
type fakeCoordinator struct {
	mu      sync.Mutex
	holders map[string]string
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{holders: map[string]string{}}
}

func (f *fakeCoordinator) TryAcquire(ctx context.Context, path string, ttl time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.holders[path]; held {
		return "", false, nil
	}
	id := path + "-lease"
	f.holders[path] = id
	return id, true, nil
}

func (f *fakeCoordinator) Release(ctx context.Context, path, leaseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holders[path] == leaseID {
		delete(f.holders, path)
	}
	return nil
}

func (f *fakeCoordinator) Refresh(ctx context.Context, path, leaseID string, ttl time.Duration) error {
	return nil
}

// fakeConfigServer emulates the config-cluster session protocol plus a
// converged serviceconverge endpoint.
type fakeConfigServer struct {
	mu    sync.Mutex
	files map[string][]byte
	url   string
}

func newFakeConfigServer() *httptest.Server {
	fc := &fakeConfigServer{files: make(map[string][]byte)}
	mux := http.NewServeMux()

	mux.HandleFunc("/application/v2/tenant/default/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"content":    fc.url + "/application/v2/tenant/default/session/1/content",
			"prepared":   fc.url + "/application/v2/tenant/default/session/1/prepared",
			"session-id": "1",
		})
	})
	mux.HandleFunc("/application/v2/tenant/default/session/1/content/", func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/application/v2/tenant/default/session/1/content")
		fc.mu.Lock()
		defer fc.mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			buf, _ := io.ReadAll(r.Body)
			fc.files[rel] = buf
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(fc.files, rel)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := fc.files[rel]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
		}
	})
	mux.HandleFunc("/application/v2/tenant/default/session/1/prepared", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"activate": fc.url + "/application/v2/tenant/default/session/1/active"})
	})
	mux.HandleFunc("/application/v2/tenant/default/session/1/active", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/application/v2/tenant/default/application/default/environment/default/region/default/instance/default/serviceconverge", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"currentGeneration": 1, "wantedGeneration": 1, "converged": true})
	})

	srv := httptest.NewServer(mux)
	fc.url = srv.URL
	return srv
}

func newTestManager(t *testing.T) (*Manager, *httptest.Server) {
	srv := newFakeConfigServer()
	cfg := store.Config{ConfigURL: srv.URL, ConvergencePollEvery: 5 * time.Millisecond, ConvergenceTimeout: time.Second}
	client := store.NewClient(cfg, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	appMgr := appmanager.New(client, func() time.Time { return fixed }, nil)
	lockClient := lock.New(newFakeCoordinator(), lock.DefaultConfig(), nil)
	mgr := New(client, appMgr, lockClient, Config{ConvergenceTimeout: time.Second}, nil)
	return mgr, srv
}

func testStructuredIndex(name string) *model.StructuredIndex {
	idx := &model.StructuredIndex{
		Index: model.Index{
			Name:              name,
			SchemaName:        name,
			Type:              model.IndexTypeStructured,
			DistanceMetric:    model.DistanceMetricAngular,
			VectorNumericType: model.VectorNumericFloat32,
			HNSW:              model.HNSWConfig{EfConstruction: 128, M: 16},
		},
		Fields: []model.Field{
			{Name: "title", Type: model.FieldTypeText, Features: []model.Feature{model.FeatureLexicalSearch}},
		},
		TensorFields: []model.TensorField{{Name: "title"}},
	}
	idx.Fields[0].DerivedNames()
	idx.TensorFields[0].DerivedNames()
	return idx
}

func TestCreateIndex_Succeeds(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()

	err := mgr.CreateIndex(context.Background(), testStructuredIndex("idx1"))
	require.NoError(t, err)
}

func TestCreateIndex_RejectsInvalidName(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()

	idx := testStructuredIndex("idx1")
	idx.Name = "marqo__reserved"
	err := mgr.CreateIndex(context.Background(), idx)
	require.Error(t, err)
	require.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestDeleteIndexByName_AfterCreate(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, mgr.CreateIndex(ctx, testStructuredIndex("idx1")))
	require.NoError(t, mgr.DeleteIndexByName(ctx, "idx1"))

	err := mgr.DeleteIndexByName(ctx, "idx1")
	require.Error(t, err)
	require.Equal(t, apperr.KindIndexNotFound, apperr.KindOf(err))
}

func TestEvolveSemiStructuredSchema_NoOpWhenNothingNew(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()

	current := &model.SemiStructuredIndex{
		Index:         model.Index{Name: "docs", SchemaName: "docs", Type: model.IndexTypeSemiStructured},
		LexicalFields: []string{"body"},
	}
	next, err := mgr.EvolveSemiStructuredSchema(context.Background(), current, []string{"body"}, nil, nil)
	require.NoError(t, err)
	require.Same(t, current, next)
}

func TestEvolveSemiStructuredSchema_DeploysOnGrowth(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	current := &model.SemiStructuredIndex{
		Index: model.Index{
			Name: "docs", SchemaName: "docs", Type: model.IndexTypeSemiStructured,
			DistanceMetric: model.DistanceMetricAngular, VectorNumericType: model.VectorNumericFloat32,
			HNSW: model.HNSWConfig{EfConstruction: 128, M: 16},
		},
	}
	require.NoError(t, mgr.CreateSemiStructuredIndex(ctx, current))

	next, err := mgr.EvolveSemiStructuredSchema(ctx, current, []string{"body"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, current.Version+1, next.Version)
	require.Contains(t, next.LexicalFields, "body")
}

func TestBootstrap_ReturnsTrueOnFirstCall(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()

	did, err := mgr.Bootstrap(context.Background(), "<query-profile/>")
	require.NoError(t, err)
	require.True(t, did)
}

func TestGetIndex_ReturnsCreatedStructuredIndex(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, mgr.CreateIndex(ctx, testStructuredIndex("idx1")))

	def, err := mgr.GetIndex(ctx, "idx1")
	require.NoError(t, err)
	structured, ok := def.(*model.StructuredIndex)
	require.True(t, ok)
	require.Equal(t, "idx1", structured.Base().Name)
	require.Len(t, structured.Fields, 1)
	require.Equal(t, "title", structured.Fields[0].Name)
	require.Equal(t, model.ReservedPrefix+"lexical_title", structured.Fields[0].LexicalFieldName)
}

func TestGetIndex_NotFoundForUnknownName(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()

	_, err := mgr.GetIndex(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, apperr.KindIndexNotFound, apperr.KindOf(err))
}

func TestGetAllIndexes_ReturnsEveryCreatedIndexSortedByName(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, mgr.CreateIndex(ctx, testStructuredIndex("bravo")))
	require.NoError(t, mgr.CreateIndex(ctx, testStructuredIndex("alpha")))

	defs, err := mgr.GetAllIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "alpha", defs[0].Base().Name)
	require.Equal(t, "bravo", defs[1].Base().Name)
}

func TestEvolveSemiStructuredSchema_VisibleThroughGetIndex(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	current := &model.SemiStructuredIndex{
		Index: model.Index{
			Name: "docs", SchemaName: "docs", Type: model.IndexTypeSemiStructured,
			DistanceMetric: model.DistanceMetricAngular, VectorNumericType: model.VectorNumericFloat32,
			HNSW: model.HNSWConfig{EfConstruction: 128, M: 16},
		},
	}
	require.NoError(t, mgr.CreateSemiStructuredIndex(ctx, current))
	_, err := mgr.EvolveSemiStructuredSchema(ctx, current, []string{"body"}, nil, nil)
	require.NoError(t, err)

	def, err := mgr.GetIndex(ctx, "docs")
	require.NoError(t, err)
	semi, ok := def.(*model.SemiStructuredIndex)
	require.True(t, ok)
	require.Equal(t, 2, semi.Version)
	require.Contains(t, semi.LexicalFields, "body")
}
