package appmanager

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
	"github.com/marqocore/vespacore/pkg/store"
	"github.com/stretchr/testify/require"
)

// fakeConfigServer emulates just enough of the config-cluster session
// protocol (session create, file PUT/GET/DELETE, prepare, activate)
// for the Application Package Manager to exercise a full deploy round
// trip against an httptest server.
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
			body, _ := io.ReadAll(r.Body)
			fc.files[rel] = body
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

	srv := httptest.NewServer(mux)
	fc.url = srv.URL
	return srv
}

func newTestManager(t *testing.T) (*Manager, *httptest.Server) {
	srv := newFakeConfigServer()
	cfg := store.Config{ConfigURL: srv.URL}
	client := store.NewClient(cfg, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr := New(client, func() time.Time { return fixed }, nil)
	return mgr, srv
}

func TestBatchAddIndexSettingAndSchema_RefusesDuplicateName(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	reqs := []NewIndexRequest{{IndexName: "idx1", SchemaName: "idx1", Type: "Structured", SchemaText: "schema idx1 {}", Settings: map[string]any{"a": 1}}}
	require.NoError(t, mgr.BatchAddIndexSettingAndSchema(ctx, reqs))

	err := mgr.BatchAddIndexSettingAndSchema(ctx, reqs)
	require.Error(t, err)
	require.Equal(t, apperr.KindIndexExists, apperr.KindOf(err))
}

func TestBatchDeleteIndexSettingAndSchema_RefusesMissingName(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	err := mgr.BatchDeleteIndexSettingAndSchema(ctx, []string{"missing"})
	require.Error(t, err)
	require.Equal(t, apperr.KindIndexNotFound, apperr.KindOf(err))
}

func TestBatchDeleteIndexSettingAndSchema_RemovesAddedIndex(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, mgr.BatchAddIndexSettingAndSchema(ctx, []NewIndexRequest{
		{IndexName: "idx1", SchemaName: "idx1", Type: "Structured", SchemaText: "schema idx1 {}", Settings: map[string]any{}},
	}))
	require.NoError(t, mgr.BatchDeleteIndexSettingAndSchema(ctx, []string{"idx1"}))

	err := mgr.BatchDeleteIndexSettingAndSchema(ctx, []string{"idx1"})
	require.Error(t, err)
	require.Equal(t, apperr.KindIndexNotFound, apperr.KindOf(err))
}

func TestUpdateIndexSettingAndSchema_ConflictsOnStaleVersion(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, mgr.BatchAddIndexSettingAndSchema(ctx, []NewIndexRequest{
		{IndexName: "idx1", SchemaName: "idx1", Type: "SemiStructured", SchemaText: "schema idx1 {}", Settings: map[string]any{}},
	}))

	err := mgr.UpdateIndexSettingAndSchema(ctx, NewIndexRequest{
		IndexName: "idx1", SchemaName: "idx1", Type: "SemiStructured", SchemaText: "schema idx1 { field a }", Settings: map[string]any{},
	}, 1)
	require.Error(t, err)
	require.Equal(t, apperr.KindOperationConflict, apperr.KindOf(err))

	require.NoError(t, mgr.UpdateIndexSettingAndSchema(ctx, NewIndexRequest{
		IndexName: "idx1", SchemaName: "idx1", Type: "SemiStructured", SchemaText: "schema idx1 { field a }", Settings: map[string]any{},
	}, 2))
}

func TestBootstrap_IsIdempotent(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	did, err := mgr.Bootstrap(ctx, "<query-profile/>")
	require.NoError(t, err)
	require.True(t, did)

	did, err = mgr.Bootstrap(ctx, "<query-profile/>")
	require.NoError(t, err)
	require.False(t, did)
}

func TestRollback_RefusesWhenNoBackupExists(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	err := mgr.Rollback(ctx)
	require.Error(t, err)
	require.Equal(t, apperr.KindOperationConflict, apperr.KindOf(err))
}

func TestRollback_RefusesAfterIdempotentBootstrapNoOp(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, mgr.BatchAddIndexSettingAndSchema(ctx, []NewIndexRequest{
		{IndexName: "idx1", SchemaName: "idx1", Type: "Structured", SchemaText: "schema idx1 { v1 }", Settings: map[string]any{}},
	}))
	_, err := mgr.Bootstrap(ctx, "<query-profile/>")
	require.NoError(t, err)
	// The second bootstrap call is a no-op (marker already records the
	// current version), so it never reaches the backup-writing branch;
	// no app_bak.tgz exists and rollback must refuse.
	did, err := mgr.Bootstrap(ctx, "<query-profile/>")
	require.NoError(t, err)
	require.False(t, did)

	err = mgr.Rollback(ctx)
	require.Error(t, err)
	require.Equal(t, apperr.KindOperationConflict, apperr.KindOf(err))
}

func TestGetIndexSettings_ReturnsAddedIndexAndMissesUnknown(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, mgr.BatchAddIndexSettingAndSchema(ctx, []NewIndexRequest{
		{IndexName: "idx1", SchemaName: "idx1", Type: "Structured", SchemaText: "schema idx1 {}", Settings: map[string]any{"k": "v"}},
	}))

	entry, found, err := mgr.GetIndexSettings(ctx, "idx1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "idx1", entry.SchemaName)
	require.Contains(t, string(entry.Raw), `"k":"v"`)

	_, found, err = mgr.GetIndexSettings(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetAllIndexSettings_ReturnsEveryAddedIndex(t *testing.T) {
	mgr, srv := newTestManager(t)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, mgr.BatchAddIndexSettingAndSchema(ctx, []NewIndexRequest{
		{IndexName: "idx1", SchemaName: "idx1", Type: "Structured", SchemaText: "schema idx1 {}", Settings: map[string]any{}},
		{IndexName: "idx2", SchemaName: "idx2", Type: "Structured", SchemaText: "schema idx2 {}", Settings: map[string]any{}},
	}))

	settings, err := mgr.GetAllIndexSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	require.Contains(t, settings, "idx1")
	require.Contains(t, settings, "idx2")
}

func TestSameStringSet(t *testing.T) {
	require.True(t, sameStringSet([]string{"a", "b"}, []string{"b", "a"}))
	require.False(t, sameStringSet([]string{"a"}, []string{"a", "b"}))
}

func TestRenderAndExtractServicesXML_RoundTrips(t *testing.T) {
	xml := renderServicesXML([]string{"idx2", "idx1"})
	names := extractSchemaNames([]byte(xml))
	require.Equal(t, []string{"idx1", "idx2"}, names)
}

func TestNewIndexSettings_MarshalsSettings(t *testing.T) {
	s, err := NewIndexSettings("idx1", "idx1", "Structured", 1, "schema idx1 {}", map[string]any{"k": "v"}, time.Now())
	require.NoError(t, err)
	require.Contains(t, string(s.Raw), `"k":"v"`)
}
