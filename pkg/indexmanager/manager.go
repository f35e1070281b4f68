// Package indexmanager is the Index Manager (§4.3): the high-level
// lifecycle surface atop the Application Package Manager and the Store
// Client. Every public operation that mutates index state acquires the
// cluster-wide lock, waits for store convergence, dispatches to the
// Application Package Manager, and releases the lock on every exit
// path — mirroring the teacher's apoc/lock-gated mutation shape
// (acquire, do the work, release via defer) generalized from
// in-process node/relationship locks to a remote cluster-wide lease.
package indexmanager

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/appmanager"
	"github.com/marqocore/vespacore/pkg/indexmanager/schemagen"
	"github.com/marqocore/vespacore/pkg/lock"
	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/store"
)

// Manager is the Index Manager.
type Manager struct {
	store  *store.Client
	app    *appmanager.Manager
	locks  *lock.Client
	logger *log.Logger

	convergenceTimeout time.Duration
}

// Config controls lifecycle-operation timeouts.
type Config struct {
	ConvergenceTimeout time.Duration
}

func New(storeClient *store.Client, appMgr *appmanager.Manager, lockClient *lock.Client, cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	timeout := cfg.ConvergenceTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{store: storeClient, app: appMgr, locks: lockClient, logger: logger, convergenceTimeout: timeout}
}

// withLock acquires the cluster-wide indexes lock, waits for the store
// to converge, runs fn, and releases the lock on every exit path
// (§4.3 steps 1-4).
func (m *Manager) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	lease, err := m.locks.Acquire(ctx, lock.IndexesLockPath)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lease.Release(ctx); releaseErr != nil {
			m.logger.Printf("[indexmanager] failed to release lock: %v", releaseErr)
		}
	}()

	if err := m.store.WaitForApplicationConvergence(ctx, m.convergenceTimeout); err != nil {
		return err
	}
	return fn(ctx)
}

func structuredRequest(idx *model.StructuredIndex) appmanager.NewIndexRequest {
	return appmanager.NewIndexRequest{
		IndexName:  idx.Name,
		SchemaName: idx.SchemaName,
		Type:       string(model.IndexTypeStructured),
		SchemaText: schemagen.StructuredSchema(idx),
		Settings:   idx,
	}
}

func semiStructuredRequest(idx *model.SemiStructuredIndex) appmanager.NewIndexRequest {
	return appmanager.NewIndexRequest{
		IndexName:  idx.Name,
		SchemaName: idx.SchemaName,
		Type:       string(model.IndexTypeSemiStructured),
		SchemaText: schemagen.SemiStructuredSchema(idx),
		Settings:   idx,
	}
}

// CreateIndex creates a single Structured index.
func (m *Manager) CreateIndex(ctx context.Context, idx *model.StructuredIndex) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	if err := model.ValidateTensorFieldRefs(idx.Fields, idx.TensorFields); err != nil {
		return err
	}
	return m.withLock(ctx, func(ctx context.Context) error {
		return m.app.BatchAddIndexSettingAndSchema(ctx, []appmanager.NewIndexRequest{structuredRequest(idx)})
	})
}

// CreateSemiStructuredIndex creates a single SemiStructured index with
// the declared fields idx already carries (possibly none). idx.Version
// is set to 1, the version BatchAddIndexSettingAndSchema records for a
// new index, so the first EvolveSemiStructuredSchema deploys version 2.
func (m *Manager) CreateSemiStructuredIndex(ctx context.Context, idx *model.SemiStructuredIndex) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	idx.Version = 1
	return m.withLock(ctx, func(ctx context.Context) error {
		return m.app.BatchAddIndexSettingAndSchema(ctx, []appmanager.NewIndexRequest{semiStructuredRequest(idx)})
	})
}

// BatchCreateIndexes creates multiple Structured indexes atomically
// (§4.3, §4.2's all-or-nothing batch add).
func (m *Manager) BatchCreateIndexes(ctx context.Context, indexes []*model.StructuredIndex) error {
	for _, idx := range indexes {
		if err := idx.Validate(); err != nil {
			return err
		}
		if err := model.ValidateTensorFieldRefs(idx.Fields, idx.TensorFields); err != nil {
			return err
		}
	}
	reqs := make([]appmanager.NewIndexRequest, len(indexes))
	for i, idx := range indexes {
		reqs[i] = structuredRequest(idx)
	}
	return m.withLock(ctx, func(ctx context.Context) error {
		return m.app.BatchAddIndexSettingAndSchema(ctx, reqs)
	})
}

// DeleteIndexByName deletes a single index.
func (m *Manager) DeleteIndexByName(ctx context.Context, name string) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		return m.app.BatchDeleteIndexSettingAndSchema(ctx, []string{name})
	})
}

// BatchDeleteIndexesByName deletes multiple indexes atomically.
func (m *Manager) BatchDeleteIndexesByName(ctx context.Context, names []string) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		return m.app.BatchDeleteIndexSettingAndSchema(ctx, names)
	})
}

// EvolveSemiStructuredSchema is the update path described in §4.3: the
// Document Pipeline calls this whenever ingestion discovers a field not
// yet in current's declared set. It computes the union of existing and
// newly-observed fields, takes the no-op fast path when nothing grew,
// and otherwise deploys a new schema version. OperationConflict bubbles
// straight back to the caller, which is expected to reload current and
// retry.
func (m *Manager) EvolveSemiStructuredSchema(ctx context.Context, current *model.SemiStructuredIndex, newLexicalFields, newStringArrayFields []string, newTensorFields []model.TensorField) (*model.SemiStructuredIndex, error) {
	next := current.Clone()
	grewAny := unionStrings(&next.LexicalFields, newLexicalFields)
	grewAny = unionStrings(&next.StringArrayFields, newStringArrayFields) || grewAny
	grewAny = unionTensorFields(&next.TensorFields, newTensorFields) || grewAny

	if !grewAny {
		return current, nil
	}

	next.Version = current.Version + 1
	req := semiStructuredRequest(next)

	err := m.withLock(ctx, func(ctx context.Context) error {
		return m.app.UpdateIndexSettingAndSchema(ctx, req, next.Version)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func unionStrings(dst *[]string, additions []string) bool {
	set := make(map[string]bool, len(*dst))
	for _, s := range *dst {
		set[s] = true
	}
	grew := false
	for _, a := range additions {
		if !set[a] {
			*dst = append(*dst, a)
			set[a] = true
			grew = true
		}
	}
	return grew
}

func unionTensorFields(dst *[]model.TensorField, additions []model.TensorField) bool {
	set := make(map[string]bool, len(*dst))
	for _, f := range *dst {
		set[f.Name] = true
	}
	grew := false
	for _, a := range additions {
		if !set[a.Name] {
			*dst = append(*dst, a)
			set[a.Name] = true
			grew = true
		}
	}
	return grew
}

// decodeIndexDefinition unmarshals an Application Package Manager
// settings entry back into the concrete model variant its Type names.
func decodeIndexDefinition(entry appmanager.IndexSettings) (model.IndexDefinition, error) {
	switch entry.Type {
	case string(model.IndexTypeStructured):
		var idx model.StructuredIndex
		if err := json.Unmarshal(entry.Raw, &idx); err != nil {
			return nil, apperr.Wrap(apperr.KindGeneric, "decode structured index definition", err)
		}
		return &idx, nil
	case string(model.IndexTypeSemiStructured):
		var idx model.SemiStructuredIndex
		if err := json.Unmarshal(entry.Raw, &idx); err != nil {
			return nil, apperr.Wrap(apperr.KindGeneric, "decode semistructured index definition", err)
		}
		return &idx, nil
	case string(model.IndexTypeUnstructured):
		var idx model.UnstructuredIndex
		if err := json.Unmarshal(entry.Raw, &idx); err != nil {
			return nil, apperr.Wrap(apperr.KindGeneric, "decode unstructured index definition", err)
		}
		return &idx, nil
	default:
		return nil, apperr.Newf(apperr.KindGeneric, "unknown index type %q", entry.Type)
	}
}

// GetIndex returns the currently deployed definition of name (§4.3,
// §6.3's getIndex), or IndexNotFound if no such index exists.
func (m *Manager) GetIndex(ctx context.Context, name string) (model.IndexDefinition, error) {
	entry, found, err := m.app.GetIndexSettings(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.Newf(apperr.KindIndexNotFound, "index %q does not exist", name)
	}
	return decodeIndexDefinition(entry)
}

// GetAllIndexes returns every currently deployed index definition,
// sorted by name (§4.3, §6.3's getAllIndexes).
func (m *Manager) GetAllIndexes(ctx context.Context) ([]model.IndexDefinition, error) {
	settings, err := m.app.GetAllIndexSettings(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.IndexDefinition, 0, len(names))
	for _, name := range names {
		def, err := decodeIndexDefinition(settings[name])
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// Bootstrap is bootstrap_vespa(): safe to call repeatedly on every
// process start (§4.3).
func (m *Manager) Bootstrap(ctx context.Context, queryProfileXML string) (bool, error) {
	var did bool
	err := m.withLock(ctx, func(ctx context.Context) error {
		var bootstrapErr error
		did, bootstrapErr = m.app.Bootstrap(ctx, queryProfileXML)
		return bootstrapErr
	})
	return did, err
}

// Rollback restores the previously-deployed bundle (§4.2, invoked from
// the Index Manager so it participates in the same lock gating as
// every other lifecycle mutation).
func (m *Manager) Rollback(ctx context.Context) error {
	return m.withLock(ctx, func(ctx context.Context) error {
		return m.app.Rollback(ctx)
	})
}
