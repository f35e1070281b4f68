package appmanager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/modelcache"
	"github.com/marqocore/vespacore/pkg/store"
)

const marqoConfigVersion = "1"

// Manager is the Application Package Manager (§4.2). One Manager wraps
// a single Store Client and mediates every mutation to the deployed
// schema bundle through edit/deploy/activate sessions.
type Manager struct {
	client   *store.Client
	clock    func() time.Time
	sessions *modelcache.Cache
}

// New builds a Manager over client. clock defaults to time.Now and
// exists as a seam for deterministic history-entry timestamps in tests.
// sessions is optional session-record bookkeeping (see OpenSession);
// nil disables it.
func New(client *store.Client, clock func() time.Time, sessions *modelcache.Cache) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{client: client, clock: clock, sessions: sessions}
}

func (m *Manager) openSession(ctx context.Context) (*Bundle, error) {
	return OpenSession(ctx, m.client, m.sessions)
}

func (m *Manager) loadSettings(ctx context.Context, b *Bundle) (SettingsMap, error) {
	data, _, err := b.Read(ctx, pathIndexSettings)
	if err != nil {
		return nil, err
	}
	return decodeSettingsMap(data)
}

func (m *Manager) loadHistory(ctx context.Context, b *Bundle) ([]HistoryEntry, error) {
	data, _, err := b.Read(ctx, pathIndexHistory)
	if err != nil {
		return nil, err
	}
	return decodeHistory(data)
}

func (m *Manager) writeSettings(b *Bundle, settings SettingsMap) error {
	data, err := encodeSettingsMap(settings)
	if err != nil {
		return err
	}
	b.Set(pathIndexSettings, data)
	return nil
}

func (m *Manager) writeHistory(b *Bundle, history []HistoryEntry) error {
	data, err := encodeHistory(history)
	if err != nil {
		return err
	}
	b.Set(pathIndexHistory, data)
	return nil
}

// GetIndexSettings returns the currently deployed definition of name, or
// found=false if no such index exists. Read-only: it opens and discards
// a session without ever committing an edit.
func (m *Manager) GetIndexSettings(ctx context.Context, name string) (entry IndexSettings, found bool, err error) {
	b, err := m.openSession(ctx)
	if err != nil {
		return IndexSettings{}, false, err
	}
	defer b.Discard()

	settings, err := m.loadSettings(ctx, b)
	if err != nil {
		return IndexSettings{}, false, err
	}
	entry, found = settings[name]
	return entry, found, nil
}

// GetAllIndexSettings returns every currently deployed index definition,
// keyed by name. Read-only, same as GetIndexSettings.
func (m *Manager) GetAllIndexSettings(ctx context.Context) (SettingsMap, error) {
	b, err := m.openSession(ctx)
	if err != nil {
		return nil, err
	}
	defer b.Discard()

	return m.loadSettings(ctx, b)
}

func (m *Manager) writeServicesXML(b *Bundle, settings SettingsMap) error {
	names := make([]string, 0, len(settings))
	for _, s := range settings {
		names = append(names, s.SchemaName)
	}
	b.Set(pathServicesXML, []byte(renderServicesXML(names)))
	return nil
}

// NewIndexRequest is one (schema, definition, renderedSchemaText)
// tuple as submitted to BatchAddIndexSettingAndSchema.
type NewIndexRequest struct {
	IndexName  string
	SchemaName string
	Type       string
	SchemaText string
	Settings   any
}

// BatchAddIndexSettingAndSchema adds every requested index in one
// session. Refuses — discarding the session without deploying — if any
// requested name already exists (§4.2).
func (m *Manager) BatchAddIndexSettingAndSchema(ctx context.Context, reqs []NewIndexRequest) error {
	b, err := m.openSession(ctx)
	if err != nil {
		return err
	}

	settings, err := m.loadSettings(ctx, b)
	if err != nil {
		return err
	}

	for _, r := range reqs {
		if _, exists := settings[r.IndexName]; exists {
			b.Discard()
			return apperr.Newf(apperr.KindIndexExists, "index %q already exists", r.IndexName)
		}
	}

	now := m.clock()
	for _, r := range reqs {
		entry, err := NewIndexSettings(r.IndexName, r.SchemaName, r.Type, 1, r.SchemaText, r.Settings, now)
		if err != nil {
			b.Discard()
			return err
		}
		settings[r.IndexName] = entry
		b.Set(schemaPath(r.SchemaName), []byte(r.SchemaText))
	}

	if err := m.writeServicesXML(b, settings); err != nil {
		b.Discard()
		return err
	}
	if err := m.writeSettings(b, settings); err != nil {
		b.Discard()
		return err
	}
	return b.Commit(ctx)
}

// BatchDeleteIndexSettingAndSchema removes every named index in one
// session, appending each removed setting to history. Refuses if any
// name is missing (§4.2).
func (m *Manager) BatchDeleteIndexSettingAndSchema(ctx context.Context, indexNames []string) error {
	b, err := m.openSession(ctx)
	if err != nil {
		return err
	}

	settings, err := m.loadSettings(ctx, b)
	if err != nil {
		return err
	}
	for _, name := range indexNames {
		if _, ok := settings[name]; !ok {
			b.Discard()
			return apperr.Newf(apperr.KindIndexNotFound, "index %q does not exist", name)
		}
	}

	history, err := m.loadHistory(ctx, b)
	if err != nil {
		return err
	}

	now := m.clock()
	for _, name := range indexNames {
		removed := settings[name]
		b.Delete(schemaPath(removed.SchemaName))
		delete(settings, name)
		history = append(history, HistoryEntry{
			IndexName: name,
			Action:    "delete",
			Version:   removed.Version,
			Snapshot:  removed.Raw,
			Timestamp: now,
		})
	}

	if err := m.writeServicesXML(b, settings); err != nil {
		b.Discard()
		return err
	}
	if err := m.writeSettings(b, settings); err != nil {
		b.Discard()
		return err
	}
	if err := m.writeHistory(b, history); err != nil {
		b.Discard()
		return err
	}
	return b.Commit(ctx)
}

// UpdateIndexSettingAndSchema applies an in-place schema evolution for
// a SemiStructured index (§4.2, §4.3's growth path). The caller
// supplies the new version and rendered schema text; a target version
// that does not strictly exceed the currently-deployed version raises
// OperationConflict, signalling the Index Manager to reload state and
// retry with the fresh version.
func (m *Manager) UpdateIndexSettingAndSchema(ctx context.Context, req NewIndexRequest, targetVersion int) error {
	b, err := m.openSession(ctx)
	if err != nil {
		return err
	}

	settings, err := m.loadSettings(ctx, b)
	if err != nil {
		return err
	}
	current, ok := settings[req.IndexName]
	if !ok {
		b.Discard()
		return apperr.Newf(apperr.KindIndexNotFound, "index %q does not exist", req.IndexName)
	}
	if targetVersion <= current.Version {
		b.Discard()
		return apperr.Newf(apperr.KindOperationConflict, "index %q was updated concurrently: target version %d <= deployed version %d", req.IndexName, targetVersion, current.Version)
	}

	now := m.clock()
	entry, err := NewIndexSettings(req.IndexName, req.SchemaName, req.Type, targetVersion, req.SchemaText, req.Settings, now)
	if err != nil {
		b.Discard()
		return err
	}
	entry.CreatedAt = current.CreatedAt
	settings[req.IndexName] = entry
	b.Set(schemaPath(req.SchemaName), []byte(req.SchemaText))
	if err := m.writeSettings(b, settings); err != nil {
		b.Discard()
		return err
	}
	return b.Commit(ctx)
}

// Bootstrap installs the query profile and marqo_config.json marker if
// absent, and is a no-op if this version is already recorded (§4.2).
// It returns true if it performed any work.
func (m *Manager) Bootstrap(ctx context.Context, queryProfileXML string) (bool, error) {
	b, err := m.openSession(ctx)
	if err != nil {
		return false, err
	}

	configData, found, err := b.Read(ctx, pathMarqoConfig)
	if err != nil {
		b.Discard()
		return false, err
	}
	if found {
		var existing struct {
			Version string `json:"version"`
		}
		if decodeErr := json.Unmarshal(configData, &existing); decodeErr == nil && existing.Version == marqoConfigVersion {
			b.Discard()
			return false, nil
		}
	}

	settings, err := m.loadSettings(ctx, b)
	if err != nil {
		b.Discard()
		return false, err
	}
	if len(settings) == 0 {
		settings = SettingsMap{}
	}

	b.Set(pathQueryProfile, []byte(queryProfileXML))
	configBytes, err := json.Marshal(map[string]string{"version": marqoConfigVersion})
	if err != nil {
		b.Discard()
		return false, apperr.Wrap(apperr.KindGeneric, "encode marqo_config.json", err)
	}
	b.Set(pathMarqoConfig, configBytes)

	if found {
		// Every bootstrap after the very first writes a fresh backup
		// archive so rollback always has something to restore to.
		if err := m.writeBackupArchive(ctx, b, settings); err != nil {
			b.Discard()
			return false, err
		}
	}
	if err := m.writeServicesXML(b, settings); err != nil {
		b.Discard()
		return false, err
	}
	if err := m.writeSettings(b, settings); err != nil {
		b.Discard()
		return false, err
	}
	if err := b.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
