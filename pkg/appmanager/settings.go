// Package appmanager is the Application Package Manager (spec §4.2):
// it owns the contents of the deployed schema bundle (services.xml,
// query profiles, per-index .sd schema files, the index-settings map
// and its append-only history, and the rollback archive).
//
// Grounded on the teacher's write-ahead-log/snapshot pattern
// (pkg/storage/wal.go — log mutations, snapshot for recovery) adapted
// into an append-only settings history plus a tar.gz "previous bundle"
// snapshot (app_bak.tgz), and on badger_transaction.go's
// read-modify-write session shape, re-grounded onto the Store Client's
// deployment sessions.
package appmanager

import (
	"encoding/json"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
)

// IndexSettings is the persisted representation of one index's
// definition inside marqo_index_settings.json (§4.2, §6.2). It is a
// JSON-friendly projection of pkg/model's Index variants — the
// Application Package Manager does not depend on pkg/model directly
// so that bundle file formats stay decoupled from the in-process
// model's Go shape.
type IndexSettings struct {
	Name       string          `json:"name"`
	SchemaName string          `json:"schemaName"`
	Type       string          `json:"type"`
	Version    int             `json:"version"`
	SchemaText string          `json:"-"` // rendered .sd text, not itself persisted in the map
	Raw        json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// NewIndexSettings marshals an arbitrary index-definition value (one of
// the model package's three Index variants) into the bundle's JSON
// representation.
func NewIndexSettings(name, schemaName, typ string, version int, schemaText string, settings any, now time.Time) (IndexSettings, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return IndexSettings{}, apperr.Wrap(apperr.KindGeneric, "marshal index definition", err)
	}
	return IndexSettings{
		Name:       name,
		SchemaName: schemaName,
		Type:       typ,
		Version:    version,
		SchemaText: schemaText,
		Raw:        raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// SettingsMap is the decoded shape of marqo_index_settings.json.
type SettingsMap map[string]IndexSettings

// HistoryEntry is one append-only record in
// marqo_index_settings_history.json.
type HistoryEntry struct {
	IndexName string          `json:"indexName"`
	Action    string          `json:"action"` // "create", "delete", "update", "rollback"
	Version   int             `json:"version"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Timestamp time.Time       `json:"timestamp"`
}

func decodeSettingsMap(data []byte) (SettingsMap, error) {
	if len(data) == 0 {
		return SettingsMap{}, nil
	}
	var m SettingsMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "decode marqo_index_settings.json", err)
	}
	return m, nil
}

func encodeSettingsMap(m SettingsMap) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "encode marqo_index_settings.json", err)
	}
	return data, nil
}

func decodeHistory(data []byte) ([]HistoryEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var h []HistoryEntry
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "decode marqo_index_settings_history.json", err)
	}
	return h, nil
}

func encodeHistory(h []HistoryEntry) ([]byte, error) {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "encode marqo_index_settings_history.json", err)
	}
	return data, nil
}
