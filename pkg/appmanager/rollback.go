package appmanager

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/marqocore/vespacore/pkg/apperr"
)

// backupManifest is the JSON sidecar baked as the first entry of
// app_bak.tgz, recording the version the archive can restore to and
// the schema-file set / services.xml it captured, so Rollback can
// validate compatibility before ever touching the live bundle.
type backupManifest struct {
	Version      int      `json:"version"`
	SchemaFiles  []string `json:"schemaFiles"`
	ServicesXML  []byte   `json:"servicesXml"`
}

const backupManifestEntry = "MANIFEST.json"

func encodeManifest(m backupManifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "encode backup manifest", err)
	}
	return data, nil
}

func decodeManifest(data []byte) (backupManifest, error) {
	var m backupManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return backupManifest{}, apperr.Wrap(apperr.KindGeneric, "decode backup manifest", err)
	}
	return m, nil
}

// writeBackupArchive snapshots every schema file plus services.xml into
// app_bak.tgz (§4.2), grounded on the teacher's WAL snapshot step
// (pkg/storage/wal.go) — a point-in-time capture written alongside
// (never instead of) the live files being mutated. The query profile is
// not included in the archive.
func (m *Manager) writeBackupArchive(ctx context.Context, b *Bundle, settings SettingsMap) error {
	servicesXML, _ := b.Get(pathServicesXML)
	if servicesXML == nil {
		servicesXML, _, _ = b.Read(ctx, pathServicesXML)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	schemaFiles := make([]string, 0, len(settings))
	maxVersion := 0
	for _, s := range settings {
		schemaFiles = append(schemaFiles, schemaPath(s.SchemaName))
		if s.Version > maxVersion {
			maxVersion = s.Version
		}
	}

	manifest, err := encodeManifest(backupManifest{
		Version:     maxVersion,
		SchemaFiles: schemaFiles,
		ServicesXML: servicesXML,
	})
	if err != nil {
		return err
	}
	if err := writeTarEntry(tw, backupManifestEntry, manifest); err != nil {
		return apperr.Wrap(apperr.KindGeneric, "write backup manifest", err)
	}
	if err := writeTarEntry(tw, pathServicesXML, servicesXML); err != nil {
		return apperr.Wrap(apperr.KindGeneric, "write backup services.xml", err)
	}
	for _, s := range settings {
		text, ok := b.Get(schemaPath(s.SchemaName))
		if !ok {
			var readErr error
			text, ok, readErr = b.Read(ctx, schemaPath(s.SchemaName))
			if readErr != nil {
				return apperr.Wrap(apperr.KindGeneric, "read schema file for backup", readErr)
			}
		}
		if !ok {
			text = []byte(s.SchemaText)
		}
		if err := writeTarEntry(tw, schemaPath(s.SchemaName), text); err != nil {
			return apperr.Wrap(apperr.KindGeneric, "write backup schema file", err)
		}
	}
	if err := tw.Close(); err != nil {
		return apperr.Wrap(apperr.KindGeneric, "close backup tar writer", err)
	}
	if err := gz.Close(); err != nil {
		return apperr.Wrap(apperr.KindGeneric, "close backup gzip writer", err)
	}

	b.Set(pathBackupArchive, buf.Bytes())
	return nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func readBackupArchive(data []byte) (backupManifest, map[string][]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return backupManifest{}, nil, apperr.Wrap(apperr.KindGeneric, "open backup archive", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	var manifest backupManifest
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return backupManifest{}, nil, apperr.Wrap(apperr.KindGeneric, "read backup archive", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return backupManifest{}, nil, apperr.Wrap(apperr.KindGeneric, "read backup archive entry", err)
		}
		if hdr.Name == backupManifestEntry {
			manifest, err = decodeManifest(data)
			if err != nil {
				return backupManifest{}, nil, err
			}
			continue
		}
		files[hdr.Name] = data
	}
	return manifest, files, nil
}

// Rollback restores the bundle to the state captured in app_bak.tgz
// (§4.2). It refuses when the archive's recorded version does not
// precede the currently-deployed version, when the schema file set
// changed since the backup was taken, or when services.xml's cluster
// topology changed — any of those means the backup no longer describes
// a state this deployment can safely return to.
func (m *Manager) Rollback(ctx context.Context) error {
	b, err := m.openSession(ctx)
	if err != nil {
		return err
	}

	archiveData, found, err := b.Read(ctx, pathBackupArchive)
	if err != nil {
		b.Discard()
		return err
	}
	if !found {
		b.Discard()
		return apperr.New(apperr.KindOperationConflict, "no backup archive available to roll back to")
	}

	manifest, files, err := readBackupArchive(archiveData)
	if err != nil {
		b.Discard()
		return err
	}

	settings, err := m.loadSettings(ctx, b)
	if err != nil {
		b.Discard()
		return err
	}
	currentVersion := 0
	currentSchemaFiles := make([]string, 0, len(settings))
	for _, s := range settings {
		currentSchemaFiles = append(currentSchemaFiles, schemaPath(s.SchemaName))
		if s.Version > currentVersion {
			currentVersion = s.Version
		}
	}

	if manifest.Version >= currentVersion {
		b.Discard()
		return apperr.Newf(apperr.KindOperationConflict, "backup version %d is not older than deployed version %d", manifest.Version, currentVersion)
	}
	if !sameStringSet(manifest.SchemaFiles, currentSchemaFiles) {
		b.Discard()
		return apperr.New(apperr.KindOperationConflict, "schema file set changed since the backup was taken")
	}

	liveServicesXML, _, err := b.Read(ctx, pathServicesXML)
	if err != nil {
		b.Discard()
		return err
	}
	if topologyChanged(manifest.ServicesXML, liveServicesXML) {
		b.Discard()
		return apperr.New(apperr.KindOperationConflict, "cluster topology changed since the backup was taken")
	}

	for name, data := range files {
		b.Set(name, data)
	}

	history, err := m.loadHistory(ctx, b)
	if err != nil {
		b.Discard()
		return err
	}
	history = append(history, HistoryEntry{
		IndexName: "",
		Action:    "rollback",
		Version:   manifest.Version,
		Timestamp: m.clock(),
	})
	if err := m.writeHistory(b, history); err != nil {
		b.Discard()
		return err
	}

	return b.Commit(ctx)
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}

// topologyChanged compares the set of schema names declared in
// services.xml — the cluster/admin structure this layer ever writes —
// rather than a byte-for-byte diff, so unrelated whitespace
// re-rendering never trips a false rollback refusal.
func topologyChanged(backup, live []byte) bool {
	return !sameStringSet(extractSchemaNames(backup), extractSchemaNames(live))
}
