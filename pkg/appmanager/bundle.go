package appmanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/modelcache"
	"github.com/marqocore/vespacore/pkg/store"
)

// File path conventions inside the deployed bundle (§4.2).
const (
	pathServicesXML     = "services.xml"
	pathQueryProfile     = "search/query-profiles/default.xml"
	pathIndexSettings    = "marqo_index_settings.json"
	pathIndexHistory     = "marqo_index_settings_history.json"
	pathMarqoConfig      = "marqo_config.json"
	pathBackupArchive    = "app_bak.tgz"
	schemaDir            = "schemas/"
)

func schemaPath(schemaName string) string {
	return schemaDir + schemaName + ".sd"
}

// Bundle is an in-memory view of a deployment session's files: the
// content already downloaded from the store, plus any local edits not
// yet committed. It mirrors the teacher's write-ahead-log shape
// (pkg/storage/wal.go) — edits accumulate in memory and are flushed as
// one unit — re-grounded onto the Store Client's session PUT/DELETE
// protocol instead of an on-disk log file.
type Bundle struct {
	client   *store.Client
	session  *store.Session
	sessions *modelcache.Cache

	// files holds the known current content of every tracked path,
	// seeded from the live bundle and updated in place as edits apply.
	files map[string][]byte
	// dirty records paths mutated since the session opened, and
	// whether the mutation was a delete (value false) or a write
	// (value true). Only dirty paths are sent over the wire on Commit.
	dirty map[string]bool
}

// OpenSession creates a new deployment session and wraps it in a
// Bundle whose known files are exactly those the caller seeds via
// Seed; the Application Package Manager only reads/writes the small
// set of files it owns (services.xml, query profile, schemas,
// settings/history/config/backup), so there is no need to download
// the entire application package up front.
//
// sessions, if non-nil, persists a modelcache.SessionRecord for the
// life of the open session (§4.2/§9): a process crash between
// CreateDeploymentSession and Commit/Discard leaves an orphaned
// config-server session behind, and ListSessions lets an operator
// find it for cleanup across a restart.
func OpenSession(ctx context.Context, client *store.Client, sessions *modelcache.Cache) (*Bundle, error) {
	sess, err := client.CreateDeploymentSession(ctx)
	if err != nil {
		return nil, err
	}
	if sessions != nil {
		_ = sessions.PutSession(modelcache.SessionRecord{
			SessionID:      sess.SessionID,
			ContentBaseURL: sess.ContentBaseURL,
			PrepareURL:     sess.PrepareURL,
			State:          "open",
			CreatedAt:      time.Now(),
		})
	}
	return &Bundle{
		client:   client,
		session:  sess,
		sessions: sessions,
		files:    make(map[string][]byte),
		dirty:    make(map[string]bool),
	}, nil
}

// Seed records the known current content of path without marking it
// dirty, so Get can return it before any local edit.
func (b *Bundle) Seed(path string, data []byte) {
	b.files[path] = data
}

// Get returns the last-known content of path, or (nil, false) if the
// bundle has no knowledge of it (caller should treat as absent).
func (b *Bundle) Get(path string) ([]byte, bool) {
	data, ok := b.files[path]
	return data, ok
}

// Read returns path's content, lazily fetching it from the live
// session on first access and caching the result. A file the session
// does not yet have is reported as (nil, false, nil) — callers treat
// this as "not created yet" rather than an error.
func (b *Bundle) Read(ctx context.Context, path string) ([]byte, bool, error) {
	if data, ok := b.files[path]; ok {
		return data, true, nil
	}
	data, found, err := b.client.GetSessionFile(ctx, b.session, "/"+path)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	b.files[path] = data
	return data, true, nil
}

// Set stages a write to path.
func (b *Bundle) Set(path string, data []byte) {
	b.files[path] = data
	b.dirty[path] = true
}

// Delete stages a removal of path.
func (b *Bundle) Delete(path string) {
	delete(b.files, path)
	b.dirty[path] = false
}

// deletedPaths reports which dirty paths are deletions vs writes.
func (b *Bundle) deletedPaths() []string {
	var out []string
	for p, write := range b.dirty {
		if !write {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Bundle) writtenPaths() []string {
	var out []string
	for p, write := range b.dirty {
		if write {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Discard abandons all staged edits without deploying; used on the
// all-or-nothing rejection paths of §4.2's batch operations.
func (b *Bundle) Discard() {
	b.dirty = make(map[string]bool)
	if b.sessions != nil {
		_ = b.sessions.DeleteSession(b.session.SessionID)
	}
}

// Commit pushes every staged edit to the session, then prepares and
// activates it (§4.2's deploy protocol). ActivationConflict is
// translated to OperationConflict so the caller (the Index Manager)
// can treat it uniformly with lock-contention failures.
func (b *Bundle) Commit(ctx context.Context) error {
	for _, path := range b.writtenPaths() {
		if err := b.client.PutSessionFile(ctx, b.session, "/"+path, b.files[path]); err != nil {
			return err
		}
	}
	for _, path := range b.deletedPaths() {
		if err := b.client.DeleteSessionFile(ctx, b.session, "/"+path); err != nil {
			return err
		}
	}
	if err := b.client.PrepareAndActivate(ctx, b.session); err != nil {
		if apperr.Is(err, apperr.KindActivationConflict) {
			return apperr.Wrap(apperr.KindOperationConflict, "application activation conflicted with a concurrent deploy", err)
		}
		return err
	}
	b.dirty = make(map[string]bool)
	if b.sessions != nil {
		_ = b.sessions.DeleteSession(b.session.SessionID)
	}
	return nil
}

// renderServicesXML renders a minimal but well-formed services.xml carrying
// one content.documents.document entry per schema name, in
// deterministic (sorted) order so re-renders are byte-stable.
func renderServicesXML(schemaNames []string) string {
	sorted := append([]string(nil), schemaNames...)
	sort.Strings(sorted)

	var docs strings.Builder
	for _, name := range sorted {
		fmt.Fprintf(&docs, "      <document type=\"%s\" mode=\"index\"/>\n", name)
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<services version="1.0">
  <container id="marqocore_container" version="1.0">
    <search/>
    <document-api/>
    <nodes>
      <node hostalias="node1"/>
    </nodes>
  </container>
  <content id="marqocore_content" version="1.0">
    <redundancy>1</redundancy>
    <documents>
%s    </documents>
    <nodes>
      <node hostalias="node1" distribution-key="0"/>
    </nodes>
  </content>
</services>
`, docs.String())
}

// extractSchemaNames parses the document type="..." entries out of a
// services.xml blob. This is a narrow, line-oriented scan rather than a
// full XML parse — the Application Package Manager only ever reads back
// services.xml it rendered itself via renderServicesXML, so the format
// is fixed and a general-purpose XML library buys nothing here; see
// DESIGN.md for the justification.
func extractSchemaNames(servicesXML []byte) []string {
	var names []string
	for _, line := range strings.Split(string(servicesXML), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "<document ") {
			continue
		}
		const marker = `type="`
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(marker):]
		end := strings.Index(rest, `"`)
		if end < 0 {
			continue
		}
		names = append(names, rest[:end])
	}
	sort.Strings(names)
	return names
}
