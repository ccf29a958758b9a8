// Package mirror maintains the local file tree that reflects the remote
// project docs. It consumes the raw docs payload observed on the wire,
// writes one file per document, prunes files that disappeared remotely, and
// keeps a TTL cache of the parsed inventory so tools can resolve a file name
// to a remote uuid without waiting for another fetch.
package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Doc is one remote document as carried in the docs payload.
type Doc struct {
	UUID     string `json:"uuid"`
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// Mirror owns one base directory with a subdirectory per project.
type Mirror struct {
	mu      sync.Mutex
	baseDir string
	docs    *gocache.Cache // projectID -> []Doc
	logger  *zap.Logger
}

// New creates the mirror rooted at baseDir. ttl bounds how long a parsed
// inventory is trusted for name->uuid resolution.
func New(baseDir string, ttl time.Duration, logger *zap.Logger) (*Mirror, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("mirror base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror dir: %w", err)
	}
	return &Mirror{
		baseDir: baseDir,
		docs:    gocache.New(ttl, ttl),
		logger:  logger,
	}, nil
}

// ApplyDocs parses a raw docs payload and reconciles the project's local
// directory against it: new and changed docs are written, local files whose
// doc disappeared remotely are pruned. The payload may be a bare array or an
// object wrapping one under "docs".
func (m *Mirror) ApplyDocs(projectID string, raw []byte) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}

	docs, err := parseDocsPayload(raw)
	if err != nil {
		return fmt.Errorf("parse docs payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	projectDir := filepath.Join(m.baseDir, sanitize(projectID))
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	want := make(map[string]bool, len(docs))
	for _, doc := range docs {
		name := sanitize(doc.FileName)
		if name == "" {
			m.logger.Warn("skip doc with unusable file name",
				zap.String("project", projectID), zap.String("uuid", doc.UUID))
			continue
		}
		want[name] = true
		path := filepath.Join(projectDir, name)
		if err := os.WriteFile(path, []byte(doc.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	// Prune files the remote no longer has.
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return fmt.Errorf("list project dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || want[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(projectDir, entry.Name())); err != nil {
			m.logger.Warn("prune failed",
				zap.String("project", projectID), zap.String("file", entry.Name()), zap.Error(err))
		}
	}

	m.docs.Set(projectID, docs, gocache.DefaultExpiration)
	m.logger.Info("mirror reconciled",
		zap.String("project", projectID), zap.Int("docs", len(docs)))
	return nil
}

// Docs returns the cached inventory for a project, if still fresh.
func (m *Mirror) Docs(projectID string) ([]Doc, bool) {
	v, ok := m.docs.Get(projectID)
	if !ok {
		return nil, false
	}
	docs, ok := v.([]Doc)
	return docs, ok
}

// ResolveByName maps a file name to its doc within a project's cached
// inventory. Used by delete-doc to translate a local name into the remote
// uuid the DELETE endpoint wants.
func (m *Mirror) ResolveByName(projectID, fileName string) (*Doc, bool) {
	docs, ok := m.Docs(projectID)
	if !ok {
		return nil, false
	}
	for i := range docs {
		if docs[i].FileName == fileName {
			return &docs[i], true
		}
	}
	return nil, false
}

// RemoveByUUID deletes the local file for an artifact uuid, searching all
// cached project inventories. Called on artifact-deleted notifications; a
// miss is fine, the next docs fetch reconciles anyway.
func (m *Mirror) RemoveByUUID(uuid string) {
	for projectID, item := range m.docs.Items() {
		docs, ok := item.Object.([]Doc)
		if !ok {
			continue
		}
		for i, doc := range docs {
			if doc.UUID != uuid {
				continue
			}
			m.mu.Lock()
			path := filepath.Join(m.baseDir, sanitize(projectID), sanitize(doc.FileName))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("remove mirrored file failed",
					zap.String("uuid", uuid), zap.Error(err))
			}
			m.mu.Unlock()

			remaining := append(append([]Doc{}, docs[:i]...), docs[i+1:]...)
			m.docs.Set(projectID, remaining, gocache.DefaultExpiration)
			return
		}
	}
}

// ProjectFileNames lists the file names currently mirrored across all
// projects, sorted and deduplicated. Feeds the autocomplete helper.
func (m *Mirror) ProjectFileNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	projects, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil
	}
	for _, project := range projects {
		if !project.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(m.baseDir, project.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() {
				seen[f.Name()] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BaseDir returns the mirror root.
func (m *Mirror) BaseDir() string {
	return m.baseDir
}

func parseDocsPayload(raw []byte) ([]Doc, error) {
	var docs []Doc
	if err := json.Unmarshal(raw, &docs); err == nil {
		return docs, nil
	}

	var wrapped struct {
		Docs []Doc `json:"docs"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Docs, nil
}

// sanitize strips any path components so remote names cannot escape the
// mirror directory.
func sanitize(name string) string {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == string(filepath.Separator) || base == ".." {
		return ""
	}
	return base
}
