package docstore

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/errors"
)

// SeedDocuments returns the documents every store starts with.
func SeedDocuments() map[string]string {
	return map[string]string{
		"deposition.md":   "This deposition covers the testimony of Angela Smith, P.E.",
		"report.pdf":      "The report details the state of a 20m condenser tower.",
		"financials.docx": "These financials outline the project's budget and expenditures.",
		"outlook.pdf":     "This document presents the projected future performance of the system.",
		"plan.md":         "The plan outlines the steps for the project's implementation.",
		"spec.txt":        "These specifications define the technical requirements for the equipment.",
	}
}

// Store is an in-memory, concurrency-safe map from document id to content.
type Store struct {
	mu   sync.RWMutex
	docs map[string]string
}

// NewStore creates a store holding a copy of docs.
func NewStore(docs map[string]string) *Store {
	s := &Store{docs: make(map[string]string, len(docs))}
	for id, content := range docs {
		s.docs[id] = content
	}
	return s
}

// IDs returns the document ids in lexical order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the content of a document.
func (s *Store) Get(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.docs[id]
	if !ok {
		return "", errors.Wrapf(errors.ErrResourceNotFound, "Doc with id %s not found", id)
	}
	return content, nil
}

// Put adds or replaces a document.
func (s *Store) Put(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = content
}

// Edit replaces every occurrence of oldStr in a document with newStr and
// returns the number of replacements. oldStr must occur in the document.
func (s *Store) Edit(id, oldStr, newStr string) (int, error) {
	if oldStr == "" {
		return 0, errors.New("old_str must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.docs[id]
	if !ok {
		return 0, errors.Wrapf(errors.ErrResourceNotFound, "Doc with id %s not found", id)
	}
	n := strings.Count(content, oldStr)
	if n == 0 {
		return 0, errors.New("text to replace not found in document '%s'", id)
	}
	s.docs[id] = strings.ReplaceAll(content, oldStr, newStr)
	return n, nil
}

// LoadFiles adds the files below cfg.Root matched by the cfg.Include glob
// patterns, skipping those matched by cfg.Hidden. A file's id is its base
// name; when two files share a base name the first one in lexical path
// order wins. It returns the number of documents loaded.
func (s *Store) LoadFiles(cfg config.Documents, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	fsys := os.DirFS(root)

	seen := make(map[string]string)
	loaded := 0
	for _, pattern := range cfg.Include {
		if !doublestar.ValidatePattern(pattern) {
			return loaded, errors.New("invalid document pattern '%s'", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return loaded, errors.Wrapf(err, "failed to match documents with '%s'", pattern)
		}
		sort.Strings(matches)

		for _, p := range matches {
			if hidden(p, cfg.Hidden) {
				logger.Debug("skipping hidden document", "path", p)
				continue
			}
			info, err := fs.Stat(fsys, p)
			if err != nil || info.IsDir() {
				continue
			}
			id := path.Base(p)
			if prev, ok := seen[id]; ok {
				if prev != p {
					logger.Warn("duplicate document id, keeping first file", "id", id, "kept", prev, "skipped", p)
				}
				continue
			}
			data, err := fs.ReadFile(fsys, p)
			if err != nil {
				return loaded, errors.Wrapf(err, "failed to read document '%s'", p)
			}
			seen[id] = p
			s.Put(id, string(data))
			loaded++
			logger.Debug("loaded document", "id", id, "path", p, "bytes", len(data))
		}
	}
	return loaded, nil
}

func hidden(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return true
		}
	}
	return false
}
