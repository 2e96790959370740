// Package objstore persists job artifacts (raw uploads, parsed text,
// reports) under deterministic job-scoped keys so reruns overwrite rather
// than accumulate.
package objstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Store is the object storage interface used by the pipeline.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Key builders. Every artifact lives under one of these prefixes.

// RawKey addresses an uploaded file's original bytes.
func RawKey(jobID, fileID, filename string) string {
	return fmt.Sprintf("raw/%s/%s/%s", jobID, fileID, sanitize(filename))
}

// ParsedKey addresses the normalized text content of one file.
func ParsedKey(jobID, fileID string) string {
	return fmt.Sprintf("parsed/%s/%s/content.txt", jobID, fileID)
}

// ParsedStructuredKey addresses the structured extraction payload of one file.
func ParsedStructuredKey(jobID, fileID string) string {
	return fmt.Sprintf("parsed/%s/%s/structured.json", jobID, fileID)
}

// ReportKey addresses a job-level report artifact.
func ReportKey(jobID, name string) string {
	return fmt.Sprintf("reports/%s/%s", jobID, sanitize(name))
}

func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}

// PutJSON marshals v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "objstore: marshal json")
	}
	return s.Put(ctx, key, data)
}

// GetJSON fetches key and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrap(err, "objstore: unmarshal json")
	}
	return nil
}

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = eris.New("objstore: object not found")

// FSStore implements Store on the local filesystem.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed store rooted at root, creating the
// directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, eris.New("objstore: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrap(err, "objstore: create root")
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", eris.Errorf("objstore: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrap(err, "objstore: mkdir")
	}

	// Write via temp file then rename so readers never see partial content.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return eris.Wrap(err, "objstore: create temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "objstore: write temp")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "objstore: close temp")
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "objstore: rename")
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "objstore: read")
	}
	return data, nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, eris.Wrap(err, "objstore: stat")
	}
	return true, nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	dir, err := s.path(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "objstore: list")
	}
	return keys, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "objstore: delete")
	}
	return nil
}
