// Package store provides crash-safe JSON persistence on the local filesystem.
//
// Writes go through a temp file in the destination directory followed by an
// atomic rename, so readers never observe a partially written record. Reads
// distinguish a missing record (ErrNotFound) from an unreadable one
// (*CorruptError) so callers can fall back to defaults without masking
// real damage.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonschema"
)

// ErrNotFound reports that no record exists at the requested path.
var ErrNotFound = errors.New("record not found")

// CorruptError reports a record that exists but cannot be decoded or fails
// schema validation. The original cause is available via Unwrap.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt record %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err is a *CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// CompileSchema compiles a JSON Schema document for use with Store.Read.
func CompileSchema(src []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// MustCompileSchema is CompileSchema for package-level schema literals.
func MustCompileSchema(src []byte) *jsonschema.Schema {
	schema, err := CompileSchema(src)
	if err != nil {
		panic(err)
	}
	return schema
}

// Store persists JSON records under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir, creating the directory if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the store's base directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// Path returns the absolute path for a record name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.baseDir, name)
}

// Write marshals v and atomically replaces the record at name.
// The temp file is synced before the rename and the directory is synced
// after, so a crash leaves either the old record or the new one.
func (s *Store) Write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", name, err)
	}

	dest := s.Path(name)
	tmp := dest + ".tmp." + uuid.NewString()[:8]

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp file for %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file for %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace record %s: %w", name, err)
	}

	syncDir(s.baseDir)
	return nil
}

// Read decodes the record at name into dest. A nil schema skips validation.
// Returns ErrNotFound when no record exists and *CorruptError when the
// record cannot be decoded or fails validation.
func (s *Store) Read(name string, schema *jsonschema.Schema, dest any) error {
	path := s.Path(name)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read record %s: %w", name, err)
	}

	if schema != nil {
		result := schema.ValidateJSON(data)
		if !result.IsValid() {
			return &CorruptError{Path: path, Err: fmt.Errorf("schema validation failed: %v", result.Errors)}
		}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return &CorruptError{Path: path, Err: err}
	}
	return nil
}

// Remove deletes the record at name. Missing records are not an error.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record %s: %w", name, err)
	}
	return nil
}

// List returns record names in the store matching the glob pattern.
func (s *Store) List(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	return names, nil
}

// syncDir fsyncs a directory so a completed rename survives power loss.
// Best effort: some filesystems reject directory fsync.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
