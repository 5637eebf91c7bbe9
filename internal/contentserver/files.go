package contentserver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lessonsync/internal/snapshot"
)

var (
	// ErrInvalidPath is returned for paths outside the content root or
	// without a .json extension.
	ErrInvalidPath = errors.New("caminho de documento inválido")
	// ErrInvalidContent is returned when a document fails validation.
	ErrInvalidContent = errors.New("conteúdo inválido")
)

// resolve maps a document path onto a file below the root.
func (s *Server) resolve(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", ErrInvalidPath
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", ErrInvalidPath
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	if !strings.EqualFold(filepath.Ext(clean), ".json") {
		return "", ErrInvalidPath
	}
	full := filepath.Join(s.root, clean)
	if !s.inside(full) || !s.inside(resolveExisting(full)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

// inside reports whether p lies below the root.
func (s *Server) inside(p string) bool {
	if p == "" {
		return false
	}
	rel, err := filepath.Rel(s.root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting follows symlinks in the longest existing prefix of p and
// appends the part that does not exist yet. It returns "" when a link cannot
// be resolved.
func resolveExisting(p string) string {
	var missing []string
	for cur := p; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return ""
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

// Read returns the decoded document at path.
func (s *Server) Read(path string) (any, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	content, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return content, nil
}

// Write validates content and replaces the document at path atomically. It
// returns the time the document was saved.
func (s *Server) Write(path string, content any) (time.Time, error) {
	full, err := s.resolve(path)
	if err != nil {
		return time.Time{}, err
	}
	if s.schema != nil {
		if err := s.schema.Validate(content); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidContent, err)
		}
	}
	text, err := snapshot.Serialize(content)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := writeFileAtomic(full, []byte(text+"\n")); err != nil {
		return time.Time{}, err
	}
	return s.now(), nil
}

// writeFileAtomic writes data to a temporary file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
