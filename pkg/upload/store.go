// Package upload manages the evidence upload directory: extension gating,
// filename sanitization, and cleanup of stale files.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a referenced upload does not exist.
var ErrNotFound = errors.New("file not found")

// allowedExtensions gates what can be uploaded. The engine itself parses a
// subset (csv/json/txt/log); pcap uploads are accepted for archival and fail
// analysis with an unsupported-format error, matching the upstream contract.
var allowedExtensions = map[string]bool{
	"csv":  true,
	"json": true,
	"txt":  true,
	"log":  true,
	"pcap": true,
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store is a directory-backed upload store.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// NewStore creates the upload directory if needed and returns a store.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "upload_store").Logger(),
	}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// Allowed reports whether the filename carries a permitted extension.
func (s *Store) Allowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && allowedExtensions[ext]
}

// Save writes the uploaded content under a sanitized, timestamp-prefixed
// unique name and returns the stored filename.
func (s *Store) Save(originalName string, r io.Reader) (string, error) {
	name := sanitize(originalName)
	if name == "" {
		return "", fmt.Errorf("invalid filename %q", originalName)
	}

	stored := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), name)
	path := filepath.Join(s.dir, stored)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	s.logger.Info().Str("filename", stored).Int64("bytes", n).Msg("Stored upload")
	return stored, nil
}

// Path resolves a stored filename to its on-disk path, rejecting path
// traversal and missing files.
func (s *Store) Path(filename string) (string, error) {
	if filename != filepath.Base(filename) || filename == "" || filename == "." {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat %s: %w", filename, err)
	}
	return path, nil
}

// Remove deletes a stored upload.
func (s *Store) Remove(filename string) error {
	path, err := s.Path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", filename, err)
	}
	s.logger.Info().Str("filename", filename).Msg("Removed upload")
	return nil
}

// CleanupOlderThan removes uploads whose modification time is older than
// maxAge and returns the number removed.
func (s *Store) CleanupOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read upload directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
				s.logger.Warn().Err(err).Str("filename", entry.Name()).Msg("Failed to remove stale upload")
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Cleaned up stale uploads")
	}
	return removed, nil
}

// sanitize reduces a client-supplied filename to a safe basename, in the
// spirit of werkzeug's secure_filename.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	return name
}
