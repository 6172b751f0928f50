// Package media resolves locally cached media referenced by snapshot
// records. A missing file is an ordinary outcome, not an error.
package media

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Blob is a cached file read into memory.
type Blob struct {
	Path        string
	Name        string
	ContentType string
	Data        []byte
}

// Cache resolves stored local paths. Relative paths are tried against the
// working directory first and then against Root, the directory holding
// the snapshot.
type Cache struct {
	Root string
}

// NewCache returns a cache rooted at the snapshot directory root.
func NewCache(root string) *Cache {
	return &Cache{Root: root}
}

// Resolve returns the on-disk location of a stored path, or "" when the
// file cannot be found.
func (c *Cache) Resolve(stored string) string {
	if stored == "" {
		return ""
	}
	candidates := []string{stored}
	if !filepath.IsAbs(stored) && c.Root != "" {
		candidates = append(candidates, filepath.Join(c.Root, stored))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// Stat returns the size of a cached file. ok is false when it is absent.
func (c *Cache) Stat(stored string) (size int64, ok bool, err error) {
	p := c.Resolve(stored)
	if p == "" {
		return 0, false, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return info.Size(), true, nil
}

// Open reads a cached file. ok is false when it is absent. name overrides
// the base name used for upload and MIME detection when non-empty.
func (c *Cache) Open(stored, name string) (blob Blob, ok bool, err error) {
	p := c.Resolve(stored)
	if p == "" {
		return Blob{}, false, nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Blob{}, false, nil
		}
		return Blob{}, false, fmt.Errorf("failed to read %s: %w", p, err)
	}
	if name == "" {
		name = filepath.Base(p)
	}
	return Blob{Path: p, Name: name, ContentType: DetectMimeType(name), Data: data}, true, nil
}

// DetectMimeType attempts to detect MIME type from filename extension.
// Falls back to application/octet-stream if unknown.
func DetectMimeType(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return "application/octet-stream"
	}

	mimeType := mime.TypeByExtension(strings.ToLower(ext))
	if mimeType == "" {
		return "application/octet-stream"
	}

	// Strip parameters like charset
	if idx := strings.IndexByte(mimeType, ';'); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	return mimeType
}
