// Package document persists uploaded documents between submission and
// execution and extracts their text.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUnreadable means the payload cannot be parsed as the expected format.
// Retrying will not help.
var ErrUnreadable = errors.New("document unreadable")

// ErrNotFound means the stored document is gone.
var ErrNotFound = errors.New("document not found")

// Storage holds transient uploads keyed by name. Remove is idempotent.
type Storage interface {
	Ping(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader) error
	// Open materialises the document as a local file. The caller must invoke
	// release when done reading; it never removes the stored document itself.
	Open(ctx context.Context, key string) (path string, release func(), err error)
	Remove(ctx context.Context, key string) error
}

// Reader extracts plain text from a local document file.
type Reader interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Key names the stored upload for a job, keeping the original extension.
func Key(jobID uuid.UUID, filename string) string {
	return fmt.Sprintf("financial_document_%s%s", jobID, strings.ToLower(filepath.Ext(filename)))
}

// HasAllowedExtension reports whether filename ends in one of allowed,
// compared case-insensitively. allowed entries carry a leading dot.
func HasAllowedExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

// validKey rejects keys that could escape the storage root.
func validKey(key string) error {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return fmt.Errorf("invalid document key %q", key)
	}
	return nil
}
