// Package storage provides temporary file storage for uploaded recordings and
// a keyed document store used to persist segment trees. Implementations
// exist for local disk and S3.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrDocumentNotFound is returned when no document is stored under a key.
var ErrDocumentNotFound = errors.New("storage: document not found")

// TempStorage handles scratch files that live only for one processing run.
type TempStorage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error
}

// Documents stores exactly one document per key.
type Documents interface {
	// ReplaceAll stores data under key, replacing any previous document.
	ReplaceAll(ctx context.Context, key string, data []byte) error

	// ReadOne returns the document stored under key.
	// Returns ErrDocumentNotFound if nothing is stored.
	ReadOne(ctx context.Context, key string) ([]byte, error)
}

// Storage combines scratch files and persistent documents.
type Storage interface {
	TempStorage
	Documents
}

// KeyFor derives the document key of a recording from its path.
func KeyFor(recordingPath string) string {
	base := filepath.Base(recordingPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}
