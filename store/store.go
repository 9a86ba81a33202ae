// Package store persists documents, version content, backing records of
// attachment markers and project stylesheets.
package store

import (
	"context"
	"errors"

	"shed/attach"
	"shed/style"
	"shed/version"
)

var (
	// ErrNotFound is returned when requested object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by operations on closed store.
	ErrClosed = errors.New("store is closed")
)

// Document is persisted document metadata. Content of each version is kept
// separately and loaded on demand.
type Document struct {
	ID             string
	ProjectID      string
	Title          string
	CurrentVersion string
	Versions       []version.Meta
}

// Store is persistent object store used by sessions. Implementations must be
// safe for concurrent use, saves may arrive from background goroutines.
type Store interface {
	LoadDocument(ctx context.Context, id string) (Document, error)
	// SaveDocument writes document metadata together with metadata of every
	// listed version. Content of existing versions is not touched.
	SaveDocument(ctx context.Context, doc Document) error
	// Documents lists documents of a project without version metadata.
	Documents(ctx context.Context, projectID string) ([]Document, error)
	// DeleteVersion removes version, its content and its records.
	DeleteVersion(ctx context.Context, versionID string) error

	LoadContent(ctx context.Context, versionID string) ([]byte, error)
	SaveContent(ctx context.Context, versionID string, data []byte) error

	Records(ctx context.Context, versionID string) ([]attach.Record, error)
	SaveRecord(ctx context.Context, rec attach.Record) error
	DeleteRecord(ctx context.Context, attachmentID string) error

	LoadStylesheet(ctx context.Context, projectID string) (*style.Stylesheet, error)
	SaveStylesheet(ctx context.Context, projectID string, sheet *style.Stylesheet) error

	Close() error
}
