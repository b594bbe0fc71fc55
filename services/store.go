package services

import (
	"context"
	"errors"
	"time"

	"legal-ingest-platform/models"
)

// ErrDocumentNotFound is returned when no status record exists.
var ErrDocumentNotFound = errors.New("document not found")

// ErrRunSuperseded is returned by a conditional status update when the
// document left the run it names.
var ErrRunSuperseded = errors.New("run no longer current")

// ChunkStore persists document chunks.
type ChunkStore interface {
	InsertChunk(ctx context.Context, chunk *models.DocumentChunk) error
	DeleteChunks(ctx context.Context, documentID string) (int64, error)
	// DeleteRunChunks deletes only the chunks written by runID.
	DeleteRunChunks(ctx context.Context, documentID, runID string) (int64, error)
	ListChunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
}

// StatusStore persists document status records.
type StatusStore interface {
	// EnsureDocument creates the record in pending state when it does not
	// exist and leaves an existing record untouched.
	EnsureDocument(ctx context.Context, doc *models.DocumentRecord) error
	UpdateStatus(ctx context.Context, documentID string, update models.StatusUpdate) error
	GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error)
	// FindStale returns records in status whose last update is before cutoff.
	FindStale(ctx context.Context, status string, cutoff time.Time) ([]models.DocumentRecord, error)
}

// DocumentStore is a combined chunk and status backend.
type DocumentStore interface {
	ChunkStore
	StatusStore
	Close(ctx context.Context) error
}
