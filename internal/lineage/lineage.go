// Package lineage is the Lineage Store: connections, sync runs,
// datasets, raw records, canonical records, and schema-drift events —
// the substrate that traces every canonical record back to its raw
// source bytes.
package lineage

import (
	"context"

	"github.com/vaultline/cashops/internal/domain"
)

// Store is the Lineage Store interface.
type Store interface {
	CreateConnection(ctx context.Context, c *domain.LineageConnection) error
	GetConnection(ctx context.Context, id string) (*domain.LineageConnection, error)
	UpdateConnection(ctx context.Context, c *domain.LineageConnection) error
	ListConnections(ctx context.Context, entityID string) ([]*domain.LineageConnection, error)

	CreateSyncRun(ctx context.Context, r *domain.SyncRun) error
	UpdateSyncRun(ctx context.Context, r *domain.SyncRun) error
	GetSyncRun(ctx context.Context, id string) (*domain.SyncRun, error)

	CreateDataset(ctx context.Context, d *domain.Dataset) error
	UpdateDataset(ctx context.Context, d *domain.Dataset) error
	// LatestDatasetForConnection returns the most recently created
	// Dataset for a connection, or nil if none exists yet — used by
	// schema-drift comparison.
	LatestDatasetForConnection(ctx context.Context, connectionID string) (*domain.Dataset, error)

	CreateRawRecord(ctx context.Context, r *domain.RawRecord) error
	MarkRawRecordProcessed(ctx context.Context, id string, errMsg string) error

	// CreateCanonicalRecord enforces the (dataset_id, canonical_id)
	// uniqueness invariant; ErrDuplicateCanonicalID is returned (never a
	// generic error) when it is violated, so callers can record the row
	// as a skipped duplicate (a warning) rather than a failed row.
	CreateCanonicalRecord(ctx context.Context, r *domain.CanonicalRecord) error
	ListCanonicalRecords(ctx context.Context, datasetID string) ([]*domain.CanonicalRecord, error)

	RecordSchemaDriftEvent(ctx context.Context, e *domain.SchemaDriftEvent) error
	ListSchemaDriftEvents(ctx context.Context, connectionID string) ([]*domain.SchemaDriftEvent, error)
}

// ErrDuplicateCanonicalID is returned by CreateCanonicalRecord when
// (dataset_id, canonical_id) already exists.
var ErrDuplicateCanonicalID = &domain.StateError{Message: "duplicate canonical_id in dataset"}
