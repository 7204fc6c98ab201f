package repository

import (
	"context"
	"time"

	"firestore-sync/internal/sync/domain/model"
)

// TrackerLog is the append-only change log of each collection config
type TrackerLog interface {
	// Append writes one change record
	Append(ctx context.Context, cfg *model.CollectionConfig, record model.ChangeRecord) error

	// Window returns every record with start <= timestamp < end
	Window(ctx context.Context, cfg *model.CollectionConfig, start, end time.Time) ([]model.ChangeRecord, error)

	// History returns every record of the given documents with timestamp < end
	History(ctx context.Context, cfg *model.CollectionConfig, documentIDs []string, end time.Time) ([]model.ChangeRecord, error)

	// Trim removes records older than before and reports how many were removed
	Trim(ctx context.Context, cfg *model.CollectionConfig, before time.Time) (int64, error)
}

// MainTable is the deduplicated current-state table of each collection config
type MainTable interface {
	EnsureTables(ctx context.Context, cfg *model.CollectionConfig) error

	// Existing reports which of the ids already have a row
	Existing(ctx context.Context, cfg *model.CollectionConfig, documentIDs []string) (map[string]bool, error)

	// Apply executes a reconcile plan atomically. Update rows carry only the
	// columns to overwrite.
	Apply(ctx context.Context, cfg *model.CollectionConfig, plan model.ReconcilePlan) error

	// BulkInsert writes rows, replacing any row with the same document id
	BulkInsert(ctx context.Context, cfg *model.CollectionConfig, rows []model.Row) error
}

// CheckpointStore persists the consolidation checkpoint per (instance, config)
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, instanceID, configID string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
}

// DocumentSource pages through existing documents for backfill. Documents are
// ordered by path; startAt is inclusive and empty for the first page.
type DocumentSource interface {
	Page(ctx context.Context, scope model.BackfillScope, startAt string, limit int) ([]model.SourceDocument, error)
}

// TransformClient calls a remote transform webhook
type TransformClient interface {
	Transform(ctx context.Context, url string, documentID string, document model.Value) (model.Value, error)
}

// Lease is a held exclusive lease
type Lease interface {
	// Extend renews the lease for ttl (no expiry when ttl <= 0). It fails
	// with a LEASE_LOST error once the lease expired or changed hands.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// LeaseManager hands out per-key exclusive leases. TryAcquire does not wait:
// it fails with a LEASE_HELD error when another holder owns the key.
type LeaseManager interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
