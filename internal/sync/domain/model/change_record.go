package model

import (
	"encoding/json"
	"sort"
	"time"
)

// ChangeType is the lifecycle transition recorded for a document
type ChangeType string

const (
	ChangeTypeCreated ChangeType = "CREATED"
	ChangeTypeUpdated ChangeType = "UPDATED"
	ChangeTypeDeleted ChangeType = "DELETED"
)

func (c ChangeType) IsValid() bool {
	return c == ChangeTypeCreated || c == ChangeTypeUpdated || c == ChangeTypeDeleted
}

// EpochSentinel stands in for a missing checkpoint or CREATED entry
var EpochSentinel = time.Unix(0, 0).UTC()

// Row is a flat set of typed column values keyed by logical document id.
// It is both the coercion output and the main table row.
type Row struct {
	DocumentID string
	Values     map[string]Value
}

func NewRow(documentID string) Row {
	return Row{DocumentID: documentID, Values: make(map[string]Value)}
}

// Get returns a column value, null when absent
func (r Row) Get(column string) Value {
	return r.Values[column]
}

// Clone copies the row's column map
func (r Row) Clone() Row {
	out := Row{DocumentID: r.DocumentID, Values: make(map[string]Value, len(r.Values))}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}

// MarshalJSON flattens the row into {documentId, ...columns}
func (r Row) MarshalJSON() ([]byte, error) {
	flat := make(map[string]Value, len(r.Values)+1)
	for k, v := range r.Values {
		flat[k] = v
	}
	flat["documentId"] = String(r.DocumentID)
	return json.Marshal(flat)
}

// ChangeRecord is one append-only tracker log entry. Values is empty for
// DELETED entries.
type ChangeRecord struct {
	ChangeType ChangeType
	Timestamp  time.Time
	DocumentID string
	Values     map[string]Value
}

// SortChangeRecords orders records by timestamp, oldest first, keeping the
// append order of equal timestamps
func SortChangeRecords(records []ChangeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

// Checkpoint is the end of the last successfully consolidated window
type Checkpoint struct {
	InstanceID  string    `json:"instanceId" bson:"instance_id"`
	ConfigID    string    `json:"configId" bson:"config_id"`
	LastRunDate time.Time `json:"lastRunDate" bson:"last_run_date"`
}

// Aggregate is the per-document summary of a consolidation window
type Aggregate struct {
	DocumentID   string
	Values       map[string]Value
	CreatedCount int
	DeletedCount int
}

// ReconcilePlan is the set of main table mutations for one window
type ReconcilePlan struct {
	Inserts []Row
	Updates []Row
	Deletes []string
}

func (p ReconcilePlan) IsEmpty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// ConsolidationResult summarizes one consolidation run
type ConsolidationResult struct {
	ConfigID    string    `json:"configId"`
	RunID       string    `json:"runId"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Documents   int       `json:"documents"`
	Inserted    int       `json:"inserted"`
	Updated     int       `json:"updated"`
	Deleted     int       `json:"deleted"`
	Trimmed     int64     `json:"trimmed"`
	Err         error     `json:"-"`
}

// BackfillResult summarizes one backfill run
type BackfillResult struct {
	ConfigID     string `json:"configId"`
	RunID        string `json:"runId"`
	Pages        int    `json:"pages"`
	Documents    int    `json:"documents"`
	Inserted     int    `json:"inserted"`
	SkippedDocs  int    `json:"skippedDocuments"`
	DroppedPages int    `json:"droppedPages"`
	DroppedRows  int    `json:"droppedRows"`
}
