package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/firestore"
	"firestore-sync/internal/sync/domain/model"
)

// Operations that can be made to fail with MemoryWarehouse.FailOn
const (
	OpAppend         = "append"
	OpWindow         = "window"
	OpHistory        = "history"
	OpTrim           = "trim"
	OpEnsureTables   = "ensure_tables"
	OpExisting       = "existing"
	OpApply          = "apply"
	OpBulkInsert     = "bulk_insert"
	OpGetCheckpoint  = "get_checkpoint"
	OpSaveCheckpoint = "save_checkpoint"
	OpPage           = "page"
)

type memoryTables struct {
	tracker []model.ChangeRecord
	rows    map[string]model.Row
}

// MemoryWarehouse keeps tracker logs, main tables, checkpoints and source
// documents in process. It backs local runs and tests.
type MemoryWarehouse struct {
	mu          sync.RWMutex
	tables      map[string]*memoryTables
	checkpoints map[string]model.Checkpoint
	documents   []model.SourceDocument
	failures    map[string]error
	calls       map[string]int
}

func NewMemoryWarehouse() *MemoryWarehouse {
	return &MemoryWarehouse{
		tables:      make(map[string]*memoryTables),
		checkpoints: make(map[string]model.Checkpoint),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

// FailOn makes every later call of op return err; a nil err clears it
func (w *MemoryWarehouse) FailOn(op string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.failures, op)
		return
	}
	w.failures[op] = err
}

// Calls reports how often op was invoked
func (w *MemoryWarehouse) Calls(op string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.calls[op]
}

// enter counts the call and returns the injected failure, if any. Callers
// hold the lock.
func (w *MemoryWarehouse) enter(op string) error {
	w.calls[op]++
	return w.failures[op]
}

func (w *MemoryWarehouse) tablesFor(cfg *model.CollectionConfig) *memoryTables {
	name := cfg.TableName()
	t, ok := w.tables[name]
	if !ok {
		t = &memoryTables{rows: make(map[string]model.Row)}
		w.tables[name] = t
	}
	return t
}

func (w *MemoryWarehouse) Append(_ context.Context, cfg *model.CollectionConfig, record model.ChangeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpAppend); err != nil {
		return err
	}
	record.Timestamp = record.Timestamp.UTC()
	if record.Values != nil {
		record.Values = model.Row{Values: record.Values}.Clone().Values
	}
	t := w.tablesFor(cfg)
	t.tracker = append(t.tracker, record)
	return nil
}

func (w *MemoryWarehouse) Window(_ context.Context, cfg *model.CollectionConfig, start, end time.Time) ([]model.ChangeRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpWindow); err != nil {
		return nil, err
	}
	var out []model.ChangeRecord
	for _, r := range w.tablesFor(cfg).tracker {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	model.SortChangeRecords(out)
	return out, nil
}

func (w *MemoryWarehouse) History(_ context.Context, cfg *model.CollectionConfig, documentIDs []string, end time.Time) ([]model.ChangeRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpHistory); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		wanted[id] = true
	}
	var out []model.ChangeRecord
	for _, r := range w.tablesFor(cfg).tracker {
		if wanted[r.DocumentID] && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	model.SortChangeRecords(out)
	return out, nil
}

func (w *MemoryWarehouse) Trim(_ context.Context, cfg *model.CollectionConfig, before time.Time) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpTrim); err != nil {
		return 0, err
	}
	t := w.tablesFor(cfg)
	kept := t.tracker[:0]
	var removed int64
	for _, r := range t.tracker {
		if r.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	t.tracker = kept
	return removed, nil
}

func (w *MemoryWarehouse) EnsureTables(_ context.Context, cfg *model.CollectionConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpEnsureTables); err != nil {
		return err
	}
	w.tablesFor(cfg)
	return nil
}

func (w *MemoryWarehouse) Existing(_ context.Context, cfg *model.CollectionConfig, documentIDs []string) (map[string]bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpExisting); err != nil {
		return nil, err
	}
	rows := w.tablesFor(cfg).rows
	out := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		if _, ok := rows[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// Apply mutates the main table under the write lock, so a failure leaves it
// untouched
func (w *MemoryWarehouse) Apply(_ context.Context, cfg *model.CollectionConfig, plan model.ReconcilePlan) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpApply); err != nil {
		return err
	}
	rows := w.tablesFor(cfg).rows
	for _, row := range plan.Inserts {
		rows[row.DocumentID] = row.Clone()
	}
	for _, row := range plan.Updates {
		current, ok := rows[row.DocumentID]
		if !ok {
			continue
		}
		for column, v := range row.Values {
			if !v.IsNull() {
				current.Values[column] = v
			}
		}
	}
	for _, id := range plan.Deletes {
		delete(rows, id)
	}
	return nil
}

func (w *MemoryWarehouse) BulkInsert(_ context.Context, cfg *model.CollectionConfig, rows []model.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpBulkInsert); err != nil {
		return err
	}
	table := w.tablesFor(cfg).rows
	for _, row := range rows {
		table[row.DocumentID] = row.Clone()
	}
	return nil
}

func checkpointKey(instanceID, configID string) string {
	return instanceID + "/" + configID
}

func (w *MemoryWarehouse) GetCheckpoint(_ context.Context, instanceID, configID string) (*model.Checkpoint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpGetCheckpoint); err != nil {
		return nil, err
	}
	cp, ok := w.checkpoints[checkpointKey(instanceID, configID)]
	if !ok {
		return nil, errors.NewNotFoundError("checkpoint " + checkpointKey(instanceID, configID))
	}
	return &cp, nil
}

func (w *MemoryWarehouse) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpSaveCheckpoint); err != nil {
		return err
	}
	checkpoint.LastRunDate = checkpoint.LastRunDate.UTC()
	w.checkpoints[checkpointKey(checkpoint.InstanceID, checkpoint.ConfigID)] = checkpoint
	return nil
}

// PutDocument adds or replaces a source document for backfill
func (w *MemoryWarehouse) PutDocument(path string, data model.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, _ := firestore.GetDocumentID(path)
	doc := model.SourceDocument{Path: path, ID: id, Data: data}
	i := sort.Search(len(w.documents), func(i int) bool { return w.documents[i].Path >= path })
	if i < len(w.documents) && w.documents[i].Path == path {
		w.documents[i] = doc
		return
	}
	w.documents = append(w.documents, model.SourceDocument{})
	copy(w.documents[i+1:], w.documents[i:])
	w.documents[i] = doc
}

// Page scans source documents in path order. Pattern filtering is left to
// the caller.
func (w *MemoryWarehouse) Page(_ context.Context, scope model.BackfillScope, startAt string, limit int) ([]model.SourceDocument, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enter(OpPage); err != nil {
		return nil, err
	}
	var out []model.SourceDocument
	for _, doc := range w.documents {
		if doc.Path < startAt || !inScope(scope, doc.Path) {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func inScope(scope model.BackfillScope, path string) bool {
	if scope.CollectionGroup != "" {
		group, err := firestore.GetCollectionID(path)
		return err == nil && group == scope.CollectionGroup
	}
	collection, err := firestore.GetCollectionPath(path)
	return err == nil && collection == strings.Trim(scope.CollectionPath, "/")
}

// Rows returns a copy of the main table of cfg
func (w *MemoryWarehouse) Rows(cfg *model.CollectionConfig) map[string]model.Row {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]model.Row)
	if t, ok := w.tables[cfg.TableName()]; ok {
		for id, row := range t.rows {
			out[id] = row.Clone()
		}
	}
	return out
}

// TrackerEntries returns a copy of the tracker log of cfg in append order
func (w *MemoryWarehouse) TrackerEntries(cfg *model.CollectionConfig) []model.ChangeRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	t, ok := w.tables[cfg.TableName()]
	if !ok {
		return nil
	}
	return append([]model.ChangeRecord(nil), t.tracker...)
}
