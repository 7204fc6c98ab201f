package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/eventbus"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/shared/utils"
	"firestore-sync/internal/sync/domain/model"
	"firestore-sync/internal/sync/domain/repository"
)

// ConsolidationOptions tunes a ConsolidationEngine
type ConsolidationOptions struct {
	InstanceID string
	LeaseTTL   time.Duration
	// Retention, when positive, trims tracker entries older than the
	// window end minus Retention after each successful run
	Retention time.Duration
}

// ConsolidationEngine folds each config's tracker log into its main table
type ConsolidationEngine struct {
	resolver    *ConfigResolver
	tracker     repository.TrackerLog
	table       repository.MainTable
	checkpoints repository.CheckpointStore
	leases      repository.LeaseManager
	bus         eventbus.EventBusInterface
	opts        ConsolidationOptions
	now         func() time.Time
	logger      logger.Logger
}

// NewConsolidationEngine creates an engine; bus may be nil
func NewConsolidationEngine(
	resolver *ConfigResolver,
	tracker repository.TrackerLog,
	table repository.MainTable,
	checkpoints repository.CheckpointStore,
	leases repository.LeaseManager,
	bus eventbus.EventBusInterface,
	opts ConsolidationOptions,
	log logger.Logger,
) *ConsolidationEngine {
	if opts.InstanceID == "" {
		opts.InstanceID = "default"
	}
	return &ConsolidationEngine{
		resolver:    resolver,
		tracker:     tracker,
		table:       table,
		checkpoints: checkpoints,
		leases:      leases,
		bus:         bus,
		opts:        opts,
		now:         time.Now,
		logger:      log.WithComponent("consolidation"),
	}
}

// RunAll consolidates every config in order. A failing config is logged and
// does not stop the others.
func (e *ConsolidationEngine) RunAll(ctx context.Context) []model.ConsolidationResult {
	configs := e.resolver.Configs()
	results := make([]model.ConsolidationResult, 0, len(configs))
	for _, cfg := range configs {
		result, err := e.Run(ctx, cfg)
		if err != nil {
			result.Err = err
		}
		results = append(results, result)
	}
	return results
}

// RunByID consolidates a single config
func (e *ConsolidationEngine) RunByID(ctx context.Context, configID string) (model.ConsolidationResult, error) {
	cfg, ok := e.resolver.Get(configID)
	if !ok {
		return model.ConsolidationResult{ConfigID: configID}, errors.NewNotFoundError("collection config " + configID)
	}
	return e.Run(ctx, cfg)
}

// Run consolidates the window [checkpoint, now) of one config. The
// checkpoint only moves after the reconcile plan was applied.
func (e *ConsolidationEngine) Run(ctx context.Context, cfg *CompiledConfig) (model.ConsolidationResult, error) {
	runID := uuid.NewString()
	ctx = utils.WithRunID(utils.WithConfigID(ctx, cfg.ID), runID)
	log := e.logger.WithContext(ctx)
	result := model.ConsolidationResult{ConfigID: cfg.ID, RunID: runID}

	lease, err := e.leases.TryAcquire(ctx, LeaseKey(e.opts.InstanceID, cfg.ID), e.opts.LeaseTTL)
	if err != nil {
		if errors.IsLeaseHeld(err) {
			log.Warn("Consolidation already in progress, skipping")
			return result, err
		}
		return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "lease", err))
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release consolidation lease")
		}
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRenewal := e.renewLease(ctx, lease, cancel)
	defer stopRenewal()

	start := model.EpochSentinel
	checkpoint, err := e.checkpoints.GetCheckpoint(ctx, e.opts.InstanceID, cfg.ID)
	if err != nil && !errors.IsNotFound(err) {
		return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "checkpoint_read", err))
	}
	if checkpoint != nil && checkpoint.LastRunDate.After(start) {
		start = checkpoint.LastRunDate.UTC()
	}
	end := e.now().UTC()
	result.WindowStart, result.WindowEnd = start, end

	if !end.After(start) {
		log.Warn("Clock is behind the checkpoint, nothing to consolidate")
		result.WindowEnd = start
		return result, nil
	}

	log.WithFields(map[string]interface{}{
		"window_start": start,
		"window_end":   end,
	}).Info("Consolidating tracker log")

	table := &cfg.CollectionConfig
	if err := e.table.EnsureTables(ctx, table); err != nil {
		return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "ensure_tables", err))
	}

	window, err := e.tracker.Window(ctx, table, start, end)
	if err != nil {
		return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "scan", err))
	}

	if len(window) > 0 {
		ids := distinctDocumentIDs(window)
		history, err := e.tracker.History(ctx, table, ids, end)
		if err != nil {
			return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "history", err))
		}

		aggregates := AggregateWindow(window, history, end)
		existing, err := e.table.Existing(ctx, table, ids)
		if err != nil {
			return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "lookup", err))
		}

		plan := PlanReconciliation(aggregates, existing)
		if !plan.IsEmpty() {
			if err := e.confirmLease(ctx, lease); err != nil {
				return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "lease_check", err))
			}
			if err := e.table.Apply(ctx, table, plan); err != nil {
				return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "reconcile", err))
			}
		}
		result.Documents = len(aggregates)
		result.Inserted = len(plan.Inserts)
		result.Updated = len(plan.Updates)
		result.Deleted = len(plan.Deletes)
	}

	if err := e.confirmLease(ctx, lease); err != nil {
		return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "lease_check", err))
	}
	if err := e.checkpoints.SaveCheckpoint(ctx, model.Checkpoint{
		InstanceID:  e.opts.InstanceID,
		ConfigID:    cfg.ID,
		LastRunDate: end,
	}); err != nil {
		return e.fail(ctx, result, errors.NewConsolidationError(cfg.ID, "checkpoint_write", err))
	}

	if e.opts.Retention > 0 {
		trimmed, err := e.tracker.Trim(ctx, table, end.Add(-e.opts.Retention))
		if err != nil {
			log.WithError(err).Warn("Failed to trim tracker log")
		}
		result.Trimmed = trimmed
	}

	log.WithFields(map[string]interface{}{
		"documents": result.Documents,
		"inserted":  result.Inserted,
		"updated":   result.Updated,
		"deleted":   result.Deleted,
	}).Info("Consolidation completed")
	e.publish(ctx, eventbus.EventTypeConsolidationCompleted, result)
	return result, nil
}

// renewLease extends lease every third of the TTL until the returned stop
// func is called. A failed extension cancels ctx with the lease error.
func (e *ConsolidationEngine) renewLease(ctx context.Context, lease repository.Lease, cancel context.CancelCauseFunc) func() {
	if e.opts.LeaseTTL <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		interval := e.opts.LeaseTTL / 3
		if interval <= 0 {
			interval = e.opts.LeaseTTL
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Extend(ctx, e.opts.LeaseTTL); err != nil {
					e.logger.WithContext(ctx).WithError(err).Error("Lost consolidation lease, aborting run")
					cancel(err)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// confirmLease fails unless the run still owns its lease. It also renews
// the lease so the next write starts with a full TTL.
func (e *ConsolidationEngine) confirmLease(ctx context.Context, lease repository.Lease) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return lease.Extend(ctx, e.opts.LeaseTTL)
}

func (e *ConsolidationEngine) fail(ctx context.Context, result model.ConsolidationResult, err error) (model.ConsolidationResult, error) {
	e.logger.WithContext(ctx).WithError(err).Error("Consolidation failed, checkpoint left in place")
	result.Err = err
	e.publish(ctx, eventbus.EventTypeConsolidationFailed, result)
	return result, err
}

func (e *ConsolidationEngine) publish(ctx context.Context, eventType string, result model.ConsolidationResult) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, eventbus.NewBasicEvent(eventType, result, "consolidation")); err != nil {
		e.logger.WithError(err).Debug("Event observer failed")
	}
}

func distinctDocumentIDs(records []model.ChangeRecord) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, r := range records {
		if !seen[r.DocumentID] {
			seen[r.DocumentID] = true
			ids = append(ids, r.DocumentID)
		}
	}
	sort.Strings(ids)
	return ids
}

// AggregateWindow summarizes every document that has entries in window.
// Field values are the latest non-null value per field among the
// document's entries since its most recent CREATED before end; counts only
// cover the window.
func AggregateWindow(window, history []model.ChangeRecord, end time.Time) []model.Aggregate {
	byID := make(map[string][]model.ChangeRecord)
	for _, r := range history {
		if r.Timestamp.Before(end) {
			byID[r.DocumentID] = append(byID[r.DocumentID], r)
		}
	}

	counts := make(map[string]*model.Aggregate)
	windowByID := make(map[string][]model.ChangeRecord)
	for _, r := range window {
		agg, ok := counts[r.DocumentID]
		if !ok {
			agg = &model.Aggregate{DocumentID: r.DocumentID}
			counts[r.DocumentID] = agg
		}
		switch r.ChangeType {
		case model.ChangeTypeCreated:
			agg.CreatedCount++
		case model.ChangeTypeDeleted:
			agg.DeletedCount++
		}
		windowByID[r.DocumentID] = append(windowByID[r.DocumentID], r)
	}
	// the window is a subset of the history; fall back to it when the
	// history came back empty
	for id := range counts {
		if len(byID[id]) == 0 {
			byID[id] = windowByID[id]
		}
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	aggregates := make([]model.Aggregate, 0, len(ids))
	for _, id := range ids {
		entries := byID[id]
		model.SortChangeRecords(entries)

		since := model.EpochSentinel
		for _, r := range entries {
			if r.ChangeType == model.ChangeTypeCreated && !r.Timestamp.Before(since) {
				since = r.Timestamp
			}
		}

		values := make(map[string]model.Value)
		for i := len(entries) - 1; i >= 0; i-- {
			r := entries[i]
			if r.Timestamp.Before(since) {
				break
			}
			for column, v := range r.Values {
				if _, done := values[column]; done || v.IsNull() {
					continue
				}
				values[column] = v
			}
		}

		agg := counts[id]
		agg.Values = values
		aggregates = append(aggregates, *agg)
	}
	return aggregates
}

// PlanReconciliation decides the main table mutations for a window. Rows
// that exist and are not deleted get their non-null aggregate values.
func PlanReconciliation(aggregates []model.Aggregate, existing map[string]bool) model.ReconcilePlan {
	var plan model.ReconcilePlan
	for _, agg := range aggregates {
		exists := existing[agg.DocumentID]
		switch {
		case agg.CreatedCount > agg.DeletedCount && !exists:
			plan.Inserts = append(plan.Inserts, model.Row{DocumentID: agg.DocumentID, Values: agg.Values})
		case agg.DeletedCount > agg.CreatedCount && exists:
			plan.Deletes = append(plan.Deletes, agg.DocumentID)
		case exists && len(agg.Values) > 0:
			plan.Updates = append(plan.Updates, model.Row{DocumentID: agg.DocumentID, Values: agg.Values})
		}
	}
	return plan
}
