package usecase

import (
	"context"
	"time"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/eventbus"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/shared/utils"
	"firestore-sync/internal/sync/domain/model"
	"firestore-sync/internal/sync/domain/repository"
)

// RecordOutcome is what happened to one change event
type RecordOutcome string

const (
	OutcomeRecorded RecordOutcome = "recorded"
	OutcomeIgnored  RecordOutcome = "ignored"
	OutcomeDropped  RecordOutcome = "dropped"
)

// RecordResult describes the handling of one change event
type RecordResult struct {
	Outcome    RecordOutcome    `json:"outcome"`
	ConfigID   string           `json:"configId,omitempty"`
	DocumentID string           `json:"documentId,omitempty"`
	ChangeType model.ChangeType `json:"changeType,omitempty"`
	Err        error            `json:"-"`
}

// ChangeRecorded is the payload of change.recorded and change.dropped events
type ChangeRecorded struct {
	ConfigID   string
	ChangeType model.ChangeType
	Reason     string
}

// ChangeEventRecorder appends one tracker log entry per document mutation
type ChangeEventRecorder struct {
	resolver *ConfigResolver
	coercion *CoercionEngine
	tracker  repository.TrackerLog
	bus      eventbus.EventBusInterface
	now      func() time.Time
	logger   logger.Logger
}

// NewChangeEventRecorder creates a recorder; bus may be nil
func NewChangeEventRecorder(resolver *ConfigResolver, coercion *CoercionEngine, tracker repository.TrackerLog, bus eventbus.EventBusInterface, log logger.Logger) *ChangeEventRecorder {
	return &ChangeEventRecorder{
		resolver: resolver,
		coercion: coercion,
		tracker:  tracker,
		bus:      bus,
		now:      time.Now,
		logger:   log.WithComponent("recorder"),
	}
}

// Record handles one event. Failures never propagate: they are logged and
// reported as a dropped outcome.
func (r *ChangeEventRecorder) Record(ctx context.Context, event model.ChangeEvent) RecordResult {
	ctx = utils.WithDocumentPath(ctx, event.FullPath)
	log := r.logger.WithContext(ctx)

	changeType, ok := event.ChangeType()
	if !ok {
		log.Debug("Ignoring event for a document that exists neither before nor after")
		return RecordResult{Outcome: OutcomeIgnored}
	}

	resolution, err := r.resolver.Resolve(event.FullPath)
	if err != nil {
		if errors.IsNoMatchingConfig(err) {
			log.Warn("No collection config matches document path, dropping event")
		} else {
			log.WithError(err).Error("Invalid document path, dropping event")
		}
		return r.drop(ctx, RecordResult{ChangeType: changeType}, err, "resolve")
	}

	cfg := resolution.Config
	ctx = utils.WithConfigID(ctx, cfg.ID)
	log = r.logger.WithContext(ctx)

	documentID := resolution.DocumentID
	if documentID == "" {
		documentID = event.After.ID
	}
	result := RecordResult{ConfigID: cfg.ID, ChangeType: changeType}
	if documentID == "" {
		err := errors.NewValidationError("event carries no document id")
		log.WithError(err).Error("Dropping event")
		return r.drop(ctx, result, err, "document_id")
	}

	record := model.ChangeRecord{
		ChangeType: changeType,
		Timestamp:  event.OccurredAt(r.now),
	}

	if changeType == model.ChangeTypeDeleted {
		record.DocumentID = OutputDocumentID(cfg, documentID, resolution.ParentID)
	} else {
		row, err := r.coercion.Coerce(ctx, event.After.Data, documentID, resolution.ParentID, cfg)
		if err != nil {
			log.WithError(err).Error("Failed to coerce document, dropping event")
			return r.drop(ctx, result, err, "coerce")
		}
		record.DocumentID = row.DocumentID
		record.Values = row.Values
	}
	result.DocumentID = record.DocumentID

	if err := r.tracker.Append(ctx, &cfg.CollectionConfig, record); err != nil {
		log.WithError(err).Error("Failed to append change record, dropping event")
		return r.drop(ctx, result, err, "append")
	}

	log.WithFields(map[string]interface{}{
		"change_type": changeType,
		"document_id": record.DocumentID,
	}).Debug("Change recorded")

	result.Outcome = OutcomeRecorded
	r.publish(ctx, eventbus.EventTypeChangeRecorded, ChangeRecorded{ConfigID: cfg.ID, ChangeType: changeType})
	return result
}

// RecordBatch handles events in order
func (r *ChangeEventRecorder) RecordBatch(ctx context.Context, events []model.ChangeEvent) []RecordResult {
	results := make([]RecordResult, len(events))
	for i, event := range events {
		results[i] = r.Record(ctx, event)
	}
	return results
}

func (r *ChangeEventRecorder) drop(ctx context.Context, result RecordResult, err error, reason string) RecordResult {
	result.Outcome = OutcomeDropped
	result.Err = err
	r.publish(ctx, eventbus.EventTypeChangeDropped, ChangeRecorded{
		ConfigID:   result.ConfigID,
		ChangeType: result.ChangeType,
		Reason:     reason,
	})
	return result
}

func (r *ChangeEventRecorder) publish(ctx context.Context, eventType string, data interface{}) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, eventbus.NewBasicEvent(eventType, data, "recorder")); err != nil {
		r.logger.WithError(err).Debug("Event observer failed")
	}
}
