package usecase

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/eventbus"
	"firestore-sync/internal/shared/firestore"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/shared/utils"
	"firestore-sync/internal/sync/domain/model"
	"firestore-sync/internal/sync/domain/repository"
)

// DefaultBackfillPageSize is used when no page size is configured
const DefaultBackfillPageSize = 100

// BackfillPage is the payload of backfill.page events
type BackfillPage struct {
	ConfigID string
	Page     int
	Rows     int
	Skipped  int
	Dropped  bool
}

// BackfillEngine bulk-loads existing documents straight into the main table
type BackfillEngine struct {
	resolver *ConfigResolver
	coercion *CoercionEngine
	source   repository.DocumentSource
	table    repository.MainTable
	bus      eventbus.EventBusInterface
	pageSize int
	logger   logger.Logger
}

// NewBackfillEngine creates an engine; bus may be nil
func NewBackfillEngine(resolver *ConfigResolver, coercion *CoercionEngine, source repository.DocumentSource, table repository.MainTable, bus eventbus.EventBusInterface, pageSize int, log logger.Logger) *BackfillEngine {
	if pageSize <= 0 {
		pageSize = DefaultBackfillPageSize
	}
	return &BackfillEngine{
		resolver: resolver,
		coercion: coercion,
		source:   source,
		table:    table,
		bus:      bus,
		pageSize: pageSize,
		logger:   log.WithComponent("backfill"),
	}
}

// RunAll backfills every config with backfill enabled
func (b *BackfillEngine) RunAll(ctx context.Context) []model.BackfillResult {
	var results []model.BackfillResult
	for _, cfg := range b.resolver.Configs() {
		if !cfg.BackfillEnabled() {
			continue
		}
		result, err := b.Run(ctx, cfg)
		if err != nil {
			b.logger.WithError(err).WithFields(map[string]interface{}{"config_id": cfg.ID}).Error("Backfill failed")
		}
		results = append(results, result)
	}
	return results
}

// RunByID backfills a single config regardless of its backfill flag
func (b *BackfillEngine) RunByID(ctx context.Context, configID string) (model.BackfillResult, error) {
	cfg, ok := b.resolver.Get(configID)
	if !ok {
		return model.BackfillResult{ConfigID: configID}, errors.NewNotFoundError("collection config " + configID)
	}
	return b.Run(ctx, cfg)
}

// Scopes lists the scans that cover cfg: its collection group, or one scan
// per path pattern. Wildcard patterns scan the group named by their last
// segment.
func (b *BackfillEngine) Scopes(cfg *CompiledConfig) []model.BackfillScope {
	if cfg.CollectionGroup != "" {
		return []model.BackfillScope{{CollectionGroup: cfg.CollectionGroup}}
	}

	var scopes []model.BackfillScope
	seenGroups := make(map[string]bool)
	for _, p := range cfg.patterns {
		if !p.hasWildcard() {
			scopes = append(scopes, model.BackfillScope{CollectionPath: p.raw})
			continue
		}
		group := p.groupID()
		if group == "" {
			b.logger.WithFields(map[string]interface{}{"config_id": cfg.ID, "pattern": p.raw}).
				Warn("Pattern ends in a wildcard and cannot be backfilled")
			continue
		}
		if seenGroups[group] {
			continue
		}
		seenGroups[group] = true
		scopes = append(scopes, model.BackfillScope{CollectionGroup: group, Pattern: p.raw})
	}
	return scopes
}

// Run pages through every scope of cfg. A page whose insert fails is logged
// and dropped; pagination continues with the next page.
func (b *BackfillEngine) Run(ctx context.Context, cfg *CompiledConfig) (model.BackfillResult, error) {
	runID := uuid.NewString()
	ctx = utils.WithRunID(utils.WithConfigID(ctx, cfg.ID), runID)
	log := b.logger.WithContext(ctx)
	result := model.BackfillResult{ConfigID: cfg.ID, RunID: runID}

	if err := b.table.EnsureTables(ctx, &cfg.CollectionConfig); err != nil {
		return result, errors.NewInfrastructureError("failed to provision tables").WithCause(err)
	}

	var firstErr error
	for _, scope := range b.Scopes(cfg) {
		if err := b.scan(ctx, cfg, scope, &result); err != nil {
			log.WithError(err).WithFields(map[string]interface{}{"scope": scope.String()}).Error("Backfill scan aborted")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	log.WithFields(map[string]interface{}{
		"pages":         result.Pages,
		"documents":     result.Documents,
		"inserted":      result.Inserted,
		"dropped_pages": result.DroppedPages,
	}).Info("Backfill completed")
	return result, firstErr
}

func (b *BackfillEngine) scan(ctx context.Context, cfg *CompiledConfig, scope model.BackfillScope, result *model.BackfillResult) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		docs, err := b.source.Page(ctx, scope, cursor, b.pageSize+1)
		if err != nil {
			return errors.NewInfrastructureError("failed to read backfill page").WithCause(err)
		}

		next := ""
		if len(docs) > b.pageSize {
			next = docs[b.pageSize].Path
			docs = docs[:b.pageSize]
		}

		result.Pages++
		b.loadPage(ctx, cfg, result.Pages, docs, result)

		if next == "" {
			return nil
		}
		cursor = next
	}
}

// loadPage coerces a page concurrently and bulk-inserts the rows once
func (b *BackfillEngine) loadPage(ctx context.Context, cfg *CompiledConfig, page int, docs []model.SourceDocument, result *model.BackfillResult) {
	log := b.logger.WithContext(ctx)

	slots := make([]*model.Row, len(docs))
	var skippedMu sync.Mutex
	skipped := 0

	var g errgroup.Group
	g.SetLimit(b.pageSize)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			row, ok := b.coerceDocument(ctx, cfg, doc)
			if !ok {
				skippedMu.Lock()
				skipped++
				skippedMu.Unlock()
				return nil
			}
			slots[i] = &row
			return nil
		})
	}
	_ = g.Wait()

	rows := make([]model.Row, 0, len(docs))
	for _, row := range slots {
		if row != nil {
			rows = append(rows, *row)
		}
	}

	result.Documents += len(docs)
	result.SkippedDocs += skipped
	pageEvent := BackfillPage{ConfigID: cfg.ID, Page: page, Rows: len(rows), Skipped: skipped}

	if len(rows) > 0 {
		if err := b.table.BulkInsert(ctx, &cfg.CollectionConfig, rows); err != nil {
			ids := make([]string, len(rows))
			for i, row := range rows {
				ids[i] = row.DocumentID
			}
			pageErr := errors.NewBackfillPageInsertError(cfg.ID, page, len(rows), err).WithDetail("document_ids", ids)
			log.WithError(pageErr).WithFields(map[string]interface{}{
				"page":         page,
				"rows":         len(rows),
				"document_ids": ids,
			}).Error("Backfill page insert failed, dropping page")
			result.DroppedPages++
			result.DroppedRows += len(rows)
			pageEvent.Dropped = true
		} else {
			result.Inserted += len(rows)
		}
	}

	if b.bus != nil {
		if err := b.bus.Publish(ctx, eventbus.NewBasicEvent(eventbus.EventTypeBackfillPage, pageEvent, "backfill")); err != nil {
			log.WithError(err).Debug("Event observer failed")
		}
	}
}

// coerceDocument matches a document against cfg and coerces it; documents
// outside the config's patterns or failing their transform are skipped
func (b *BackfillEngine) coerceDocument(ctx context.Context, cfg *CompiledConfig, doc model.SourceDocument) (model.Row, bool) {
	log := b.logger.WithContext(utils.WithDocumentPath(ctx, doc.Path))

	segments := firestore.ParseDocumentPath(doc.Path)
	if len(segments) < 2 || len(segments)%2 != 0 {
		log.Warn("Skipping backfill document with an invalid path")
		return model.Row{}, false
	}
	parentID, _, ok := cfg.Match(segments[:len(segments)-1])
	if !ok {
		return model.Row{}, false
	}

	documentID := doc.ID
	if documentID == "" {
		documentID = segments[len(segments)-1]
	}

	row, err := b.coercion.Coerce(ctx, doc.Data, documentID, parentID, cfg)
	if err != nil {
		log.WithError(err).Error("Skipping backfill document")
		return model.Row{}, false
	}
	return row, true
}
