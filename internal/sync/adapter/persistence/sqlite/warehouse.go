package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"

	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

const (
	checkpointTable = "_sync_checkpoints"

	// maxVariables stays under SQLite's bound parameter limit per statement
	maxVariables = 30000
)

// Warehouse is a SQLite-backed warehouse holding each config's main table and
// tracker table plus the consolidation checkpoints
type Warehouse struct {
	db     *sql.DB
	gdb    *goqu.Database
	logger logger.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// Open creates or opens the database at dsn and provisions the checkpoint
// table. ":memory:" gives a private in-memory warehouse.
func Open(dsn string, log logger.Logger) (*Warehouse, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	// one writer at a time; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	w := &Warehouse{
		db:      db,
		gdb:     goqu.Dialect("sqlite3").DB(db),
		logger:  log.WithComponent("sqlite_warehouse"),
		ensured: make(map[string]bool),
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		instance_id TEXT NOT NULL,
		config_id TEXT NOT NULL,
		last_run_unix_nano INTEGER NOT NULL,
		last_run_date TEXT NOT NULL,
		PRIMARY KEY (instance_id, config_id)
	)`, quoteIdent(checkpointTable))
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return w, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (w *Warehouse) Close() error {
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Warehouse) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// EnsureTables creates the main and tracker tables of cfg and adds columns
// for fields introduced since the tables were created
func (w *Warehouse) EnsureTables(ctx context.Context, cfg *model.CollectionConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ensured[cfg.TableName()] {
		return nil
	}

	main := cfg.TableName()
	tracker := cfg.TrackerTableName()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY%s)`,
			quoteIdent(main), quoteIdent(colDocumentID), columnDDL(cfg)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			%s TEXT NOT NULL,
			%s INTEGER NOT NULL,
			%s TEXT NOT NULL%s)`,
			quoteIdent(tracker), quoteIdent(colChangeType), quoteIdent(colTimestamp), quoteIdent(colDocumentID), columnDDL(cfg)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
			quoteIdent(tracker+"_timestamp_idx"), quoteIdent(tracker), quoteIdent(colTimestamp)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)`,
			quoteIdent(tracker+"_document_idx"), quoteIdent(tracker), quoteIdent(colDocumentID), quoteIdent(colTimestamp)),
	}
	for _, stmt := range statements {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to provision tables for %s: %w", cfg.ID, err)
		}
	}

	for _, table := range []string{main, tracker} {
		if err := w.addMissingColumns(ctx, table, cfg); err != nil {
			return err
		}
	}

	w.ensured[main] = true
	w.logger.WithFields(map[string]interface{}{
		"config_id": cfg.ID,
		"table":     main,
		"tracker":   tracker,
	}).Debug("Warehouse tables ready")
	return nil
}

func (w *Warehouse) addMissingColumns(ctx context.Context, table string, cfg *model.CollectionConfig) error {
	rows, err := w.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue interface{}
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to inspect table %s: %w", table, err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, def := range cfg.Fields {
		if existing[def.Name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(def.Name), sqlType(def))
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", def.Name, table, err)
		}
		w.logger.WithFields(map[string]interface{}{"table": table, "column": def.Name}).Info("Added warehouse column")
	}
	return nil
}

func (w *Warehouse) Append(ctx context.Context, cfg *model.CollectionConfig, record model.ChangeRecord) error {
	row := goqu.Record{
		colChangeType: string(record.ChangeType),
		colTimestamp:  record.Timestamp.UTC().UnixNano(),
		colDocumentID: record.DocumentID,
	}
	for _, def := range cfg.Fields {
		v := model.Null
		if record.ChangeType != model.ChangeTypeDeleted {
			v = record.Values[def.Name]
		}
		encoded, err := toSQL(def, v)
		if err != nil {
			return err
		}
		row[def.Name] = encoded
	}

	_, err := w.gdb.Insert(goqu.T(cfg.TrackerTableName())).Prepared(true).Rows(row).Executor().ExecContext(ctx)
	return err
}

func (w *Warehouse) Window(ctx context.Context, cfg *model.CollectionConfig, start, end time.Time) ([]model.ChangeRecord, error) {
	query := w.trackerSelect(cfg).Where(
		goqu.C(colTimestamp).Gte(start.UTC().UnixNano()),
		goqu.C(colTimestamp).Lt(end.UTC().UnixNano()),
	)
	return w.queryRecords(ctx, cfg, query)
}

func (w *Warehouse) History(ctx context.Context, cfg *model.CollectionConfig, documentIDs []string, end time.Time) ([]model.ChangeRecord, error) {
	var out []model.ChangeRecord
	for _, chunk := range chunkStrings(documentIDs, maxVariables-1) {
		query := w.trackerSelect(cfg).Where(
			goqu.C(colDocumentID).In(chunk),
			goqu.C(colTimestamp).Lt(end.UTC().UnixNano()),
		)
		records, err := w.queryRecords(ctx, cfg, query)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	model.SortChangeRecords(out)
	return out, nil
}

func (w *Warehouse) Trim(ctx context.Context, cfg *model.CollectionConfig, before time.Time) (int64, error) {
	res, err := w.gdb.Delete(goqu.T(cfg.TrackerTableName())).
		Prepared(true).
		Where(goqu.C(colTimestamp).Lt(before.UTC().UnixNano())).
		Executor().ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (w *Warehouse) trackerSelect(cfg *model.CollectionConfig) *goqu.SelectDataset {
	cols := []interface{}{goqu.C(colChangeType), goqu.C(colTimestamp), goqu.C(colDocumentID)}
	for _, def := range cfg.Fields {
		cols = append(cols, goqu.C(def.Name))
	}
	return w.gdb.From(goqu.T(cfg.TrackerTableName())).
		Prepared(true).
		Select(cols...).
		Order(goqu.C(colTimestamp).Asc(), goqu.C("seq").Asc())
}

func (w *Warehouse) queryRecords(ctx context.Context, cfg *model.CollectionConfig, query *goqu.SelectDataset) ([]model.ChangeRecord, error) {
	sqlText, args, err := query.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := w.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChangeRecord
	for rows.Next() {
		var (
			changeType string
			nanos      int64
			documentID string
		)
		raw := make([]interface{}, len(cfg.Fields))
		dest := []interface{}{&changeType, &nanos, &documentID}
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		record := model.ChangeRecord{
			ChangeType: model.ChangeType(changeType),
			Timestamp:  time.Unix(0, nanos).UTC(),
			DocumentID: documentID,
		}
		if record.ChangeType != model.ChangeTypeDeleted {
			record.Values = make(map[string]model.Value, len(cfg.Fields))
			for i, def := range cfg.Fields {
				v, err := fromSQL(def, raw[i])
				if err != nil {
					return nil, err
				}
				record.Values[def.Name] = v
			}
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (w *Warehouse) Existing(ctx context.Context, cfg *model.CollectionConfig, documentIDs []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for _, chunk := range chunkStrings(documentIDs, maxVariables) {
		var ids []string
		err := w.gdb.From(goqu.T(cfg.TableName())).
			Prepared(true).
			Select(goqu.C(colDocumentID)).
			Where(goqu.C(colDocumentID).In(chunk)).
			ScanValsContext(ctx, &ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			found[id] = true
		}
	}
	return found, nil
}

// Apply runs the plan in one transaction: inserts, then updates of the
// non-null columns, then deletes
func (w *Warehouse) Apply(ctx context.Context, cfg *model.CollectionConfig, plan model.ReconcilePlan) error {
	if plan.IsEmpty() {
		return nil
	}
	table := goqu.T(cfg.TableName())

	return w.gdb.WithTx(func(tx *goqu.TxDatabase) error {
		if err := upsertRows(ctx, tx, cfg, plan.Inserts); err != nil {
			return err
		}

		for _, row := range plan.Updates {
			set := goqu.Record{}
			for _, def := range cfg.Fields {
				v, ok := row.Values[def.Name]
				if !ok || v.IsNull() {
					continue
				}
				encoded, err := toSQL(def, v)
				if err != nil {
					return err
				}
				set[def.Name] = encoded
			}
			if len(set) == 0 {
				continue
			}
			_, err := tx.Update(table).
				Prepared(true).
				Set(set).
				Where(goqu.C(colDocumentID).Eq(row.DocumentID)).
				Executor().ExecContext(ctx)
			if err != nil {
				return fmt.Errorf("failed to update %s: %w", row.DocumentID, err)
			}
		}

		for _, chunk := range chunkStrings(plan.Deletes, maxVariables) {
			_, err := tx.Delete(table).
				Prepared(true).
				Where(goqu.C(colDocumentID).In(chunk)).
				Executor().ExecContext(ctx)
			if err != nil {
				return fmt.Errorf("failed to delete rows: %w", err)
			}
		}
		return nil
	})
}

// BulkInsert replaces whole rows in one transaction
func (w *Warehouse) BulkInsert(ctx context.Context, cfg *model.CollectionConfig, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	return w.gdb.WithTx(func(tx *goqu.TxDatabase) error {
		return upsertRows(ctx, tx, cfg, rows)
	})
}

func upsertRows(ctx context.Context, tx *goqu.TxDatabase, cfg *model.CollectionConfig, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}

	replace := goqu.Record{}
	for _, def := range cfg.Fields {
		replace[def.Name] = goqu.T("excluded").Col(def.Name)
	}

	perStatement := rowsPerStatement(len(cfg.Fields) + 1)
	for start := 0; start < len(rows); start += perStatement {
		end := start + perStatement
		if end > len(rows) {
			end = len(rows)
		}

		records := make([]interface{}, 0, end-start)
		for _, row := range rows[start:end] {
			record := goqu.Record{colDocumentID: row.DocumentID}
			for _, def := range cfg.Fields {
				encoded, err := toSQL(def, row.Get(def.Name))
				if err != nil {
					return err
				}
				record[def.Name] = encoded
			}
			records = append(records, record)
		}

		insert := tx.Insert(goqu.T(cfg.TableName())).Prepared(true).Rows(records...)
		if len(replace) > 0 {
			insert = insert.OnConflict(goqu.DoUpdate(colDocumentID, replace))
		} else {
			insert = insert.OnConflict(goqu.DoNothing())
		}
		if _, err := insert.Executor().ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to write rows: %w", err)
		}
	}
	return nil
}

// rowsPerStatement is how many rows of columns values fit in one statement
func rowsPerStatement(columns int) int {
	if columns < 1 {
		columns = 1
	}
	if n := maxVariables / columns; n > 0 {
		return n
	}
	return 1
}

// Rows reads back the whole main table of cfg
func (w *Warehouse) Rows(ctx context.Context, cfg *model.CollectionConfig) (map[string]model.Row, error) {
	cols := []interface{}{goqu.C(colDocumentID)}
	for _, def := range cfg.Fields {
		cols = append(cols, goqu.C(def.Name))
	}
	sqlText, args, err := w.gdb.From(goqu.T(cfg.TableName())).Prepared(true).Select(cols...).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := w.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.Row)
	for rows.Next() {
		var documentID string
		raw := make([]interface{}, len(cfg.Fields))
		dest := []interface{}{&documentID}
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := model.NewRow(documentID)
		for i, def := range cfg.Fields {
			v, err := fromSQL(def, raw[i])
			if err != nil {
				return nil, err
			}
			row.Values[def.Name] = v
		}
		out[documentID] = row
	}
	return out, rows.Err()
}

func chunkStrings(items []string, size int) [][]string {
	var chunks [][]string
	for len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}

// quoteIdent quotes an identifier for DDL, which goqu does not build
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
