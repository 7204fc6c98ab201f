package sqlite

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/sync/domain/model"
)

func (w *Warehouse) GetCheckpoint(ctx context.Context, instanceID, configID string) (*model.Checkpoint, error) {
	var nanos int64
	found, err := w.gdb.From(goqu.T(checkpointTable)).
		Prepared(true).
		Select(goqu.C("last_run_unix_nano")).
		Where(goqu.C("instance_id").Eq(instanceID), goqu.C("config_id").Eq(configID)).
		ScanValContext(ctx, &nanos)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NewNotFoundError("checkpoint " + instanceID + "/" + configID)
	}
	return &model.Checkpoint{
		InstanceID:  instanceID,
		ConfigID:    configID,
		LastRunDate: time.Unix(0, nanos).UTC(),
	}, nil
}

func (w *Warehouse) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
	_, err := w.gdb.Insert(goqu.T(checkpointTable)).
		Prepared(true).
		Rows(goqu.Record{
			"instance_id":        checkpoint.InstanceID,
			"config_id":          checkpoint.ConfigID,
			"last_run_unix_nano": checkpoint.LastRunDate.UnixNano(),
			"last_run_date":      model.FormatInstant(checkpoint.LastRunDate),
		}).
		OnConflict(goqu.DoUpdate("instance_id, config_id", goqu.Record{
			"last_run_unix_nano": goqu.T("excluded").Col("last_run_unix_nano"),
			"last_run_date":      goqu.T("excluded").Col("last_run_date"),
		})).
		Executor().ExecContext(ctx)
	return err
}
