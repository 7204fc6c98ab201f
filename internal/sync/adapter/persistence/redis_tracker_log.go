package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

// scanBatch is the number of stream entries read per XRANGE call
const scanBatch = 1000

// RedisTrackerLog keeps each config's change log in a Redis stream. Entry
// ids are assigned on arrival; the change timestamp is stored as a field.
type RedisTrackerLog struct {
	client    *redis.Client
	keyPrefix string
	logger    logger.Logger
}

func NewRedisTrackerLog(client *redis.Client, keyPrefix string, log logger.Logger) *RedisTrackerLog {
	return &RedisTrackerLog{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    log.WithComponent("redis_tracker_log"),
	}
}

// StreamKey is the stream holding the change log of cfg
func (r *RedisTrackerLog) StreamKey(cfg *model.CollectionConfig) string {
	if r.keyPrefix == "" {
		return "tracker:" + cfg.TrackerTableName()
	}
	return r.keyPrefix + ":tracker:" + cfg.TrackerTableName()
}

func (r *RedisTrackerLog) Append(ctx context.Context, cfg *model.CollectionConfig, record model.ChangeRecord) error {
	values := ""
	if record.ChangeType != model.ChangeTypeDeleted {
		encoded, err := EncodeValues(record.Values)
		if err != nil {
			return fmt.Errorf("failed to encode change record: %w", err)
		}
		values = encoded
	}

	stream := r.StreamKey(cfg)
	_, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"changeType": string(record.ChangeType),
			"timestamp":  record.Timestamp.UTC().UnixNano(),
			"documentId": record.DocumentID,
			"values":     values,
		},
	}).Result()
	if err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{"stream": stream}).Error("Failed to append change record")
		return err
	}
	return nil
}

func (r *RedisTrackerLog) Window(ctx context.Context, cfg *model.CollectionConfig, start, end time.Time) ([]model.ChangeRecord, error) {
	return r.scan(ctx, cfg, func(rec model.ChangeRecord) bool {
		return !rec.Timestamp.Before(start) && rec.Timestamp.Before(end)
	})
}

func (r *RedisTrackerLog) History(ctx context.Context, cfg *model.CollectionConfig, documentIDs []string, end time.Time) ([]model.ChangeRecord, error) {
	wanted := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		wanted[id] = true
	}
	return r.scan(ctx, cfg, func(rec model.ChangeRecord) bool {
		return wanted[rec.DocumentID] && rec.Timestamp.Before(end)
	})
}

// Trim drops entries that arrived before the cutoff. A change never arrives
// before it happened, so this never removes an entry newer than before.
func (r *RedisTrackerLog) Trim(ctx context.Context, cfg *model.CollectionConfig, before time.Time) (int64, error) {
	minID := strconv.FormatInt(before.UnixMilli(), 10) + "-0"
	return r.client.XTrimMinID(ctx, r.StreamKey(cfg), minID).Result()
}

// scan walks the whole stream in id order and keeps the matching entries
func (r *RedisTrackerLog) scan(ctx context.Context, cfg *model.CollectionConfig, keep func(model.ChangeRecord) bool) ([]model.ChangeRecord, error) {
	stream := r.StreamKey(cfg)
	var out []model.ChangeRecord
	from := "-"
	for {
		msgs, err := r.client.XRangeN(ctx, stream, from, "+", scanBatch).Result()
		if err != nil {
			if err == redis.Nil {
				break
			}
			return nil, err
		}
		for _, msg := range msgs {
			rec, err := parseChangeRecord(cfg, msg)
			if err != nil {
				r.logger.WithError(err).WithFields(map[string]interface{}{
					"stream":     stream,
					"message_id": msg.ID,
				}).Warn("Skipping unreadable change record")
				continue
			}
			if keep(rec) {
				out = append(out, rec)
			}
		}
		if len(msgs) < scanBatch {
			break
		}
		from = "(" + msgs[len(msgs)-1].ID
	}
	model.SortChangeRecords(out)
	return out, nil
}

func parseChangeRecord(cfg *model.CollectionConfig, msg redis.XMessage) (model.ChangeRecord, error) {
	field := func(name string) string {
		if v, ok := msg.Values[name].(string); ok {
			return v
		}
		return ""
	}

	changeType := model.ChangeType(field("changeType"))
	if !changeType.IsValid() {
		return model.ChangeRecord{}, fmt.Errorf("invalid change type %q", changeType)
	}
	nanos, err := strconv.ParseInt(field("timestamp"), 10, 64)
	if err != nil {
		return model.ChangeRecord{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	values, err := DecodeValues(cfg, []byte(field("values")))
	if err != nil {
		return model.ChangeRecord{}, err
	}

	return model.ChangeRecord{
		ChangeType: changeType,
		Timestamp:  time.Unix(0, nanos).UTC(),
		DocumentID: field("documentId"),
		Values:     values,
	}, nil
}
