package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/sync/domain/model"
)

// checkpointDocument stores the window end twice: last_run_date for people
// reading the collection, last_run_unix_nano because BSON dates stop at
// milliseconds
type checkpointDocument struct {
	InstanceID      string    `bson:"instance_id"`
	ConfigID        string    `bson:"config_id"`
	LastRunDate     time.Time `bson:"last_run_date"`
	LastRunUnixNano int64     `bson:"last_run_unix_nano"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// CheckpointStore keeps consolidation checkpoints in MongoDB
type CheckpointStore struct {
	collection *mongo.Collection
}

func NewCheckpointStore(db *mongo.Database, collectionName string) *CheckpointStore {
	return &CheckpointStore{collection: db.Collection(collectionName)}
}

// EnsureIndexes makes (instance_id, config_id) unique
func (s *CheckpointStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "instance_id", Value: 1}, {Key: "config_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *CheckpointStore) GetCheckpoint(ctx context.Context, instanceID, configID string) (*model.Checkpoint, error) {
	var doc checkpointDocument
	err := s.collection.FindOne(ctx, bson.M{"instance_id": instanceID, "config_id": configID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.NewNotFoundError("checkpoint " + instanceID + "/" + configID)
		}
		return nil, err
	}

	last := doc.LastRunDate.UTC()
	if doc.LastRunUnixNano != 0 {
		last = time.Unix(0, doc.LastRunUnixNano).UTC()
	}
	return &model.Checkpoint{InstanceID: doc.InstanceID, ConfigID: doc.ConfigID, LastRunDate: last}, nil
}

func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
	doc := checkpointDocument{
		InstanceID:      checkpoint.InstanceID,
		ConfigID:        checkpoint.ConfigID,
		LastRunDate:     checkpoint.LastRunDate.UTC(),
		LastRunUnixNano: checkpoint.LastRunDate.UnixNano(),
		UpdatedAt:       time.Now().UTC(),
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"instance_id": checkpoint.InstanceID, "config_id": checkpoint.ConfigID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}
