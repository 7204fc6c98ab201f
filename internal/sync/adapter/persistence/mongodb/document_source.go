package mongodb

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/cockroachdb/apd/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

// storedDocument is the layout of one mirrored Firestore document
type storedDocument struct {
	Path           string `bson:"path"`
	CollectionID   string `bson:"collection_id"`
	CollectionPath string `bson:"collection_path"`
	DocumentID     string `bson:"document_id"`
	Data           bson.D `bson:"data"`
}

// DocumentSource reads the documents to backfill from a MongoDB mirror of the
// Firestore database, one document per path
type DocumentSource struct {
	collection *mongo.Collection
	logger     logger.Logger
}

// NewDocumentSource reads from the named collection of db
func NewDocumentSource(db *mongo.Database, collectionName string, log logger.Logger) *DocumentSource {
	return &DocumentSource{
		collection: db.Collection(collectionName),
		logger:     log.WithComponent("mongo_document_source"),
	}
}

// EnsureIndexes creates the indexes used by paged scans
func (s *DocumentSource) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "path", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "collection_id", Value: 1}, {Key: "path", Value: 1}}},
		{Keys: bson.D{{Key: "collection_path", Value: 1}, {Key: "path", Value: 1}}},
	})
	return err
}

func (s *DocumentSource) Page(ctx context.Context, scope model.BackfillScope, startAt string, limit int) ([]model.SourceDocument, error) {
	filter := bson.M{}
	if scope.CollectionGroup != "" {
		filter["collection_id"] = scope.CollectionGroup
	} else {
		filter["collection_path"] = scope.CollectionPath
	}
	if startAt != "" {
		filter["path"] = bson.M{"$gte": startAt}
	}

	opts := options.Find().SetSort(bson.D{{Key: "path", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []model.SourceDocument
	for cursor.Next(ctx) {
		var stored storedDocument
		if err := cursor.Decode(&stored); err != nil {
			s.logger.WithError(err).Warn("Skipping undecodable source document")
			continue
		}
		docs = append(docs, model.SourceDocument{
			Path: stored.Path,
			ID:   stored.DocumentID,
			Data: FromBSON(stored.Data),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// FromBSON converts a decoded BSON value into a Value. Decimal128 keeps its
// exact digits; binary data becomes base64 text.
func FromBSON(x interface{}) model.Value {
	switch t := x.(type) {
	case primitive.D:
		fields := make(map[string]model.Value, len(t))
		for _, e := range t {
			fields[e.Key] = FromBSON(e.Value)
		}
		return model.Object(fields)
	case primitive.M:
		fields := make(map[string]model.Value, len(t))
		for k, v := range t {
			fields[k] = FromBSON(v)
		}
		return model.Object(fields)
	case primitive.A:
		items := make([]model.Value, len(t))
		for i, v := range t {
			items[i] = FromBSON(v)
		}
		return model.Array(items)
	case primitive.DateTime:
		return model.Timestamp(t.Time())
	case primitive.Timestamp:
		return model.Timestamp(time.Unix(int64(t.T), 0))
	case primitive.Decimal128:
		d, _, err := apd.NewFromString(t.String())
		if err != nil {
			return model.Null
		}
		return model.Decimal(d)
	case primitive.ObjectID:
		return model.String(t.Hex())
	case primitive.Binary:
		return model.String(base64.StdEncoding.EncodeToString(t.Data))
	case primitive.Null, primitive.Undefined:
		return model.Null
	}
	return model.FromInterface(x)
}
