package manifest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/relsync/relsync/internal/table"
)

// metadataCollection lists the available manifests; each manifest's rows live
// in their own collection named "manifest_<id>".
const metadataCollection = "manifests"

// MongoStoreConfig holds the settings for a MongoDB-backed manifest store.
type MongoStoreConfig struct {
	URI      string
	Database string
}

// MongoStore retrieves manifests from a MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(ctx context.Context, cfg MongoStoreConfig) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to manifest store: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping manifest store: %w", err)
	}
	return &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
	}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Metadata(ctx context.Context) ([]Metadata, error) {
	opts := options.Find().SetSort(bson.D{{Key: "manifest_id", Value: 1}})
	cursor, err := s.db.Collection(metadataCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest metadata: %w", err)
	}
	var metadata []Metadata
	if err := cursor.All(ctx, &metadata); err != nil {
		return nil, fmt.Errorf("failed to read manifest metadata: %w", err)
	}
	return metadata, nil
}

func (s *MongoStore) ManifestIDs(ctx context.Context, tableName string) ([]string, error) {
	metadata, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return idsForTable(metadata, tableName), nil
}

func (s *MongoStore) DownloadManifest(ctx context.Context, manifestID string) (table.Table, error) {
	collection := s.db.Collection("manifest_" + manifestID)
	cursor, err := collection.Find(ctx, bson.D{})
	if err != nil {
		return table.Table{}, fmt.Errorf("failed to download manifest %q: %w", manifestID, err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return table.Table{}, fmt.Errorf("failed to read manifest %q: %w", manifestID, err)
	}

	// column order: sorted union across documents, skipping mongo's _id
	var columns []string
	seen := map[string]bool{"_id": true}
	for _, doc := range docs {
		for key := range doc {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	sort.Strings(columns)

	out := table.New(columns...)
	for _, doc := range docs {
		row := make(table.Row, len(columns))
		for _, c := range columns {
			if v, ok := doc[c]; ok {
				row[c] = table.Normalize(v)
			} else {
				row[c] = nil
			}
		}
		out.Append(row)
	}
	return out, nil
}
