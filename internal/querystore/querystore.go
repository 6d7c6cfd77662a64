// Package querystore runs SQL queries against the target database and
// publishes their results to a document store, one collection per result
// table, replacing any previous result wholesale.
package querystore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/relsync/relsync/internal/rdb"
	"github.com/relsync/relsync/internal/table"
	"github.com/relsync/relsync/pkg/logger"
)

// QueryStore receives query results keyed by table name.
type QueryStore interface {
	StoreQueryResult(ctx context.Context, tableName string, result table.Table) error
	Close() error
}

// MongoQueryStoreConfig holds the settings for a MongoDB result store.
type MongoQueryStoreConfig struct {
	URI      string
	Database string
}

// MongoQueryStore writes each query result to its own collection.
type MongoQueryStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoQueryStore(ctx context.Context, cfg MongoQueryStoreConfig) (*MongoQueryStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to query store: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping query store: %w", err)
	}
	return &MongoQueryStore{
		client: client,
		db:     client.Database(cfg.Database),
	}, nil
}

func (s *MongoQueryStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// StoreQueryResult replaces the collection's contents with the result rows.
func (s *MongoQueryStore) StoreQueryResult(ctx context.Context, tableName string, result table.Table) error {
	collection := s.db.Collection(tableName)
	if err := collection.Drop(ctx); err != nil {
		return fmt.Errorf("failed to clear query result %q: %w", tableName, err)
	}
	if result.NumRows() == 0 {
		return nil
	}

	docs := make([]any, 0, result.NumRows())
	for _, row := range result.Rows {
		doc := bson.M{}
		for _, c := range result.Columns {
			doc[c] = row[c]
		}
		docs = append(docs, doc)
	}
	if _, err := collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to store query result %q: %w", tableName, err)
	}
	return nil
}

// Queryer executes queries against a relational database and forwards the
// results to a store.
type Queryer struct {
	rdb   rdb.RelationalDatabase
	store QueryStore
	log   *logger.Logger
}

func NewQueryer(database rdb.RelationalDatabase, store QueryStore, log *logger.Logger) *Queryer {
	return &Queryer{rdb: database, store: store, log: log}
}

// StoreQueryResult runs one query and stores its result under tableName.
func (q *Queryer) StoreQueryResult(ctx context.Context, query, tableName string) error {
	result, err := q.rdb.ExecuteQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to execute query for %q: %w", tableName, err)
	}
	if err := q.store.StoreQueryResult(ctx, tableName, result); err != nil {
		return err
	}
	q.log.WithTable(tableName).Infof("stored query result (%d rows)", result.NumRows())
	return nil
}

// StoreQueryResults runs every query listed in a CSV file with the header
// columns "query" and "table_name", stopping at the first failure.
func (q *Queryer) StoreQueryResults(ctx context.Context, csvPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open query file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read query file header: %w", err)
	}
	queryIdx, tableIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.ToLower(col)) {
		case "query":
			queryIdx = i
		case "table_name":
			tableIdx = i
		}
	}
	if queryIdx < 0 || tableIdx < 0 {
		return fmt.Errorf("query file must have columns %q and %q", "query", "table_name")
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read query file: %w", err)
		}
		if err := q.StoreQueryResult(ctx, record[queryIdx], record[tableIdx]); err != nil {
			return err
		}
	}
}
