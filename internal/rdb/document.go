package rdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/internal/table"
	"github.com/relsync/relsync/internal/upsert"
	"github.com/relsync/relsync/pkg/logger"
)

// schemaCollection stores one document per table describing its generic
// schema. MongoDB has no DDL, so this collection is the authoritative list of
// tables and their shapes.
const schemaCollection = "table_schemas"

type columnDoc struct {
	Name     string `bson:"name"`
	Datatype string `bson:"datatype"`
	Required bool   `bson:"required"`
	Index    bool   `bson:"index"`
}

type foreignKeyDoc struct {
	Column        string `bson:"column"`
	ForeignTable  string `bson:"foreign_table"`
	ForeignColumn string `bson:"foreign_column"`
}

type schemaDoc struct {
	TableName   string          `bson:"table_name"`
	PrimaryKey  string          `bson:"primary_key"`
	Columns     []columnDoc     `bson:"columns"`
	ForeignKeys []foreignKeyDoc `bson:"foreign_keys"`
}

// DocumentConfig holds the settings for the MongoDB-backed tabular store.
type DocumentConfig struct {
	URI      string
	Database string
}

// DocumentDatabase stores tables as MongoDB collections. It has no SQL
// surface and no native conditional upsert, so UpsertRows reads the current
// keyed state, partitions it, and applies only the insert and update sets,
// which keeps the merge semantics identical to the SQL backends.
type DocumentDatabase struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logger.Logger
}

// OpenDocument connects to MongoDB and verifies the connection.
func OpenDocument(ctx context.Context, cfg DocumentConfig, log *logger.Logger) (*DocumentDatabase, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("document store requires a database name")
	}
	return &DocumentDatabase{
		client: client,
		db:     client.Database(cfg.Database),
		log:    log,
	}, nil
}

func (d *DocumentDatabase) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

func (d *DocumentDatabase) TableNames(ctx context.Context) ([]string, error) {
	cursor, err := d.db.Collection(schemaCollection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list table schemas: %w", err)
	}
	var docs []schemaDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read table schemas: %w", err)
	}
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.TableName)
	}
	sort.Strings(names)
	return names, nil
}

func (d *DocumentDatabase) TableSchema(ctx context.Context, name string) (schema.TableSchema, error) {
	doc, err := d.schemaDoc(ctx, name)
	if err != nil {
		return schema.TableSchema{}, &TableError{Table: name, Op: "introspect", Err: err}
	}

	columns := make([]schema.ColumnSchema, 0, len(doc.Columns))
	for _, c := range doc.Columns {
		datatype, err := schema.ParseDatatype(c.Datatype)
		if err != nil {
			return schema.TableSchema{}, &TableError{Table: name, Op: "introspect", Err: err}
		}
		columns = append(columns, schema.ColumnSchema{
			Name:     c.Name,
			Datatype: datatype,
			Required: c.Required,
			Index:    c.Index,
		})
	}
	keys := make([]schema.ForeignKeySchema, 0, len(doc.ForeignKeys))
	for _, k := range doc.ForeignKeys {
		keys = append(keys, schema.ForeignKeySchema{
			Name:              k.Column,
			ForeignTableName:  k.ForeignTable,
			ForeignColumnName: k.ForeignColumn,
		})
	}
	return schema.NewTableSchema(name, columns, doc.PrimaryKey, keys)
}

func (d *DocumentDatabase) schemaDoc(ctx context.Context, name string) (schemaDoc, error) {
	var doc schemaDoc
	err := d.db.Collection(schemaCollection).
		FindOne(ctx, bson.D{{Key: "table_name", Value: name}}).
		Decode(&doc)
	if err != nil {
		return schemaDoc{}, fmt.Errorf("failed to load schema for table %q: %w", name, err)
	}
	return doc, nil
}

func (d *DocumentDatabase) AddTable(ctx context.Context, ts schema.TableSchema) error {
	doc := schemaDoc{
		TableName:  ts.Name(),
		PrimaryKey: ts.PrimaryKey(),
	}
	for _, c := range ts.Columns() {
		doc.Columns = append(doc.Columns, columnDoc{
			Name:     c.Name,
			Datatype: string(c.Datatype),
			Required: c.Required,
			Index:    c.Index,
		})
	}
	for _, k := range ts.ForeignKeys() {
		doc.ForeignKeys = append(doc.ForeignKeys, foreignKeyDoc{
			Column:        k.Name,
			ForeignTable:  k.ForeignTableName,
			ForeignColumn: k.ForeignColumnName,
		})
	}

	_, err := d.db.Collection(schemaCollection).ReplaceOne(
		ctx,
		bson.D{{Key: "table_name", Value: ts.Name()}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return &TableError{Table: ts.Name(), Op: "add table", Err: err}
	}

	collection := d.db.Collection(ts.Name())
	indexes := []mongo.IndexModel{{
		Keys:    bson.D{{Key: ts.PrimaryKey(), Value: 1}},
		Options: options.Index().SetUnique(true),
	}}
	for _, c := range ts.Columns() {
		if c.Index && c.Name != ts.PrimaryKey() {
			indexes = append(indexes, mongo.IndexModel{
				Keys: bson.D{{Key: c.Name, Value: 1}},
			})
		}
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return &TableError{Table: ts.Name(), Op: "add table", Err: err}
	}
	return nil
}

// DropTable refuses to drop a table that other tables reference, since
// MongoDB does not enforce foreign keys for us.
func (d *DocumentDatabase) DropTable(ctx context.Context, name string) error {
	current, err := currentSchema(ctx, d)
	if err != nil {
		return &TableError{Table: name, Op: "drop table", Err: err}
	}
	if dependents := current.ReverseDependencies(name); len(dependents) > 0 {
		return &TableError{
			Table: name,
			Op:    "drop table",
			Err:   fmt.Errorf("table is referenced by: %v", dependents),
		}
	}
	return d.dropCollection(ctx, name)
}

func (d *DocumentDatabase) DropTableAndDependents(ctx context.Context, name string) error {
	current, err := currentSchema(ctx, d)
	if err != nil {
		return &TableError{Table: name, Op: "drop table and dependents", Err: err}
	}
	for _, t := range dependentsClosure(current, name) {
		if err := d.dropCollection(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (d *DocumentDatabase) dropCollection(ctx context.Context, name string) error {
	if err := d.db.Collection(name).Drop(ctx); err != nil {
		return &TableError{Table: name, Op: "drop table", Err: err}
	}
	_, err := d.db.Collection(schemaCollection).
		DeleteOne(ctx, bson.D{{Key: "table_name", Value: name}})
	if err != nil {
		return &TableError{Table: name, Op: "drop table", Err: err}
	}
	return nil
}

func (d *DocumentDatabase) DropAllTables(ctx context.Context) error {
	names, err := d.TableNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := d.dropCollection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (d *DocumentDatabase) QueryTable(ctx context.Context, name string) (table.Table, error) {
	ts, err := d.TableSchema(ctx, name)
	if err != nil {
		return table.Table{}, err
	}

	cursor, err := d.db.Collection(name).Find(ctx, bson.D{})
	if err != nil {
		return table.Table{}, &TableError{Table: name, Op: "query table", Err: err}
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return table.Table{}, &TableError{Table: name, Op: "query table", Err: err}
	}

	out := table.New(ts.ColumnNames()...)
	for _, doc := range docs {
		row := make(table.Row, len(out.Columns))
		for _, c := range out.Columns {
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

func (d *DocumentDatabase) InsertRows(ctx context.Context, name string, rows table.Table) error {
	if rows.NumRows() == 0 {
		return nil
	}
	docs := make([]any, 0, rows.NumRows())
	for _, row := range rows.Rows {
		doc := bson.M{}
		for _, c := range rows.Columns {
			doc[c] = row[c]
		}
		docs = append(docs, doc)
	}
	if _, err := d.db.Collection(name).InsertMany(ctx, docs); err != nil {
		return &TableError{Table: name, Op: "insert rows", Err: err}
	}
	return nil
}

func (d *DocumentDatabase) UpsertRows(ctx context.Context, name string, rows table.Table) error {
	if rows.NumRows() == 0 {
		return nil
	}
	ts, err := d.TableSchema(ctx, name)
	if err != nil {
		return err
	}
	existing, err := d.QueryTable(ctx, name)
	if err != nil {
		return err
	}

	plan, err := upsert.Partition(existing, rows, ts.PrimaryKey())
	if err != nil {
		return &TableError{Table: name, Op: "upsert rows", Err: err}
	}
	if err := d.InsertRows(ctx, name, plan.Inserts); err != nil {
		return err
	}

	collection := d.db.Collection(name)
	for _, row := range plan.Updates.Rows {
		update := bson.M{}
		for _, c := range plan.Updates.Columns {
			update[c] = row[c]
		}
		filter := bson.D{{Key: ts.PrimaryKey(), Value: row[ts.PrimaryKey()]}}
		if _, err := collection.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: update}}); err != nil {
			return &TableError{Table: name, Op: "upsert rows", Err: err}
		}
	}
	return nil
}

func (d *DocumentDatabase) DeleteRows(ctx context.Context, name string, keys []any) error {
	if len(keys) == 0 {
		return nil
	}
	ts, err := d.TableSchema(ctx, name)
	if err != nil {
		return err
	}
	filter := bson.D{{Key: ts.PrimaryKey(), Value: bson.D{{Key: "$in", Value: keys}}}}
	if _, err := d.db.Collection(name).DeleteMany(ctx, filter); err != nil {
		return &TableError{Table: name, Op: "delete rows", Err: err}
	}
	return nil
}

// ExecuteQuery is unsupported: the document store has no SQL surface.
func (d *DocumentDatabase) ExecuteQuery(context.Context, string) (table.Table, error) {
	return table.Table{}, ErrUnsupportedQuery
}
