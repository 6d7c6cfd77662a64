package rdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/pkg/logger"
)

// SQLiteConfig holds the settings for a SQLite backend.
type SQLiteConfig struct {
	Path string
}

// OpenSQLite opens (creating if necessary) a SQLite database file with
// foreign key enforcement enabled.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig, log *logger.Logger) (*SQLDatabase, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on", cfg.Path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach sqlite database: %w", err)
	}
	return &SQLDatabase{db: db, dialect: sqliteDialect{}, log: log}, nil
}

type sqliteDialect struct{}

func (sqliteDialect) Quote(ident string) string {
	return `"` + ident + `"`
}

func (sqliteDialect) Placeholder(int) string {
	return "?"
}

func (sqliteDialect) ColumnType(c schema.ColumnSchema, isKey bool) string {
	if isKey {
		return "TEXT"
	}
	switch c.Datatype {
	case schema.Date:
		return "DATE"
	case schema.Int:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	case schema.Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (d sqliteDialect) UpsertSQL(tableName string, columns []string, primaryKey string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	var updates []string
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		placeholders[i] = "?"
		if c != primaryKey {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", d.Quote(c), d.Quote(c)))
		}
	}

	conflict := fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", d.Quote(primaryKey))
	if len(updates) > 0 {
		conflict = fmt.Sprintf(
			"ON CONFLICT (%s) DO UPDATE SET %s",
			d.Quote(primaryKey), strings.Join(updates, ", "),
		)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) %s",
		d.Quote(tableName),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		conflict,
	)
}

func (sqliteDialect) TableNamesSQL() string {
	return `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`
}

func (d sqliteDialect) IntrospectTable(ctx context.Context, db *sqlx.DB, name string) (schema.TableSchema, error) {
	indexed, err := d.indexedColumns(ctx, db, name)
	if err != nil {
		return schema.TableSchema{}, err
	}
	columns, primaryKey, err := d.columns(ctx, db, name, indexed)
	if err != nil {
		return schema.TableSchema{}, err
	}
	if primaryKey == "" {
		return schema.TableSchema{}, fmt.Errorf("table %q has no primary key", name)
	}
	foreignKeys, err := d.foreignKeys(ctx, db, name)
	if err != nil {
		return schema.TableSchema{}, err
	}
	return schema.NewTableSchema(name, columns, primaryKey, foreignKeys)
}

func (d sqliteDialect) columns(ctx context.Context, db *sqlx.DB, name string, indexed map[string]bool) ([]schema.ColumnSchema, string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", d.Quote(name)))
	if err != nil {
		return nil, "", fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer rows.Close()

	var columns []schema.ColumnSchema
	var primaryKey string
	for rows.Next() {
		var (
			cid          int
			colName      string
			colType      string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, "", fmt.Errorf("failed to read column metadata: %w", err)
		}
		if pk == 1 {
			primaryKey = colName
		}
		columns = append(columns, schema.ColumnSchema{
			Name:     colName,
			Datatype: genericDatatype(colType),
			Required: notNull == 1,
			Index:    indexed[colName],
		})
	}
	return columns, primaryKey, rows.Err()
}

func (d sqliteDialect) foreignKeys(ctx context.Context, db *sqlx.DB, name string) ([]schema.ForeignKeySchema, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", d.Quote(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign key metadata: %w", err)
	}
	defer rows.Close()

	var keys []schema.ForeignKeySchema
	for rows.Next() {
		var (
			id, seq                   int
			foreignTable, from, to    string
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &foreignTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("failed to read foreign key metadata: %w", err)
		}
		keys = append(keys, schema.ForeignKeySchema{
			Name:              from,
			ForeignTableName:  foreignTable,
			ForeignColumnName: to,
		})
	}
	return keys, rows.Err()
}

func (d sqliteDialect) indexedColumns(ctx context.Context, db *sqlx.DB, name string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", d.Quote(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to query index metadata: %w", err)
	}
	defer rows.Close()

	var indexNames []string
	for rows.Next() {
		var (
			seq     int
			idxName string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &idxName, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("failed to read index metadata: %w", err)
		}
		// "pk" indexes back the primary key, not a secondary index
		if origin == "pk" {
			continue
		}
		indexNames = append(indexNames, idxName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	indexed := make(map[string]bool)
	for _, idxName := range indexNames {
		infoRows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", d.Quote(idxName)))
		if err != nil {
			return nil, fmt.Errorf("failed to query index columns: %w", err)
		}
		for infoRows.Next() {
			var seqno, cid int
			var colName string
			if err := infoRows.Scan(&seqno, &cid, &colName); err != nil {
				infoRows.Close()
				return nil, fmt.Errorf("failed to read index columns: %w", err)
			}
			indexed[colName] = true
		}
		if err := infoRows.Err(); err != nil {
			infoRows.Close()
			return nil, err
		}
		infoRows.Close()
	}
	return indexed, nil
}
