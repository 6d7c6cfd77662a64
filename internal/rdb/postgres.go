package rdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/pkg/logger"
)

// PostgresConfig holds the connection settings for a PostgreSQL backend.
type PostgresConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSLMode  string
}

func (c PostgresConfig) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode,
	)
}

// OpenPostgres connects to PostgreSQL and verifies the connection.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, log *logger.Logger) (*SQLDatabase, error) {
	db, err := sqlx.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach postgres: %w", err)
	}
	return &SQLDatabase{db: db, dialect: postgresDialect{}, log: log}, nil
}

type postgresDialect struct{}

func (postgresDialect) Quote(ident string) string {
	return `"` + ident + `"`
}

func (postgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgresDialect) ColumnType(c schema.ColumnSchema, isKey bool) string {
	if isKey {
		return "VARCHAR(100)"
	}
	switch c.Datatype {
	case schema.Date:
		return "DATE"
	case schema.Int:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (d postgresDialect) UpsertSQL(tableName string, columns []string, primaryKey string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	var updates []string
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		placeholders[i] = d.Placeholder(i + 1)
		if c != primaryKey {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", d.Quote(c), d.Quote(c)))
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

func (postgresDialect) TableNamesSQL() string {
	return `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		AND table_schema = 'public'
		ORDER BY table_name
	`
}

func (d postgresDialect) IntrospectTable(ctx context.Context, db *sqlx.DB, name string) (schema.TableSchema, error) {
	primaryKey, err := d.primaryKey(ctx, db, name)
	if err != nil {
		return schema.TableSchema{}, err
	}
	foreignKeys, err := d.foreignKeys(ctx, db, name)
	if err != nil {
		return schema.TableSchema{}, err
	}
	indexed, err := d.indexedColumns(ctx, db, name)
	if err != nil {
		return schema.TableSchema{}, err
	}
	columns, err := d.columns(ctx, db, name, indexed)
	if err != nil {
		return schema.TableSchema{}, err
	}
	return schema.NewTableSchema(name, columns, primaryKey, foreignKeys)
}

func (d postgresDialect) columns(ctx context.Context, db *sqlx.DB, name string, indexed map[string]bool) ([]schema.ColumnSchema, error) {
	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`
	rows, err := db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer rows.Close()

	var columns []schema.ColumnSchema
	for rows.Next() {
		var colName, dataType, isNullable string
		if err := rows.Scan(&colName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("failed to read column metadata: %w", err)
		}
		columns = append(columns, schema.ColumnSchema{
			Name:     colName,
			Datatype: genericDatatype(dataType),
			Required: isNullable == "NO",
			Index:    indexed[colName],
		})
	}
	return columns, rows.Err()
}

func (d postgresDialect) primaryKey(ctx context.Context, db *sqlx.DB, name string) (string, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_schema = 'public' AND tc.table_name = $1
		ORDER BY kcu.ordinal_position
	`
	var primaryKey string
	if err := db.QueryRowContext(ctx, query, name).Scan(&primaryKey); err != nil {
		return "", fmt.Errorf("failed to query primary key metadata: %w", err)
	}
	return primaryKey, nil
}

func (d postgresDialect) foreignKeys(ctx context.Context, db *sqlx.DB, name string) ([]schema.ForeignKeySchema, error) {
	query := `
		SELECT
			kcu.column_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = 'public' AND tc.table_name = $1
	`
	rows, err := db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign key metadata: %w", err)
	}
	defer rows.Close()

	var keys []schema.ForeignKeySchema
	for rows.Next() {
		var key schema.ForeignKeySchema
		if err := rows.Scan(&key.Name, &key.ForeignTableName, &key.ForeignColumnName); err != nil {
			return nil, fmt.Errorf("failed to read foreign key metadata: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (d postgresDialect) indexedColumns(ctx context.Context, db *sqlx.DB, name string) (map[string]bool, error) {
	query := `
		SELECT indexname, indexdef
		FROM pg_indexes
		WHERE schemaname = 'public' AND tablename = $1
	`
	rows, err := db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query index metadata: %w", err)
	}
	defer rows.Close()

	indexed := make(map[string]bool)
	for rows.Next() {
		var indexName, indexDef string
		if err := rows.Scan(&indexName, &indexDef); err != nil {
			return nil, fmt.Errorf("failed to read index metadata: %w", err)
		}
		if strings.HasSuffix(indexName, "_pkey") {
			continue
		}
		for _, col := range parseIndexColumns(indexDef) {
			indexed[col] = true
		}
	}
	return indexed, rows.Err()
}

func parseIndexColumns(indexDef string) []string {
	start := strings.Index(indexDef, "(")
	end := strings.LastIndex(indexDef, ")")
	if start == -1 || end == -1 || end < start {
		return nil
	}
	parts := strings.Split(indexDef[start+1:end], ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		columns = append(columns, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return columns
}
