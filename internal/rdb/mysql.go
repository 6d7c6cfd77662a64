package rdb

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/pkg/logger"
)

// MySQLConfig holds the connection settings for a MySQL backend.
type MySQLConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

func (c MySQLConfig) dsn() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.Username, c.Password, c.Host, c.Port, c.Database,
	)
}

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(ctx context.Context, cfg MySQLConfig, log *logger.Logger) (*SQLDatabase, error) {
	db, err := sqlx.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach mysql: %w", err)
	}
	return &SQLDatabase{db: db, dialect: mysqlDialect{}, log: log}, nil
}

type mysqlDialect struct{}

func (mysqlDialect) Quote(ident string) string {
	return "`" + ident + "`"
}

func (mysqlDialect) Placeholder(int) string {
	return "?"
}

// Keys are typed VARCHAR(100): MySQL refuses TEXT columns in primary keys
// without an explicit prefix length.
func (mysqlDialect) ColumnType(c schema.ColumnSchema, isKey bool) string {
	if isKey {
		return "VARCHAR(100)"
	}
	switch c.Datatype {
	case schema.Date:
		return "DATE"
	case schema.Int:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE"
	case schema.Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (d mysqlDialect) UpsertSQL(tableName string, columns []string, primaryKey string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	var updates []string
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		placeholders[i] = "?"
		if c != primaryKey {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", d.Quote(c), d.Quote(c)))
		}
	}

	if len(updates) == 0 {
		return fmt.Sprintf(
			"INSERT IGNORE INTO %s (%s) VALUES (%s)",
			d.Quote(tableName), strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
		)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		d.Quote(tableName),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

func (mysqlDialect) TableNamesSQL() string {
	return `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		AND table_schema = DATABASE()
		ORDER BY table_name
	`
}

func (d mysqlDialect) IntrospectTable(ctx context.Context, db *sqlx.DB, name string) (schema.TableSchema, error) {
	columns, primaryKey, err := d.columns(ctx, db, name)
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

func (d mysqlDialect) columns(ctx context.Context, db *sqlx.DB, name string) ([]schema.ColumnSchema, string, error) {
	query := `
		SELECT column_name, data_type, is_nullable, column_key
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position
	`
	rows, err := db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer rows.Close()

	var columns []schema.ColumnSchema
	var primaryKey string
	for rows.Next() {
		var colName, dataType, isNullable, columnKey string
		if err := rows.Scan(&colName, &dataType, &isNullable, &columnKey); err != nil {
			return nil, "", fmt.Errorf("failed to read column metadata: %w", err)
		}
		if columnKey == "PRI" {
			primaryKey = colName
		}
		columns = append(columns, schema.ColumnSchema{
			Name:     colName,
			Datatype: genericDatatype(dataType),
			Required: isNullable == "NO",
			Index:    columnKey == "MUL" || columnKey == "UNI",
		})
	}
	return columns, primaryKey, rows.Err()
}

func (d mysqlDialect) foreignKeys(ctx context.Context, db *sqlx.DB, name string) ([]schema.ForeignKeySchema, error) {
	query := `
		SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND table_name = ?
		AND referenced_table_name IS NOT NULL
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
