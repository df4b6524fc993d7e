// Package engine provides the database access layer for the sample and model
// stores. It wraps sqlx with an engine type so queries can be picked per
// dialect; sqlite and postgres are supported.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Type is a type of database engine
type Type string

// enum of supported database engines
const (
	Unknown  Type = ""
	Sqlite   Type = "sqlite"
	Postgres Type = "postgres"
)

// SQL is a wrapper for sqlx.DB with engine type.
// Type allows distinguishing between different database engines.
type SQL struct {
	sqlx.DB
	dbType Type
}

// New creates a database connection for the given url. postgres:// urls make
// a postgres engine, anything else is treated as a sqlite file path,
// ":memory:" included.
func New(ctx context.Context, url string) (*SQL, error) {
	if url == "" {
		return nil, fmt.Errorf("empty connection url")
	}
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return NewPostgres(ctx, url)
	}
	file := strings.TrimPrefix(strings.TrimPrefix(url, "sqlite://"), "file://")
	return NewSqlite(ctx, file)
}

// NewSqlite creates a new sqlite database connection
func NewSqlite(ctx context.Context, file string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", file)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite %s: %w", file, err)
	}
	return &SQL{DB: *db, dbType: Sqlite}, nil
}

// NewPostgres creates a new postgres connection. Connection attempts are
// repeated to survive the database coming up after the service.
func NewPostgres(ctx context.Context, dsn string) (*SQL, error) {
	var db *sqlx.DB
	err := repeater.NewDefault(5, time.Second).Do(ctx, func() error {
		var e error
		db, e = sqlx.ConnectContext(ctx, "postgres", dsn)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &SQL{DB: *db, dbType: Postgres}, nil
}

// Type returns the database engine type
func (e *SQL) Type() Type { return e.dbType }

// Adopt translates placeholders in the query to the engine's dialect
func (e *SQL) Adopt(query string) string {
	if e.dbType == Postgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// MakeLock creates a lock for the database engine, sqlite needs real locking
func (e *SQL) MakeLock() RWLocker {
	if e.dbType == Sqlite {
		return new(sync.RWMutex)
	}
	return &NoopLocker{}
}

// TableConfig defines what InitTable needs to set a table up
type TableConfig struct {
	Name          string
	CreateTable   DBCmd
	CreateIndexes DBCmd
	Queries       *QueryMap
}

// InitTable creates the table and its indexes in a single transaction
func InitTable(ctx context.Context, db *SQL, cfg TableConfig) error {
	if db == nil {
		return fmt.Errorf("db connection is nil")
	}

	createTable, err := cfg.Queries.Pick(db.Type(), cfg.CreateTable)
	if err != nil {
		return fmt.Errorf("failed to get create-table query for %s: %w", cfg.Name, err)
	}
	createIndexes, err := cfg.Queries.Pick(db.Type(), cfg.CreateIndexes)
	if err != nil {
		return fmt.Errorf("failed to get create-indexes query for %s: %w", cfg.Name, err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err = tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create %s table: %w", cfg.Name, err)
	}
	if _, err = tx.ExecContext(ctx, createIndexes); err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", cfg.Name, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
