// Package executor runs one SQL statement against one shard database and
// turns the rows into a tagged partial result.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kartikbazzad/catopus/internal/registry"
	"github.com/kartikbazzad/catopus/internal/table"
)

// SQLSTATE undefined_table
const pgUndefinedTable = "42P01"

// Failure kinds. Every error returned by Execute wraps exactly one of them.
var (
	ErrMissingRelation = errors.New("relation does not exist")
	ErrDatabase        = errors.New("database error")
)

// ShardError describes why a shard produced no result.
type ShardError struct {
	Shard string
	Kind  error // ErrMissingRelation or ErrDatabase
	Err   error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("shard %s: %v: %v", e.Shard, e.Kind, e.Err)
}

func (e *ShardError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Pools hands out the pooled database handle for a shard.
type Pools interface {
	Acquire(shard registry.Shard) (*sql.DB, error)
}

// Executor runs statements on shards through pooled connections.
type Executor struct {
	pools   Pools
	timeout time.Duration
}

// New creates an Executor. A positive timeout bounds every shard call.
func New(pools Pools, timeout time.Duration) *Executor {
	return &Executor{pools: pools, timeout: timeout}
}

// Execute runs query on shard and materialises the full result set, with
// _shard_id and _shard_name prepended. Failures are *ShardError values.
func (e *Executor) Execute(ctx context.Context, shard registry.Shard, query string) (*table.Partial, error) {
	db, err := e.pools.Acquire(shard)
	if err != nil {
		return nil, &ShardError{Shard: shard.Name, Kind: ErrDatabase, Err: err}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	columns, rows, err := fetch(ctx, db, query)
	if err != nil {
		return nil, &ShardError{Shard: shard.Name, Kind: classify(err), Err: err}
	}
	return table.Tag(shard.ID, shard.Name, columns, rows), nil
}

func fetch(ctx context.Context, db *sql.DB, query string) ([]string, [][]any, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range values {
			values[i] = table.Normalize(v)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// classify maps a driver error to a failure kind.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return ErrMissingRelation
	}
	// modernc.org/sqlite reports a generic SQLITE_ERROR with this message.
	if strings.Contains(err.Error(), "no such table") {
		return ErrMissingRelation
	}
	return ErrDatabase
}
