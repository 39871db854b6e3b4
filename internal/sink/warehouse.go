package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kartikbazzad/catopus/internal/metrics"
	"github.com/kartikbazzad/catopus/internal/table"
)

// DefaultChunkSize is the number of rows sent per COPY.
const DefaultChunkSize = 10000

const pgDuplicateTable = "42P07"

var (
	ErrTableExists = errors.New("table already exists")
	ErrEmptyTable  = errors.New("table has no rows to persist")
)

// Beginner starts warehouse transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Warehouse writes merged results into new tables of one schema.
type Warehouse struct {
	db        Beginner
	schema    string
	chunkSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewWarehouse creates a Warehouse writing into schema.
func NewWarehouse(db Beginner, schema string, chunkSize int, logger *slog.Logger) *Warehouse {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warehouse{
		db:        db,
		schema:    schema,
		chunkSize: chunkSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// PersistTable creates <schema>.<base>_<timestamp> and copies t into it in
// chunks. DDL and all chunks share one transaction, so a failure leaves no
// table behind.
func (w *Warehouse) PersistTable(ctx context.Context, t *table.Table, base string) (string, error) {
	if t.IsEmpty() {
		return "", ErrEmptyTable
	}
	name := TableName(base, w.now())
	ident := pgx.Identifier{w.schema, name}
	kinds := t.InferKinds()

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createTableSQL(ident, t.Columns, kinds)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateTable {
			return "", fmt.Errorf("%s.%s: %w", w.schema, name, ErrTableExists)
		}
		return "", fmt.Errorf("failed to create table %s: %w", name, err)
	}

	for start := 0; start < len(t.Rows); start += w.chunkSize {
		end := min(start+w.chunkSize, len(t.Rows))
		chunk := make([][]any, 0, end-start)
		for _, row := range t.Rows[start:end] {
			out := make([]any, len(row))
			for i, v := range row {
				out[i] = table.Coerce(v, kinds[i])
			}
			chunk = append(chunk, out)
		}
		if _, err := tx.CopyFrom(ctx, ident, t.Columns, pgx.CopyFromRows(chunk)); err != nil {
			return "", fmt.Errorf("failed to copy rows %d-%d into %s: %w", start, end, name, err)
		}
		w.logger.Debug("chunk copied", "table", name, "from", start, "to", end)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit %s: %w", name, err)
	}
	metrics.PersistedRows.Add(float64(len(t.Rows)))
	w.logger.Info("table persisted", "table", name, "schema", w.schema, "rows", len(t.Rows))
	return name, nil
}

func createTableSQL(ident pgx.Identifier, columns []string, kinds []table.Kind) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = pgx.Identifier{col}.Sanitize() + " " + columnType(kinds[i])
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", ident.Sanitize(), strings.Join(defs, ", "))
}

func columnType(k table.Kind) string {
	switch k {
	case table.KindBool:
		return "BOOLEAN"
	case table.KindInt:
		return "BIGINT"
	case table.KindFloat:
		return "DOUBLE PRECISION"
	case table.KindTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
