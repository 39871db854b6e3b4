package sink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kartikbazzad/catopus/internal/table"
	"github.com/kartikbazzad/catopus/pkg/logger"
)

// fakeTx records the statements of one transaction. Unused pgx.Tx methods
// panic through the nil embedded interface.
type fakeTx struct {
	pgx.Tx

	execs      []string
	copies     [][][]any
	execErr    error
	copyErr    error
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeTx) CopyFrom(ctx context.Context, ident pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	var rows [][]any
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, vals)
	}
	f.copies = append(f.copies, rows)
	return int64(len(rows)), nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeDB struct{ tx *fakeTx }

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return f.tx, nil
}

func newTestWarehouse(tx *fakeTx, chunk int) *Warehouse {
	w := NewWarehouse(&fakeDB{tx: tx}, "catopus", chunk, logger.Discard())
	w.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return w
}

func sampleTable(n int) *table.Table {
	t := &table.Table{Columns: []string{table.ShardIDColumn, table.ShardNameColumn, "amount", "note"}}
	for i := 0; i < n; i++ {
		var amount any = int64(i)
		if i%2 == 1 {
			amount = float64(i) + 0.5
		}
		t.Rows = append(t.Rows, []any{int64(1), "fr", amount, nil})
	}
	return t
}

func TestPersistTableChunks(t *testing.T) {
	tx := &fakeTx{}
	w := newTestWarehouse(tx, 10)

	name, err := w.PersistTable(context.Background(), sampleTable(25), "report")
	if err != nil {
		t.Fatalf("Failed to persist: %v", err)
	}
	if name != "report_20240102_03_04_05" {
		t.Errorf("Unexpected table name %s", name)
	}

	if len(tx.execs) != 1 {
		t.Fatalf("Expected one DDL statement, got %d", len(tx.execs))
	}
	wantDDL := `CREATE TABLE "catopus"."report_20240102_03_04_05" ("_shard_id" BIGINT, "_shard_name" TEXT, "amount" DOUBLE PRECISION, "note" TEXT)`
	if tx.execs[0] != wantDDL {
		t.Errorf("Expected DDL\n%s\ngot\n%s", wantDDL, tx.execs[0])
	}

	sizes := make([]int, len(tx.copies))
	for i, c := range tx.copies {
		sizes[i] = len(c)
	}
	if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 5 {
		t.Errorf("Expected chunks [10 10 5], got %v", sizes)
	}
	if _, ok := tx.copies[0][0][2].(float64); !ok {
		t.Errorf("Expected ints widened to float64, got %T", tx.copies[0][0][2])
	}
	if !tx.committed {
		t.Error("Expected commit")
	}
}

func TestPersistTableCopyFailureRollsBack(t *testing.T) {
	tx := &fakeTx{copyErr: errors.New("connection reset")}
	w := newTestWarehouse(tx, 10)

	if _, err := w.PersistTable(context.Background(), sampleTable(3), "report"); err == nil {
		t.Fatal("Expected copy failure")
	}
	if tx.committed || !tx.rolledBack {
		t.Errorf("Expected rollback without commit, committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestPersistTableNameCollision(t *testing.T) {
	tx := &fakeTx{execErr: &pgconn.PgError{Code: "42P07", Message: "relation already exists"}}
	w := newTestWarehouse(tx, 10)

	_, err := w.PersistTable(context.Background(), sampleTable(3), "report")
	if !errors.Is(err, ErrTableExists) {
		t.Errorf("Expected ErrTableExists, got %v", err)
	}
	if len(tx.copies) != 0 {
		t.Error("Expected no rows copied after failed DDL")
	}
}

func TestPersistTableRejectsEmpty(t *testing.T) {
	tx := &fakeTx{}
	w := newTestWarehouse(tx, 10)

	if _, err := w.PersistTable(context.Background(), table.Empty(), "report"); !errors.Is(err, ErrEmptyTable) {
		t.Errorf("Expected ErrEmptyTable, got %v", err)
	}
	if len(tx.execs) != 0 {
		t.Error("Expected no statements for an empty table")
	}
}

func TestCreateTableSQLQuotesIdentifiers(t *testing.T) {
	got := createTableSQL(pgx.Identifier{"s", "t"}, []string{`we"ird`}, []table.Kind{table.KindTime})
	if !strings.Contains(got, `"we""ird" TIMESTAMPTZ`) {
		t.Errorf("Expected quoted identifier, got %s", got)
	}
}
