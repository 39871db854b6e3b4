package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kartikbazzad/catopus/internal/storage"
	"github.com/kartikbazzad/catopus/internal/table"
)

func mixedTable() *table.Table {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	return &table.Table{
		Columns: []string{table.ShardIDColumn, table.ShardNameColumn, "zeta", "amount", "paid", "created", "empty"},
		Rows: [][]any{
			{int64(1), "fr", "z1", int64(3), true, ts, nil},
			{int64(2), "de", nil, 4.25, false, ts.Add(time.Hour), nil},
		},
	}
}

func TestParquetRoundTrip(t *testing.T) {
	in := mixedTable()
	data, err := EncodeParquet(in)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	out, err := DecodeParquet(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if len(out.Columns) != len(in.Columns) {
		t.Fatalf("Expected %d columns, got %v", len(in.Columns), out.Columns)
	}
	for i := range in.Columns {
		if out.Columns[i] != in.Columns[i] {
			t.Errorf("Expected column %d to be %s, got %s", i, in.Columns[i], out.Columns[i])
		}
	}
	if out.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", out.Len())
	}

	first := out.Rows[0]
	if first[0] != int64(1) || first[1] != "fr" || first[2] != "z1" {
		t.Errorf("Unexpected leading values %v", first[:3])
	}
	if first[3] != float64(3) {
		t.Errorf("Expected amount widened to 3.0, got %v (%T)", first[3], first[3])
	}
	if first[4] != true {
		t.Errorf("Expected paid true, got %v", first[4])
	}
	if ts, ok := first[5].(time.Time); !ok || !ts.Equal(in.Rows[0][5].(time.Time)) {
		t.Errorf("Expected created %v, got %v", in.Rows[0][5], first[5])
	}
	if first[6] != nil {
		t.Errorf("Expected null, got %v", first[6])
	}
	if out.Rows[1][2] != nil {
		t.Errorf("Expected null zeta in second row, got %v", out.Rows[1][2])
	}
}

func TestEncodeParquetRejectsDuplicateColumns(t *testing.T) {
	tbl := &table.Table{Columns: []string{"id", "id"}, Rows: [][]any{{int64(1), int64(2)}}}
	if _, err := EncodeParquet(tbl); err == nil {
		t.Error("Expected duplicate column error")
	}
}

func TestBlobsWriteOnce(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	blobs := NewBlobs(store)

	key, err := blobs.PersistBlob(ctx, "abc", mixedTable())
	if err != nil {
		t.Fatalf("Failed to persist blob: %v", err)
	}
	if key != "search_results/abc.parquet.gzip" {
		t.Errorf("Unexpected key %s", key)
	}

	if _, err := blobs.PersistBlob(ctx, "abc", mixedTable()); !errors.Is(err, storage.ErrExists) {
		t.Errorf("Expected ErrExists on reuse, got %v", err)
	}

	loaded, err := blobs.LoadBlob(ctx, "abc")
	if err != nil {
		t.Fatalf("Failed to load blob: %v", err)
	}
	if loaded.Len() != 2 {
		t.Errorf("Expected 2 rows, got %d", loaded.Len())
	}

	head, size, err := blobs.ReadBlob(ctx, "abc", 0, 4)
	if err != nil {
		t.Fatalf("Failed to read range: %v", err)
	}
	if string(head) != "PAR1" {
		t.Errorf("Expected parquet magic, got %q", head)
	}
	if size <= 4 {
		t.Errorf("Expected full size, got %d", size)
	}

	if _, err := blobs.LoadBlob(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
