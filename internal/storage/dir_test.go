package storage

import (
	"context"
	"errors"
	"testing"
)

func TestDirPutGet(t *testing.T) {
	ctx := context.Background()
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := d.Put(ctx, "search_results/a.parquet.gzip", []byte("hello world"), "application/octet-stream"); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	got, err := d.Get(ctx, "search_results/a.parquet.gzip")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("Expected hello world, got %q", got)
	}
}

func TestDirWriteOnce(t *testing.T) {
	ctx := context.Background()
	d, _ := NewDir(t.TempDir())

	if err := d.Put(ctx, "k", []byte("first"), ""); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := d.Put(ctx, "k", []byte("second"), ""); !errors.Is(err, ErrExists) {
		t.Errorf("Expected ErrExists, got %v", err)
	}
	got, _ := d.Get(ctx, "k")
	if string(got) != "first" {
		t.Errorf("Expected original bytes to survive, got %q", got)
	}
}

func TestDirMissingAndInvalidKeys(t *testing.T) {
	ctx := context.Background()
	d, _ := NewDir(t.TempDir())

	if _, err := d.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, _, err := d.GetRange(ctx, "nope", 0, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from range, got %v", err)
	}
	for _, key := range []string{"", "../escape", "/abs"} {
		if err := d.Put(ctx, key, []byte("x"), ""); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey for %q, got %v", key, err)
		}
	}
}

func TestDirGetRange(t *testing.T) {
	ctx := context.Background()
	d, _ := NewDir(t.TempDir())
	if err := d.Put(ctx, "k", []byte("0123456789"), ""); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	tests := []struct {
		name           string
		offset, length int64
		want           string
		wantErr        error
	}{
		{"prefix", 0, 4, "0123", nil},
		{"middle", 3, 2, "34", nil},
		{"to end", 7, 0, "789", nil},
		{"past end clamps", 8, 100, "89", nil},
		{"offset out of range", 10, 1, "", ErrInvalidRange},
		{"negative offset", -1, 1, "", ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, size, err := d.GetRange(ctx, "k", tt.offset, tt.length)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to read range: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if size != 10 {
				t.Errorf("Expected size 10, got %d", size)
			}
		})
	}
}
