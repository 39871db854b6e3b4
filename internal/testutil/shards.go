// Package testutil builds throwaway SQLite shard databases for tests.
package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/kartikbazzad/catopus/internal/registry"
)

// CreateShardDB creates <dir>/<name>.db and runs stmts against it.
func CreateShardDB(t testing.TB, dir, name string, stmts ...string) {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(dir, name+".db"))
	if err != nil {
		t.Fatalf("Failed to open shard %s: %v", name, err)
	}
	defer db.Close()

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to run %q on shard %s: %v", stmt, name, err)
		}
	}
}

// OrdersShard creates a shard with an orders table holding n rows.
func OrdersShard(t testing.TB, dir, name string, n int) {
	t.Helper()

	stmts := []string{"CREATE TABLE orders (id INTEGER, amount REAL, note TEXT)"}
	for i := 1; i <= n; i++ {
		stmts = append(stmts, fmt.Sprintf("INSERT INTO orders VALUES (%d, %d.5, 'order-%s-%d')", i, i, name, i))
	}
	CreateShardDB(t, dir, name, stmts...)
}

// Registry builds a single-cluster sqlite registry over dir. Shard ids
// follow the order of names, starting at 1.
func Registry(t testing.TB, dir string, names ...string) *registry.Registry {
	t.Helper()

	ids := make(map[string]int, len(names))
	for i, name := range names {
		ids[name] = i + 1
	}
	r, err := registry.New([]registry.Cluster{
		{Name: "local", Driver: "sqlite", Host: dir, DBs: names},
	}, ids)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return r
}
