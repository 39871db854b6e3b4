package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kartikbazzad/catopus/internal/fanout"
	"github.com/kartikbazzad/catopus/internal/models"
	"github.com/kartikbazzad/catopus/internal/sink"
	"github.com/kartikbazzad/catopus/internal/storage"
	"github.com/kartikbazzad/catopus/internal/table"
	"github.com/kartikbazzad/catopus/pkg/logger"
)

type fakeFanout struct {
	res  *fanout.Result
	err  error
	reqs []fanout.Request
}

func (f *fakeFanout) Run(ctx context.Context, req fanout.Request) (*fanout.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type memArtifacts struct {
	mu    sync.Mutex
	items map[string]*models.Artifact
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{items: map[string]*models.Artifact{}}
}

func (m *memArtifacts) Create(ctx context.Context, a *models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.Identifier]; ok {
		return errors.New("duplicate identifier")
	}
	m.items[a.Identifier] = a
	return nil
}

func (m *memArtifacts) Get(ctx context.Context, id string) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return a, nil
}

func (m *memArtifacts) ListByOwner(ctx context.Context, owner string, limit int) ([]*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Artifact
	for _, a := range m.items {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

type recordingPersister struct {
	bases []string
	rows  []int
}

func (p *recordingPersister) PersistTable(ctx context.Context, t *table.Table, base string) (string, error) {
	p.bases = append(p.bases, base)
	p.rows = append(p.rows, t.Len())
	return base + "_20240102_03_04_05", nil
}

func mergedRows(n int) *table.Table {
	t := &table.Table{Columns: []string{table.ShardIDColumn, table.ShardNameColumn, "v"}}
	for i := 0; i < n; i++ {
		t.Rows = append(t.Rows, []any{int64(1), "fr", int64(i)})
	}
	return t
}

func newQueryService(t *testing.T, f Fanout) (*QueryService, *memArtifacts, *recordingPersister) {
	t.Helper()
	store, err := storage.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	artifacts := newMemArtifacts()
	persister := &recordingPersister{}
	return NewQueryService(f, sink.NewBlobs(store), artifacts, persister, logger.Discard()), artifacts, persister
}

func TestRunStoresArtifact(t *testing.T) {
	f := &fakeFanout{res: &fanout.Result{Table: mergedRows(3), Resolved: 2, Succeeded: 1}}
	svc, artifacts, _ := newQueryService(t, f)
	ctx := context.Background()

	res, err := svc.Run(ctx, "alice", QueryRequest{SQL: "SELECT v", Shards: []string{"fr", "de"}, ShardList: "EU"})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	if res.Identifier == "" {
		t.Fatal("Expected identifier for non-empty result")
	}
	a, err := artifacts.Get(ctx, res.Identifier)
	if err != nil {
		t.Fatalf("Expected artifact record: %v", err)
	}
	if a.Owner != "alice" || a.RowCount != 3 || a.ShardList != "EU" {
		t.Errorf("Unexpected artifact %+v", a)
	}
	if a.BlobKey != sink.BlobKey(res.Identifier) {
		t.Errorf("Expected blob key %s, got %s", sink.BlobKey(res.Identifier), a.BlobKey)
	}

	_, shared, err := svc.Share(ctx, res.Identifier)
	if err != nil {
		t.Fatalf("Failed to share: %v", err)
	}
	if shared.Len() != 3 {
		t.Errorf("Expected 3 shared rows, got %d", shared.Len())
	}
	if f.reqs[0].PersistTable != "" {
		t.Errorf("Expected no table persistence, got %q", f.reqs[0].PersistTable)
	}
}

func TestRunIdentifiersAreUnique(t *testing.T) {
	f := &fakeFanout{res: &fanout.Result{Table: mergedRows(1), Resolved: 1, Succeeded: 1}}
	svc, _, _ := newQueryService(t, f)

	first, err := svc.Run(context.Background(), "alice", QueryRequest{SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	second, err := svc.Run(context.Background(), "alice", QueryRequest{SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	if first.Identifier == second.Identifier {
		t.Errorf("Expected distinct identifiers, got %s twice", first.Identifier)
	}
}

func TestRunEmptyStoresNothing(t *testing.T) {
	f := &fakeFanout{res: &fanout.Result{Table: table.Empty()}}
	svc, artifacts, _ := newQueryService(t, f)

	res, err := svc.Run(context.Background(), "alice", QueryRequest{SQL: "SELECT 1", Shards: []string{"xx"}})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	if !res.Empty() || res.Identifier != "" {
		t.Errorf("Expected empty result without identifier, got %+v", res)
	}
	if len(artifacts.items) != 0 {
		t.Error("Expected no artifact for an empty result")
	}
}

func TestRunPassesTableName(t *testing.T) {
	f := &fakeFanout{res: &fanout.Result{Table: mergedRows(1), CreatedTable: "report_20240102_03_04_05"}}
	svc, _, _ := newQueryService(t, f)

	res, err := svc.Run(context.Background(), "alice", QueryRequest{SQL: "SELECT 1", TableName: " report "})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	if f.reqs[0].PersistTable != "report" {
		t.Errorf("Expected trimmed base name, got %q", f.reqs[0].PersistTable)
	}
	if res.CreatedTable != "report_20240102_03_04_05" {
		t.Errorf("Unexpected created table %q", res.CreatedTable)
	}
}

func TestRunValidatesAndPropagates(t *testing.T) {
	svc, _, _ := newQueryService(t, &fakeFanout{})
	if _, err := svc.Run(context.Background(), "alice", QueryRequest{}); !errors.Is(err, fanout.ErrEmptySQL) {
		t.Errorf("Expected ErrEmptySQL, got %v", err)
	}

	boom := errors.New("warehouse down")
	svc, _, _ = newQueryService(t, &fakeFanout{err: boom})
	if _, err := svc.Run(context.Background(), "alice", QueryRequest{SQL: "SELECT 1"}); !errors.Is(err, boom) {
		t.Errorf("Expected fan-out error, got %v", err)
	}
}

func TestSaveTable(t *testing.T) {
	f := &fakeFanout{res: &fanout.Result{Table: mergedRows(4)}}
	svc, _, persister := newQueryService(t, f)
	ctx := context.Background()

	res, err := svc.Run(ctx, "alice", QueryRequest{SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}

	name, err := svc.SaveTable(ctx, "alice", res.Identifier, "later")
	if err != nil {
		t.Fatalf("Failed to save table: %v", err)
	}
	if name != "later_20240102_03_04_05" {
		t.Errorf("Unexpected table name %s", name)
	}
	if len(persister.rows) != 1 || persister.rows[0] != 4 {
		t.Errorf("Expected 4 persisted rows, got %v", persister.rows)
	}

	if _, err := svc.SaveTable(ctx, "bob", res.Identifier, "later"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected other owners to be refused, got %v", err)
	}
	if _, err := svc.SaveTable(ctx, "alice", res.Identifier, " "); !errors.Is(err, ErrTableNameRequired) {
		t.Errorf("Expected ErrTableNameRequired, got %v", err)
	}
	if _, err := svc.SaveTable(ctx, "alice", "unknown", "later"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected ErrArtifactNotFound, got %v", err)
	}
}

func TestSaveTableNothingToSave(t *testing.T) {
	store, _ := storage.NewDir(t.TempDir())
	blobs := sink.NewBlobs(store)
	artifacts := newMemArtifacts()
	svc := NewQueryService(&fakeFanout{}, blobs, artifacts, &recordingPersister{}, logger.Discard())
	ctx := context.Background()

	empty := &table.Table{Columns: []string{"v"}}
	if _, err := blobs.PersistBlob(ctx, "e", empty); err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}
	artifacts.Create(ctx, &models.Artifact{Identifier: "e", Owner: "alice"})

	if _, err := svc.SaveTable(ctx, "alice", "e", "later"); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("Expected ErrNothingToSave, got %v", err)
	}
}

func TestDownloadRange(t *testing.T) {
	f := &fakeFanout{res: &fanout.Result{Table: mergedRows(2)}}
	svc, _, _ := newQueryService(t, f)
	ctx := context.Background()

	res, err := svc.Run(ctx, "alice", QueryRequest{SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	data, size, err := svc.Download(ctx, res.Identifier, 0, 4)
	if err != nil {
		t.Fatalf("Failed to download: %v", err)
	}
	if string(data) != "PAR1" || size <= 4 {
		t.Errorf("Unexpected download %q of %d bytes", data, size)
	}
	if _, _, err := svc.Download(ctx, "unknown", 0, 0); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected ErrArtifactNotFound, got %v", err)
	}
}
