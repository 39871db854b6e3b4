package jobs

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kartikbazzad/catopus/internal/executor"
	"github.com/kartikbazzad/catopus/internal/fanout"
	"github.com/kartikbazzad/catopus/internal/models"
	"github.com/kartikbazzad/catopus/internal/shardpool"
	"github.com/kartikbazzad/catopus/internal/sink"
	"github.com/kartikbazzad/catopus/internal/table"
	"github.com/kartikbazzad/catopus/internal/testutil"
	"github.com/kartikbazzad/catopus/pkg/logger"
)

// memLogs keeps run logs in memory and enforces the start-only transition.
type memLogs struct {
	mu       sync.Mutex
	nextID   int64
	logs     map[int64]*models.RunLog
	finishes int
	failOn   error
}

func newMemLogs() *memLogs {
	return &memLogs{logs: map[int64]*models.RunLog{}}
}

func (m *memLogs) Create(ctx context.Context, log *models.RunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}
	m.nextID++
	log.ID = m.nextID
	log.Status = models.RunStart
	log.RunOn = time.Now()
	cp := *log
	m.logs[log.ID] = &cp
	return nil
}

func (m *memLogs) Finish(ctx context.Context, id int64, status models.RunStatus, createdTable, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishes++
	l, ok := m.logs[id]
	if !ok {
		return errors.New("not found")
	}
	if l.Status != models.RunStart {
		return errors.New("already finished")
	}
	l.Status = status
	if createdTable != "" {
		l.CreatedTable = &createdTable
	}
	if detail != "" {
		l.ErrorDetail = &detail
	}
	now := time.Now()
	l.UpdatedAt = &now
	return nil
}

func (m *memLogs) only(t *testing.T) *models.RunLog {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.logs) != 1 {
		t.Fatalf("Expected one run log, got %d", len(m.logs))
	}
	for _, l := range m.logs {
		return l
	}
	return nil
}

// persistingFanout imitates a coordinator with a warehouse persister.
type persistingFanout struct {
	rows    int
	err     error
	panic   bool
	lastReq fanout.Request
}

func (f *persistingFanout) Run(ctx context.Context, req fanout.Request) (*fanout.Result, error) {
	f.lastReq = req
	if f.panic {
		panic("coordinator exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	t := table.Empty()
	if f.rows > 0 {
		t = &table.Table{Columns: []string{table.ShardIDColumn, table.ShardNameColumn, "v"}}
		for i := 0; i < f.rows; i++ {
			t.Rows = append(t.Rows, []any{int64(1), "fr", int64(i)})
		}
	}
	res := &fanout.Result{Table: t, Resolved: 1, Succeeded: 1}
	if !t.IsEmpty() && req.PersistTable != "" {
		res.CreatedTable = sink.TableName(req.PersistTable, time.Now())
	}
	return res, nil
}

func TestRemoteFinishedWithOwnerTable(t *testing.T) {
	logs := newMemLogs()
	f := &persistingFanout{rows: 100}
	r := NewRemote(f, logs, logger.Discard())

	status, err := r.Execute(context.Background(), RemoteJob{Owner: "alice", SQL: "SELECT v FROM t", Shards: []string{"fr", "de"}, ShardList: "EU"})
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if status != models.RunFinished {
		t.Errorf("Expected finished, got %s", status)
	}

	l := logs.only(t)
	if l.Status != models.RunFinished {
		t.Errorf("Expected stored status finished, got %s", l.Status)
	}
	pattern := regexp.MustCompile(`^alice_rmt_\d{8}_\d{2}_\d{2}_\d{2}$`)
	if l.CreatedTable == nil || !pattern.MatchString(*l.CreatedTable) {
		t.Errorf("Expected created table matching %s, got %v", pattern, l.CreatedTable)
	}
	if f.lastReq.PersistTable != "alice_rmt" {
		t.Errorf("Expected owner-derived base, got %q", f.lastReq.PersistTable)
	}
	if l.ShardList != "EU" || len(l.Shards) != 2 {
		t.Errorf("Expected job parameters kept verbatim, got %+v", l)
	}
	if logs.finishes != 1 {
		t.Errorf("Expected exactly one terminal write, got %d", logs.finishes)
	}
}

func TestRemoteEmpty(t *testing.T) {
	logs := newMemLogs()
	r := NewRemote(&persistingFanout{}, logs, logger.Discard())

	status, err := r.Execute(context.Background(), RemoteJob{Owner: "alice", SQL: "SELECT 1", Shards: []string{"xx"}})
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if status != models.RunEmpty {
		t.Errorf("Expected empty, got %s", status)
	}
	l := logs.only(t)
	if l.CreatedTable != nil {
		t.Errorf("Expected no created table, got %s", *l.CreatedTable)
	}
	if logs.finishes != 1 {
		t.Errorf("Expected exactly one terminal write, got %d", logs.finishes)
	}
}

func TestRemoteErrorRecordsDetail(t *testing.T) {
	logs := newMemLogs()
	r := NewRemote(&persistingFanout{err: errors.New("failed to persist result: warehouse down")}, logs, logger.Discard())

	status, err := r.Execute(context.Background(), RemoteJob{Owner: "alice", SQL: "SELECT 1", Shards: []string{"fr"}})
	if err != nil {
		t.Fatalf("Expected run log write to succeed, got %v", err)
	}
	if status != models.RunError {
		t.Errorf("Expected error status, got %s", status)
	}
	l := logs.only(t)
	if l.ErrorDetail == nil || *l.ErrorDetail != "failed to persist result: warehouse down" {
		t.Errorf("Unexpected error detail %v", l.ErrorDetail)
	}
	if logs.finishes != 1 {
		t.Errorf("Expected exactly one terminal write, got %d", logs.finishes)
	}
}

func TestRemotePanicBecomesError(t *testing.T) {
	logs := newMemLogs()
	r := NewRemote(&persistingFanout{panic: true}, logs, logger.Discard())

	status, _ := r.Execute(context.Background(), RemoteJob{Owner: "alice", SQL: "SELECT 1"})
	if status != models.RunError {
		t.Errorf("Expected error status, got %s", status)
	}
	if l := logs.only(t); l.Status != models.RunError {
		t.Errorf("Expected stored error status, got %s", l.Status)
	}
	if logs.finishes != 1 {
		t.Errorf("Expected exactly one terminal write, got %d", logs.finishes)
	}
}

// recordingWarehouse names tables like the warehouse sink without a database.
type recordingWarehouse struct {
	mu    sync.Mutex
	bases []string
}

func (w *recordingWarehouse) PersistTable(ctx context.Context, t *table.Table, base string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bases = append(w.bases, base)
	return sink.TableName(base, time.Now()), nil
}

func newShardCoordinator(t *testing.T, w fanout.TablePersister) *fanout.Coordinator {
	t.Helper()
	dir := t.TempDir()
	testutil.OrdersShard(t, dir, "fr", 3)
	testutil.OrdersShard(t, dir, "de", 2)
	pools := shardpool.NewManager(shardpool.Credentials{}, shardpool.DefaultOptions())
	t.Cleanup(func() { pools.Close() })
	return fanout.New(testutil.Registry(t, dir, "fr", "de"), executor.New(pools, time.Minute), fanout.Options{
		Persister: w,
		Logger:    logger.Discard(),
	})
}

func TestRemoteOverRealShards(t *testing.T) {
	logs := newMemLogs()
	w := &recordingWarehouse{}
	r := NewRemote(newShardCoordinator(t, w), logs, logger.Discard())

	status, err := r.Execute(context.Background(), RemoteJob{Owner: "alice", SQL: "SELECT id FROM orders", Shards: []string{"fr", "de"}})
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if status != models.RunFinished {
		t.Errorf("Expected finished, got %s", status)
	}
	if len(w.bases) != 1 || w.bases[0] != "alice_rmt" {
		t.Errorf("Expected one alice_rmt table, got %v", w.bases)
	}
}

func TestRemoteCanceledRunRecordsError(t *testing.T) {
	logs := newMemLogs()
	w := &recordingWarehouse{}
	r := NewRemote(newShardCoordinator(t, w), logs, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, err := r.Execute(ctx, RemoteJob{Owner: "alice", SQL: "SELECT id FROM orders", Shards: []string{"fr", "de"}})
	if err != nil {
		t.Fatalf("Failed to record terminal state: %v", err)
	}
	if status != models.RunError {
		t.Errorf("Expected error status, got %s", status)
	}
	l := logs.only(t)
	if l.Status != models.RunError || l.ErrorDetail == nil {
		t.Errorf("Expected error run log with detail, got %+v", l)
	}
	if len(w.bases) != 0 {
		t.Errorf("Expected nothing persisted, got %v", w.bases)
	}
}

func TestRemoteCreateFailure(t *testing.T) {
	logs := newMemLogs()
	logs.failOn = errors.New("db down")
	f := &persistingFanout{rows: 1}
	r := NewRemote(f, logs, logger.Discard())

	if _, err := r.Execute(context.Background(), RemoteJob{Owner: "alice", SQL: "SELECT 1"}); err == nil {
		t.Fatal("Expected create failure to be returned")
	}
	if f.lastReq.SQL != "" {
		t.Error("Expected no fan-out without a run log")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"ascii", strings.Repeat("x", maxDetail+10)},
		{"multibyte across the limit", "x" + strings.Repeat("é", maxDetail)},
		{"four byte runes", strings.Repeat("😀", maxDetail)},
		{"invalid bytes", "bad \xff\xfe " + strings.Repeat("y", maxDetail)},
		{"nul bytes", "relation \x00orders\x00 missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in)
			if len(got) > maxDetail {
				t.Errorf("Expected at most %d bytes, got %d", maxDetail, len(got))
			}
			if !utf8.ValidString(got) {
				t.Errorf("Expected valid UTF-8, got %q", got)
			}
			if strings.ContainsRune(got, 0) {
				t.Errorf("Expected no NUL bytes, got %q", got)
			}
		})
	}

	if got := truncate("x" + strings.Repeat("é", maxDetail)); len(got) != maxDetail-1 {
		t.Errorf("Expected the cut to back off to %d bytes, got %d", maxDetail-1, len(got))
	}
	if truncate("short") != "short" {
		t.Error("Expected short text unchanged")
	}
}
