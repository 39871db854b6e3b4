// Package fanout dispatches one SQL statement to a set of shards under a
// concurrency budget and merges whatever comes back.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/catopus/internal/executor"
	"github.com/kartikbazzad/catopus/internal/metrics"
	"github.com/kartikbazzad/catopus/internal/registry"
	"github.com/kartikbazzad/catopus/internal/table"
)

// DefaultConcurrency is the number of shard calls in flight per run.
const DefaultConcurrency = 8

var ErrEmptySQL = errors.New("sql text is required")

// Resolver maps requested shard names to descriptors.
type Resolver interface {
	Resolve(names []string) []registry.Shard
}

// Executor runs a statement on one shard.
type Executor interface {
	Execute(ctx context.Context, shard registry.Shard, query string) (*table.Partial, error)
}

// TablePersister writes a merged table to the warehouse and returns the
// physical table name it created.
type TablePersister interface {
	PersistTable(ctx context.Context, t *table.Table, base string) (string, error)
}

// Request is one fan-out invocation.
type Request struct {
	SQL          string
	Shards       []string
	PersistTable string // optional base name; empty skips the warehouse write
}

// Result is the merged outcome of a run.
type Result struct {
	Table        *table.Table
	CreatedTable string // physical table name, set only when persisted
	Resolved     int    // shards dispatched
	Succeeded    int    // shards that returned a result
}

// Skipped is the number of shards that failed and were left out.
func (r *Result) Skipped() int {
	return r.Resolved - r.Succeeded
}

// Coordinator fans queries out to shards. It holds no per-run state and is
// safe for concurrent use.
type Coordinator struct {
	resolver    Resolver
	executor    Executor
	persister   TablePersister
	concurrency int
	logger      *slog.Logger
}

// Options configures a Coordinator.
type Options struct {
	Concurrency int
	Persister   TablePersister // nil disables PersistTable requests
	Logger      *slog.Logger
}

// New creates a Coordinator.
func New(resolver Resolver, exec Executor, opts Options) *Coordinator {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		resolver:    resolver,
		executor:    exec,
		persister:   opts.Persister,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
}

type outcome struct {
	shard   registry.Shard
	partial *table.Partial
	err     error
}

// Run resolves req.Shards, executes req.SQL on each resolved shard and
// concatenates the successful partials in completion order. Shard failures
// are logged and skipped; only merge and persistence failures are returned.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, ErrEmptySQL
	}

	shards := c.resolver.Resolve(req.Shards)
	res := &Result{Resolved: len(shards)}
	if len(shards) == 0 {
		c.logger.Info("no shards resolved", "requested", req.Shards)
		metrics.FanoutRuns.WithLabelValues("empty").Inc()
		res.Table = table.Empty()
		return res, nil
	}

	partials, err := c.dispatch(ctx, shards, req.SQL)
	if err != nil {
		metrics.FanoutRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	// Canceled shard calls are skipped one by one; the run itself fails.
	if err := ctx.Err(); err != nil {
		metrics.FanoutRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fan-out interrupted: %w", err)
	}
	partials = c.alignColumns(shards, partials)
	res.Succeeded = len(partials)

	merged, err := table.Concat(partials)
	if err != nil {
		metrics.FanoutRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to merge results: %w", err)
	}
	res.Table = merged

	c.logger.Info("fan-out finished",
		"resolved", res.Resolved,
		"succeeded", res.Succeeded,
		"rows", merged.Len(),
	)

	if merged.IsEmpty() {
		metrics.FanoutRuns.WithLabelValues("empty").Inc()
		return res, nil
	}
	metrics.FanoutRuns.WithLabelValues("rows").Inc()

	if req.PersistTable != "" {
		if c.persister == nil {
			return nil, errors.New("table persistence is not configured")
		}
		c.logger.Info("persisting merged result", "base", req.PersistTable, "rows", merged.Len())
		name, err := c.persister.PersistTable(ctx, merged, req.PersistTable)
		if err != nil {
			return nil, fmt.Errorf("failed to persist result: %w", err)
		}
		res.CreatedTable = name
	}
	return res, nil
}

// dispatch runs one task per shard on a pool of at most c.concurrency
// workers. Each task sends exactly one outcome; this goroutine is the only
// reader, so partials need no locking.
func (c *Coordinator) dispatch(ctx context.Context, shards []registry.Shard, query string) ([]*table.Partial, error) {
	size := c.concurrency
	if len(shards) < size {
		size = len(shards)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	out := make(chan outcome, len(shards))
	for _, shard := range shards {
		task := func() {
			out <- c.call(ctx, shard, query)
		}
		if err := pool.Submit(task); err != nil {
			out <- outcome{shard: shard, err: &executor.ShardError{Shard: shard.Name, Kind: executor.ErrDatabase, Err: err}}
		}
	}

	var partials []*table.Partial
	for range shards {
		o := <-out
		if o.err != nil {
			c.logSkip(o.shard, o.err)
			continue
		}
		partials = append(partials, o.partial)
	}
	return partials, nil
}

// alignColumns keeps the partials whose column list is shared by the most
// shards, ties going to the list of the shard configured first. Shards
// returning any other column list are logged and skipped.
func (c *Coordinator) alignColumns(shards []registry.Shard, partials []*table.Partial) []*table.Partial {
	if len(partials) < 2 {
		return partials
	}
	order := make(map[string]int, len(shards))
	for i, s := range shards {
		order[s.Name] = i
	}

	type group struct{ count, first int }
	groups := make(map[string]*group)
	key := func(p *table.Partial) string { return strings.Join(p.Columns, "\x00") }
	for _, p := range partials {
		k := key(p)
		g, ok := groups[k]
		if !ok {
			g = &group{first: order[p.ShardName]}
			groups[k] = g
		}
		g.count++
		g.first = min(g.first, order[p.ShardName])
	}
	if len(groups) == 1 {
		return partials
	}

	var best string
	var top *group
	for k, g := range groups {
		if top == nil || g.count > top.count || (g.count == top.count && g.first < top.first) {
			best, top = k, g
		}
	}

	kept := make([]*table.Partial, 0, top.count)
	for _, p := range partials {
		if key(p) == best {
			kept = append(kept, p)
			continue
		}
		c.logger.Error("shard columns differ from the other shards, skipping",
			"shard", p.ShardName, "columns", p.Columns, "expected", strings.Split(best, "\x00"))
	}
	return kept
}

// call runs one shard query, converting a panic into a failed outcome so
// the collector always receives a value.
func (c *Coordinator) call(ctx context.Context, shard registry.Shard, query string) (o outcome) {
	o.shard = shard
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.partial = nil
			o.err = &executor.ShardError{Shard: shard.Name, Kind: executor.ErrDatabase, Err: fmt.Errorf("panic: %v", r)}
		}
		metrics.ShardQueryDuration.WithLabelValues(shard.Name).Observe(time.Since(start).Seconds())
		metrics.ShardQueries.WithLabelValues(shard.Name, outcomeLabel(o.err)).Inc()
	}()

	o.partial, o.err = c.executor.Execute(ctx, shard, query)
	if o.err == nil && o.partial == nil {
		o.err = &executor.ShardError{Shard: shard.Name, Kind: executor.ErrDatabase, Err: errors.New("no result returned")}
	}
	return o
}

func (c *Coordinator) logSkip(shard registry.Shard, err error) {
	if errors.Is(err, executor.ErrMissingRelation) {
		c.logger.Warn("relation not found on shard, skipping", "shard", shard.Name, "cluster", shard.Cluster, "error", err)
		return
	}
	c.logger.Error("shard query failed, skipping", "shard", shard.Name, "cluster", shard.Cluster, "error", err)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, executor.ErrMissingRelation):
		return metrics.OutcomeMissingRelation
	default:
		return metrics.OutcomeError
	}
}
