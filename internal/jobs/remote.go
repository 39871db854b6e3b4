// Package jobs runs remote fan-out requests in the background and records
// their progress in run logs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kartikbazzad/catopus/internal/fanout"
	"github.com/kartikbazzad/catopus/internal/metrics"
	"github.com/kartikbazzad/catopus/internal/models"
	"github.com/kartikbazzad/catopus/internal/sink"
)

// maxDetail bounds the error text kept on a run log.
const maxDetail = 1024

// RemoteJob carries the parameters of one remote run verbatim.
type RemoteJob struct {
	Owner     string
	SQL       string
	Shards    []string
	ShardList string
}

// Fanout runs one statement across shards.
type Fanout interface {
	Run(ctx context.Context, req fanout.Request) (*fanout.Result, error)
}

// RunLogStore records remote run state.
type RunLogStore interface {
	Create(ctx context.Context, log *models.RunLog) error
	Finish(ctx context.Context, id int64, status models.RunStatus, createdTable, detail string) error
}

// Remote executes remote jobs: start, fan out, persist, then exactly one
// terminal run log update.
type Remote struct {
	fanout Fanout
	logs   RunLogStore
	logger *slog.Logger
}

func NewRemote(f Fanout, logs RunLogStore, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{fanout: f, logs: logs, logger: logger}
}

// Execute runs job to completion. The returned status is the terminal state
// recorded for the run; an error is returned only when the run log itself
// could not be written.
func (r *Remote) Execute(ctx context.Context, job RemoteJob) (status models.RunStatus, err error) {
	log := &models.RunLog{
		Owner:     job.Owner,
		SQL:       job.SQL,
		Shards:    job.Shards,
		ShardList: job.ShardList,
	}
	if err := r.logs.Create(ctx, log); err != nil {
		r.logger.Error("failed to create run log", "owner", job.Owner, "error", err)
		return "", err
	}
	r.logger.Info("remote run started", "id", log.ID, "owner", job.Owner, "shards", len(job.Shards))

	finished := false
	finish := func(s models.RunStatus, table, detail string) {
		finished = true
		status = s
		metrics.RemoteJobs.WithLabelValues(string(s)).Inc()
		// The terminal write must land even when ctx was canceled mid-run.
		if ferr := r.logs.Finish(context.WithoutCancel(ctx), log.ID, s, table, detail); ferr != nil {
			r.logger.Error("failed to finish run log", "id", log.ID, "status", s, "error", ferr)
			err = ferr
		}
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("remote run panicked", "id", log.ID, "panic", p)
			if !finished {
				finish(models.RunError, "", truncate(fmt.Sprint("panic: ", p)))
			}
		}
	}()

	res, runErr := r.fanout.Run(ctx, fanout.Request{
		SQL:          job.SQL,
		Shards:       job.Shards,
		PersistTable: sink.RemoteBase(job.Owner),
	})
	switch {
	case runErr != nil:
		r.logger.Error("remote run failed", "id", log.ID, "owner", job.Owner, "error", runErr)
		finish(models.RunError, "", truncate(runErr.Error()))
	case res.Table.IsEmpty():
		r.logger.Info("remote run returned no rows", "id", log.ID, "resolved", res.Resolved, "succeeded", res.Succeeded)
		finish(models.RunEmpty, "", "")
	default:
		r.logger.Info("remote run finished", "id", log.ID, "table", res.CreatedTable, "rows", res.Table.Len())
		finish(models.RunFinished, res.CreatedTable, "")
	}
	return status, err
}

// truncate makes s storable as Postgres text: valid UTF-8, no NUL bytes,
// at most maxDetail bytes cut on a rune boundary.
func truncate(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= maxDetail {
		return s
	}
	cut := maxDetail
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
