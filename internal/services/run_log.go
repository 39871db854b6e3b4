package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kartikbazzad/catopus/internal/models"
)

var (
	ErrRunLogNotFound = errors.New("run log not found")
	ErrRunLogFinished = errors.New("run log already reached a terminal state")
	ErrInvalidStatus  = errors.New("invalid terminal status")
)

const runLogColumns = "id, owner, status, sql_query, shards, COALESCE(shard_list, ''), created_table, error_detail, run_on, updated_on"

// RunLogService stores remote run logs in dwh_system.cat_remote_logs.
type RunLogService struct {
	db DBTX
}

// NewRunLogService creates a new RunLogService.
func NewRunLogService(db DBTX) *RunLogService {
	return &RunLogService{db: db}
}

// Create inserts log in the start state and fills its ID and RunOn.
func (s *RunLogService) Create(ctx context.Context, log *models.RunLog) error {
	if log.Owner == "" {
		return fmt.Errorf("run log owner is required")
	}
	log.Status = models.RunStart
	if log.Shards == nil {
		log.Shards = []string{}
	}

	err := s.db.QueryRow(ctx,
		"INSERT INTO dwh_system.cat_remote_logs (owner, status, sql_query, shards, shard_list) VALUES ($1, $2, $3, $4, $5) RETURNING id, run_on",
		log.Owner, string(log.Status), log.SQL, log.Shards, nullable(log.ShardList),
	).Scan(&log.ID, &log.RunOn)
	if err != nil {
		return fmt.Errorf("failed to create run log: %w", err)
	}
	return nil
}

// Finish moves a run from start to a terminal status. The update is
// conditional on the current status, so a run finishes at most once.
func (s *RunLogService) Finish(ctx context.Context, id int64, status models.RunStatus, createdTable, detail string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	tag, err := s.db.Exec(ctx,
		"UPDATE dwh_system.cat_remote_logs SET status = $1, created_table = $2, error_detail = $3, updated_on = $4 WHERE id = $5 AND status = 'start'",
		string(status), nullable(createdTable), nullable(detail), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run log %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRow(ctx, "SELECT status FROM dwh_system.cat_remote_logs WHERE id = $1", id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRunLogNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load run log %d: %w", id, err)
	}
	return fmt.Errorf("run log %d is %s: %w", id, current, ErrRunLogFinished)
}

// Get returns the run log with id if it belongs to owner.
func (s *RunLogService) Get(ctx context.Context, owner string, id int64) (*models.RunLog, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+runLogColumns+" FROM dwh_system.cat_remote_logs WHERE id = $1 AND owner = $2",
		id, owner,
	)
	log, err := scanRunLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run log: %w", err)
	}
	return log, nil
}

// ListByOwner returns the owner's runs, most recently updated first.
func (s *RunLogService) ListByOwner(ctx context.Context, owner string, limit int) ([]*models.RunLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+runLogColumns+" FROM dwh_system.cat_remote_logs WHERE owner = $1 ORDER BY COALESCE(updated_on, run_on) DESC LIMIT $2",
		owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}
	defer rows.Close()

	logs := []*models.RunLog{}
	for rows.Next() {
		log, err := scanRunLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanRunLog(row pgx.Row) (*models.RunLog, error) {
	var l models.RunLog
	var status string
	err := row.Scan(&l.ID, &l.Owner, &status, &l.SQL, &l.Shards, &l.ShardList, &l.CreatedTable, &l.ErrorDetail, &l.RunOn, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = models.RunStatus(status)
	return &l, nil
}
