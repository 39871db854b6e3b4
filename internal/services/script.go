package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kartikbazzad/catopus/internal/models"
)

var ErrScriptNotFound = errors.New("script not found")

// ScriptService keeps users' saved queries in dwh_system.cat_saved_scripts.
type ScriptService struct {
	db DBTX
}

func NewScriptService(db DBTX) *ScriptService {
	return &ScriptService{db: db}
}

// Save stores a script for its owner.
func (s *ScriptService) Save(ctx context.Context, sc *models.SavedScript) error {
	if strings.TrimSpace(sc.SQL) == "" {
		return fmt.Errorf("script sql is required")
	}
	if sc.Shards == nil {
		sc.Shards = []string{}
	}
	err := s.db.QueryRow(ctx,
		"INSERT INTO dwh_system.cat_saved_scripts (owner, sql_query, shards, shard_list) VALUES ($1, $2, $3, $4) RETURNING id, saved_on",
		sc.Owner, sc.SQL, sc.Shards, nullable(sc.ShardList),
	).Scan(&sc.ID, &sc.SavedOn)
	if err != nil {
		return fmt.Errorf("failed to save script: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's live scripts, newest first.
func (s *ScriptService) ListByOwner(ctx context.Context, owner string) ([]*models.SavedScript, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, owner, sql_query, shards, COALESCE(shard_list, ''), saved_on FROM dwh_system.cat_saved_scripts WHERE owner = $1 AND deleted_on IS NULL ORDER BY saved_on DESC",
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	out := []*models.SavedScript{}
	for rows.Next() {
		var sc models.SavedScript
		if err := rows.Scan(&sc.ID, &sc.Owner, &sc.SQL, &sc.Shards, &sc.ShardList, &sc.SavedOn); err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// Delete soft-deletes one of the owner's scripts.
func (s *ScriptService) Delete(ctx context.Context, owner string, id int64) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE dwh_system.cat_saved_scripts SET deleted_on = now() WHERE id = $1 AND owner = $2 AND deleted_on IS NULL",
		id, owner,
	)
	if err != nil {
		return fmt.Errorf("failed to delete script: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScriptNotFound
	}
	return nil
}
