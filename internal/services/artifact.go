package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kartikbazzad/catopus/internal/models"
)

var ErrArtifactNotFound = errors.New("search result not found")

const artifactColumns = "identifier::text, owner, sql_query, shards, COALESCE(shard_list, ''), blob_key, row_count, created_at"

// ArtifactService stores result snapshots in dwh_system.cat_search_result.
type ArtifactService struct {
	db DBTX
}

func NewArtifactService(db DBTX) *ArtifactService {
	return &ArtifactService{db: db}
}

// Create records a stored result. Identifiers are never reused.
func (s *ArtifactService) Create(ctx context.Context, a *models.Artifact) error {
	if a.Shards == nil {
		a.Shards = []string{}
	}
	err := s.db.QueryRow(ctx,
		"INSERT INTO dwh_system.cat_search_result (identifier, owner, sql_query, shards, shard_list, blob_key, row_count) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at",
		a.Identifier, a.Owner, a.SQL, a.Shards, nullable(a.ShardList), a.BlobKey, a.RowCount,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create search result: %w", err)
	}
	return nil
}

// Get returns the artifact with identifier, whoever owns it.
func (s *ArtifactService) Get(ctx context.Context, identifier string) (*models.Artifact, error) {
	id, err := uuid.Parse(identifier)
	if err != nil {
		return nil, ErrArtifactNotFound
	}
	row := s.db.QueryRow(ctx,
		"SELECT "+artifactColumns+" FROM dwh_system.cat_search_result WHERE identifier = $1",
		id,
	)
	a, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load search result: %w", err)
	}
	return a, nil
}

// ListByOwner returns the owner's search history, newest first.
func (s *ArtifactService) ListByOwner(ctx context.Context, owner string, limit int) ([]*models.Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+artifactColumns+" FROM dwh_system.cat_search_result WHERE owner = $1 ORDER BY created_at DESC LIMIT $2",
		owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list search results: %w", err)
	}
	defer rows.Close()

	out := []*models.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanArtifact(row pgx.Row) (*models.Artifact, error) {
	var a models.Artifact
	if err := row.Scan(&a.Identifier, &a.Owner, &a.SQL, &a.Shards, &a.ShardList, &a.BlobKey, &a.RowCount, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
