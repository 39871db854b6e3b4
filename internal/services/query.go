package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kartikbazzad/catopus/internal/fanout"
	"github.com/kartikbazzad/catopus/internal/models"
	"github.com/kartikbazzad/catopus/internal/table"
)

var (
	ErrNothingToSave     = errors.New("no data to save")
	ErrTableNameRequired = errors.New("table name is required")
)

// Fanout runs one statement across shards.
type Fanout interface {
	Run(ctx context.Context, req fanout.Request) (*fanout.Result, error)
}

// BlobStore persists merged results as addressable blobs.
type BlobStore interface {
	PersistBlob(ctx context.Context, id string, t *table.Table) (string, error)
	LoadBlob(ctx context.Context, id string) (*table.Table, error)
	ReadBlob(ctx context.Context, id string, offset, length int64) ([]byte, int64, error)
}

// ArtifactStore records stored results.
type ArtifactStore interface {
	Create(ctx context.Context, a *models.Artifact) error
	Get(ctx context.Context, identifier string) (*models.Artifact, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*models.Artifact, error)
}

// QueryRequest is a synchronous fan-out request.
type QueryRequest struct {
	SQL       string
	Shards    []string
	ShardList string
	TableName string // optional warehouse table base name
}

// QueryResult is the outcome of a synchronous run. Identifier is empty when
// the result was empty and nothing was stored.
type QueryResult struct {
	Table        *table.Table
	Identifier   string
	CreatedTable string
	Resolved     int
	Succeeded    int
}

// Empty reports whether the run produced no rows.
func (r *QueryResult) Empty() bool {
	return r.Table == nil || r.Table.IsEmpty()
}

// QueryService runs synchronous queries and manages their stored results.
type QueryService struct {
	fanout    Fanout
	blobs     BlobStore
	artifacts ArtifactStore
	persister fanout.TablePersister
	logger    *slog.Logger
}

func NewQueryService(f Fanout, blobs BlobStore, artifacts ArtifactStore, persister fanout.TablePersister, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		fanout:    f,
		blobs:     blobs,
		artifacts: artifacts,
		persister: persister,
		logger:    logger,
	}
}

// Run fans req out, persists the warehouse table when a name is given, and
// stores a non-empty result as a parquet blob under a fresh identifier.
func (s *QueryService) Run(ctx context.Context, owner string, req QueryRequest) (*QueryResult, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, fanout.ErrEmptySQL
	}

	res, err := s.fanout.Run(ctx, fanout.Request{
		SQL:          req.SQL,
		Shards:       req.Shards,
		PersistTable: strings.TrimSpace(req.TableName),
	})
	if err != nil {
		return nil, err
	}

	out := &QueryResult{
		Table:        res.Table,
		CreatedTable: res.CreatedTable,
		Resolved:     res.Resolved,
		Succeeded:    res.Succeeded,
	}
	if out.Empty() {
		s.logger.Info("query returned no results", "owner", owner, "resolved", res.Resolved, "succeeded", res.Succeeded)
		return out, nil
	}

	id := uuid.NewString()
	key, err := s.blobs.PersistBlob(ctx, id, res.Table)
	if err != nil {
		return nil, err
	}
	err = s.artifacts.Create(ctx, &models.Artifact{
		Identifier: id,
		Owner:      owner,
		SQL:        req.SQL,
		Shards:     req.Shards,
		ShardList:  req.ShardList,
		BlobKey:    key,
		RowCount:   int64(res.Table.Len()),
	})
	if err != nil {
		return nil, err
	}
	out.Identifier = id
	s.logger.Info("query result stored", "owner", owner, "identifier", id, "rows", res.Table.Len())
	return out, nil
}

// SaveTable writes an already stored result of owner into the warehouse.
func (s *QueryService) SaveTable(ctx context.Context, owner, identifier, base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", ErrTableNameRequired
	}
	a, err := s.artifacts.Get(ctx, identifier)
	if err != nil {
		return "", err
	}
	if a.Owner != owner {
		return "", ErrArtifactNotFound
	}

	t, err := s.blobs.LoadBlob(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("failed to load result %s: %w", identifier, err)
	}
	if t.IsEmpty() {
		return "", ErrNothingToSave
	}

	s.logger.Info("saving stored result to warehouse", "owner", owner, "identifier", identifier, "base", base)
	return s.persister.PersistTable(ctx, t, base)
}

// Share returns a stored result and its rows. Any caller holding the
// identifier may read it.
func (s *QueryService) Share(ctx context.Context, identifier string) (*models.Artifact, *table.Table, error) {
	a, err := s.artifacts.Get(ctx, identifier)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.blobs.LoadBlob(ctx, identifier)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load result %s: %w", identifier, err)
	}
	return a, t, nil
}

// Download returns raw blob bytes; length <= 0 reads to the end.
func (s *QueryService) Download(ctx context.Context, identifier string, offset, length int64) ([]byte, int64, error) {
	if _, err := s.artifacts.Get(ctx, identifier); err != nil {
		return nil, 0, err
	}
	return s.blobs.ReadBlob(ctx, identifier, offset, length)
}

// History lists the owner's stored results.
func (s *QueryService) History(ctx context.Context, owner string, limit int) ([]*models.Artifact, error) {
	return s.artifacts.ListByOwner(ctx, owner, limit)
}
