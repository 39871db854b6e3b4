package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/catopus/internal/middleware"
	"github.com/kartikbazzad/catopus/internal/models"
	"github.com/kartikbazzad/catopus/internal/services"
	"github.com/kartikbazzad/catopus/internal/sink"
	"github.com/kartikbazzad/catopus/internal/storage"
	"github.com/kartikbazzad/catopus/internal/table"
)

// Queries is the synchronous query service used by QueryHandler.
type Queries interface {
	Run(ctx context.Context, owner string, req services.QueryRequest) (*services.QueryResult, error)
	SaveTable(ctx context.Context, owner, identifier, base string) (string, error)
	Share(ctx context.Context, identifier string) (*models.Artifact, *table.Table, error)
	Download(ctx context.Context, identifier string, offset, length int64) ([]byte, int64, error)
	History(ctx context.Context, owner string, limit int) ([]*models.Artifact, error)
}

// QueryHandler serves synchronous queries and their stored results.
type QueryHandler struct {
	queries Queries
	logger  *slog.Logger
}

func NewQueryHandler(queries Queries, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{queries: queries, logger: logger}
}

// QueryRequest is the body of POST /api/query and POST /api/remote.
type QueryRequest struct {
	SQL       string   `json:"sql"`
	Shards    []string `json:"shards"`
	ShardList string   `json:"shard_list"`
	TableName string   `json:"table_name"`
}

type tableBody struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

func newTableBody(t *table.Table) tableBody {
	rows := t.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return tableBody{Columns: t.Columns, Rows: rows, RowCount: len(rows)}
}

// Query runs a statement across shards. POST /api/query
func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body."})
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Query is required."})
		return
	}

	res, err := h.queries.Run(c.Request.Context(), middleware.GetOwner(c), services.QueryRequest{
		SQL:       req.SQL,
		Shards:    req.Shards,
		ShardList: req.ShardList,
		TableName: req.TableName,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if res.Empty() {
		c.JSON(http.StatusOK, gin.H{
			"status":           "empty",
			"message":          "No results found.",
			"shards_resolved":  res.Resolved,
			"shards_succeeded": res.Succeeded,
		})
		return
	}

	body := newTableBody(res.Table)
	var tableName *string
	if res.CreatedTable != "" {
		tableName = &res.CreatedTable
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "success",
		"identifier":       res.Identifier,
		"columns":          body.Columns,
		"rows":             body.Rows,
		"row_count":        body.RowCount,
		"table_name":       tableName,
		"shards_resolved":  res.Resolved,
		"shards_succeeded": res.Succeeded,
	})
}

// SaveTable writes a stored result into the warehouse. POST /api/results/:id/table
func (h *QueryHandler) SaveTable(c *gin.Context) {
	var body struct {
		TableName string `json:"table_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body."})
		return
	}

	name, err := h.queries.SaveTable(c.Request.Context(), middleware.GetOwner(c), c.Param("id"), body.TableName)
	if errors.Is(err, services.ErrNothingToSave) {
		c.JSON(http.StatusOK, gin.H{"status": "info", "message": "No data to save."})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "table_name": name})
}

// Share returns a stored result by identifier. GET /api/results/:id
func (h *QueryHandler) Share(c *gin.Context) {
	a, t, err := h.queries.Share(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	body := newTableBody(t)
	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"identifier": a.Identifier,
		"sql":        a.SQL,
		"shards":     a.Shards,
		"shard_list": a.ShardList,
		"created_at": a.CreatedAt,
		"columns":    body.Columns,
		"rows":       body.Rows,
		"row_count":  body.RowCount,
	})
}

// Download streams the stored parquet file, honouring a single byte range.
// GET /api/results/:id/download
func (h *QueryHandler) Download(c *gin.Context) {
	id := c.Param("id")
	offset, length, partial, ok := parseRange(c.GetHeader("Range"))
	if !ok {
		c.JSON(http.StatusRequestedRangeNotSatisfiable, gin.H{"status": "error", "message": "Requested range not satisfiable."})
		return
	}

	data, size, err := h.queries.Download(c.Request.Context(), id, offset, length)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRange) {
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		}
		respondError(c, h.logger, err)
		return
	}

	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.parquet.gzip"`, id))
	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(data))-1, size))
	}
	c.Data(status, sink.ContentType, data)
}

// History lists the caller's stored results. GET /api/results
func (h *QueryHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.queries.History(c.Request.Context(), middleware.GetOwner(c), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": items})
}

// parseRange understands "bytes=a-b" and "bytes=a-". An empty header
// selects the whole object.
func parseRange(header string) (offset, length int64, partial, ok bool) {
	if header == "" {
		return 0, 0, false, true
	}
	rng, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(rng, ",") {
		return 0, 0, false, false
	}
	startStr, endStr, found := strings.Cut(rng, "-")
	if !found || startStr == "" {
		return 0, 0, false, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false, false
	}
	if endStr == "" {
		return start, 0, true, true
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, false, false
	}
	return start, end - start + 1, true, true
}
