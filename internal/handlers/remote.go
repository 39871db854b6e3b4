package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/catopus/internal/jobs"
	"github.com/kartikbazzad/catopus/internal/middleware"
	"github.com/kartikbazzad/catopus/internal/models"
)

// JobSubmitter queues remote runs.
type JobSubmitter interface {
	Submit(job jobs.RemoteJob) error
}

// RunLogs reads run logs of an owner.
type RunLogs interface {
	Get(ctx context.Context, owner string, id int64) (*models.RunLog, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*models.RunLog, error)
}

// RemoteHandler starts remote runs and reports on them.
type RemoteHandler struct {
	runner JobSubmitter
	logs   RunLogs
	logger *slog.Logger
}

func NewRemoteHandler(runner JobSubmitter, logs RunLogs, logger *slog.Logger) *RemoteHandler {
	return &RemoteHandler{runner: runner, logs: logs, logger: logger}
}

// Start queues a remote run and returns immediately. POST /api/remote
func (h *RemoteHandler) Start(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body."})
		return
	}
	if strings.TrimSpace(req.SQL) == "" || len(req.Shards) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Query and shards are required for remote execution."})
		return
	}

	err := h.runner.Submit(jobs.RemoteJob{
		Owner:     middleware.GetOwner(c),
		SQL:       req.SQL,
		Shards:    req.Shards,
		ShardList: req.ShardList,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "processing", "message": "Remote execution started."})
}

// List returns the caller's remote runs. GET /api/remote
func (h *RemoteHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.logs.ListByOwner(c.Request.Context(), middleware.GetOwner(c), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": logs})
}

// Get returns one remote run of the caller. GET /api/remote/:id
func (h *RemoteHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid run id."})
		return
	}
	log, err := h.logs.Get(c.Request.Context(), middleware.GetOwner(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, log)
}
