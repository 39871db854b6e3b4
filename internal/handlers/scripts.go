package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/catopus/internal/middleware"
	"github.com/kartikbazzad/catopus/internal/models"
)

// Scripts stores saved queries.
type Scripts interface {
	Save(ctx context.Context, sc *models.SavedScript) error
	ListByOwner(ctx context.Context, owner string) ([]*models.SavedScript, error)
	Delete(ctx context.Context, owner string, id int64) error
}

type ScriptHandler struct {
	scripts Scripts
	logger  *slog.Logger
}

func NewScriptHandler(scripts Scripts, logger *slog.Logger) *ScriptHandler {
	return &ScriptHandler{scripts: scripts, logger: logger}
}

// List returns the caller's saved scripts. GET /api/scripts
func (h *ScriptHandler) List(c *gin.Context) {
	items, err := h.scripts.ListByOwner(c.Request.Context(), middleware.GetOwner(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": items})
}

// Save stores a script. POST /api/scripts
func (h *ScriptHandler) Save(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SQL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Query is required."})
		return
	}
	sc := &models.SavedScript{
		Owner:     middleware.GetOwner(c),
		SQL:       req.SQL,
		Shards:    req.Shards,
		ShardList: req.ShardList,
	}
	if err := h.scripts.Save(c.Request.Context(), sc); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sc)
}

// Delete removes a script. DELETE /api/scripts/:id
func (h *ScriptHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid script id."})
		return
	}
	if err := h.scripts.Delete(c.Request.Context(), middleware.GetOwner(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
