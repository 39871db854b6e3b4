package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/catopus/internal/fanout"
	"github.com/kartikbazzad/catopus/internal/jobs"
	"github.com/kartikbazzad/catopus/internal/services"
	"github.com/kartikbazzad/catopus/internal/sink"
	"github.com/kartikbazzad/catopus/internal/storage"
	apperrors "github.com/kartikbazzad/catopus/pkg/errors"
)

// toAppError maps domain errors to HTTP errors.
func toAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, fanout.ErrEmptySQL):
		return apperrors.BadRequest("Query is required.")
	case errors.Is(err, services.ErrTableNameRequired):
		return apperrors.BadRequest("Missing identifier or table name.")
	case errors.Is(err, services.ErrArtifactNotFound), errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFound("Search result not found.")
	case errors.Is(err, services.ErrRunLogNotFound):
		return apperrors.NotFound("Remote run not found.")
	case errors.Is(err, services.ErrScriptNotFound):
		return apperrors.NotFound("Script not found.")
	case errors.Is(err, sink.ErrTableExists):
		return apperrors.Conflict("A table with this name was created in the same second; retry.", err)
	case errors.Is(err, storage.ErrInvalidRange):
		return apperrors.New(http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable.", err)
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		return apperrors.Unavailable("Too many remote runs in progress. Try again later.", err)
	}
	return apperrors.As(err)
}

func respondError(c *gin.Context, log *slog.Logger, err error) {
	appErr := toAppError(err)
	if appErr.Code >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(appErr.Code, gin.H{"status": "error", "message": appErr.Message})
}
