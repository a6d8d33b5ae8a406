package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// handleAggregateError сопоставляет ошибки сервисов с HTTP-кодами
func handleAggregateError(c *gin.Context, log *logger.Logger, component string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrRepairInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_type": "repair_in_progress"})
	case errors.Is(err, apperrors.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Errorf("[%s] Internal server error: %v", component, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
