package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/qbank-api/internal/handler/dto"
	"github.com/yourusername/qbank-api/internal/service/resolver"
	"github.com/yourusername/qbank-api/internal/service/sampler"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// SelectionHandler обрабатывает подсчёт и случайную выборку вопросов
type SelectionHandler struct {
	resolver *resolver.Resolver
	sampler  *sampler.Sampler
	log      *logger.Logger
}

// NewSelectionHandler создает новый обработчик выборок
func NewSelectionHandler(r *resolver.Resolver, s *sampler.Sampler, log *logger.Logger) *SelectionHandler {
	return &SelectionHandler{resolver: r, sampler: s, log: logger.OrNop(log)}
}

// Count возвращает число вопросов выборки с разбивкой по узлам
func (h *SelectionHandler) Count(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)

	var query dto.CountQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec, err := query.Spec(tenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.resolver.Count(c.Request.Context(), spec)
	if err != nil {
		handleAggregateError(c, h.log, "SelectionHandler", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Sample возвращает k случайных различных вопросов выборки
func (h *SelectionHandler) Sample(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)

	var req dto.SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec, err := req.Spec(tenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.sampler.Draw(c.Request.Context(), spec, req.K)
	if err != nil {
		handleAggregateError(c, h.log, "SelectionHandler", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SampleBatch распределяет total между несколькими выборками по весам
func (h *SelectionHandler) SampleBatch(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)

	var req dto.BatchSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	batch, err := req.Batch(tenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.sampler.DrawBatch(c.Request.Context(), batch)
	if err != nil {
		handleAggregateError(c, h.log, "SelectionHandler", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
