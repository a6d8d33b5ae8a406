package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/qbank-api/internal/handler/dto"
	"github.com/yourusername/qbank-api/internal/service"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// QuestionHandler обрабатывает изменения таксономии, вопросов и состояний пользователей
type QuestionHandler struct {
	questions *service.QuestionService
	log       *logger.Logger
}

// NewQuestionHandler создает новый обработчик вопросов
func NewQuestionHandler(questions *service.QuestionService, log *logger.Logger) *QuestionHandler {
	return &QuestionHandler{questions: questions, log: logger.OrNop(log)}
}

// CreateTheme создает тему
func (h *QuestionHandler) CreateTheme(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)

	var req dto.CreateThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	theme, err := h.questions.CreateTheme(c.Request.Context(), tenantID, req.Name)
	if err != nil {
		handleAggregateError(c, h.log, "QuestionHandler", err)
		return
	}
	c.JSON(http.StatusCreated, theme)
}

// CreateSubtheme создает подтему
func (h *QuestionHandler) CreateSubtheme(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)

	var req dto.CreateSubthemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subtheme, err := h.questions.CreateSubtheme(c.Request.Context(), tenantID, req.ThemeID, req.Name)
	if err != nil {
		handleAggregateError(c, h.log, "QuestionHandler", err)
		return
	}
	c.JSON(http.StatusCreated, subtheme)
}

// CreateGroup создает группу
func (h *QuestionHandler) CreateGroup(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)

	var req dto.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.questions.CreateGroup(c.Request.Context(), tenantID, req.SubthemeID, req.Name)
	if err != nil {
		handleAggregateError(c, h.log, "QuestionHandler", err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

// CreateQuestion создает вопрос
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)

	var req dto.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := h.questions.CreateQuestion(c.Request.Context(), tenantID, service.CreateQuestionInput{
		ThemeID:       req.ThemeID,
		SubthemeID:    req.SubthemeID,
		GroupID:       req.GroupID,
		Text:          req.Text,
		Options:       req.Options,
		CorrectOption: req.CorrectOption,
	})
	if err != nil {
		handleAggregateError(c, h.log, "QuestionHandler", err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewQuestionResponse(q))
}

// DeleteQuestion удаляет вопрос
func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)
	questionID := c.MustGet("questionID").(uint)

	if err := h.questions.DeleteQuestion(c.Request.Context(), tenantID, questionID); err != nil {
		handleAggregateError(c, h.log, "QuestionHandler", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MoveQuestion переносит вопрос в другой узел таксономии
func (h *QuestionHandler) MoveQuestion(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)
	questionID := c.MustGet("questionID").(uint)

	var req dto.PlacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := h.questions.MoveQuestion(c.Request.Context(), tenantID, questionID, req.Placement())
	if err != nil {
		handleAggregateError(c, h.log, "QuestionHandler", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewQuestionResponse(q))
}

// SetUserState задаёт флаги пользователя по вопросу
func (h *QuestionHandler) SetUserState(c *gin.Context) {
	tenantID := c.MustGet("tenantID").(uint)
	userID := c.MustGet("userID").(uint)
	questionID := c.MustGet("questionID").(uint)

	var req dto.UserStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.questions.SetUserState(c.Request.Context(), tenantID, userID, questionID, req.Flags())
	if err != nil {
		handleAggregateError(c, h.log, "QuestionHandler", err)
		return
	}
	c.JSON(http.StatusOK, state)
}
