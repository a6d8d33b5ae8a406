package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/handler/dto"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/internal/service/repair"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// AdminHandler обрабатывает операторские запросы к агрегатам
type AdminHandler struct {
	engine      *repair.Engine
	scheduler   *repair.Scheduler
	store       *aggregate.Store
	health      *aggregate.Health
	snapshotter *aggregate.Snapshotter // nil, если снимки выключены
	log         *logger.Logger
}

// NewAdminHandler создает новый операторский обработчик
func NewAdminHandler(
	engine *repair.Engine,
	scheduler *repair.Scheduler,
	store *aggregate.Store,
	health *aggregate.Health,
	snapshotter *aggregate.Snapshotter,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		engine:      engine,
		scheduler:   scheduler,
		store:       store,
		health:      health,
		snapshotter: snapshotter,
		log:         logger.OrNop(log),
	}
}

// Repair обрабатывает одну страницу ремонта или, с run_to_completion, весь ремонт с проверкой
func (h *AdminHandler) Repair(c *gin.Context) {
	var req dto.RepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !req.RunToCompletion {
		page, err := h.engine.Step(c.Request.Context(), req.Request())
		if errors.Is(err, apperrors.ErrRepairIncomplete) && page != nil && page.Final != nil {
			c.JSON(http.StatusConflict, page)
			return
		}
		if err != nil {
			handleAggregateError(c, h.log, "AdminHandler", err)
			return
		}
		c.JSON(http.StatusOK, page)
		return
	}

	res, err := h.engine.Run(c.Request.Context(), req.Request())
	if errors.Is(err, apperrors.ErrRepairIncomplete) && res != nil {
		// Задание переведено в failed; повторный запуск начнёт ремонт заново
		c.JSON(http.StatusConflict, res)
		return
	}
	if err != nil {
		handleAggregateError(c, h.log, "AdminHandler", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RepairStatus возвращает задание области или все задания экземпляра
func (h *AdminHandler) RepairStatus(c *gin.Context) {
	var query dto.RepairStatusQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if query.Empty() {
		c.JSON(http.StatusOK, gin.H{
			"jobs":       h.engine.Jobs(),
			"pending":    h.scheduler.Pending(),
			"corrupted":  h.health.Corrupted(),
			"rebuilding": h.health.Rebuilding(),
		})
		return
	}

	job, err := h.engine.Status(query.Scope())
	if err != nil {
		handleAggregateError(c, h.log, "AdminHandler", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Stats возвращает статистику хранилища; ?trees=true добавляет построчную статистику
func (h *AdminHandler) Stats(c *gin.Context) {
	withTrees := c.Query("trees") == "true"
	c.JSON(http.StatusOK, gin.H{
		"store":      h.store.Stats(withTrees),
		"corrupted":  h.health.Corrupted(),
		"rebuilding": h.health.Rebuilding(),
	})
}

// Snapshot сохраняет снимок хранилища
func (h *AdminHandler) Snapshot(c *gin.Context) {
	if h.snapshotter == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "snapshots are disabled"})
		return
	}
	manifest, err := h.snapshotter.Save()
	if err != nil {
		handleAggregateError(c, h.log, "AdminHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generation": manifest.Generation,
		"created_at": manifest.CreatedAt,
		"namespaces": len(manifest.Namespaces),
	})
}

// Report выгружает статистику пространств и заданий ремонта в Excel (StreamWriter)
func (h *AdminHandler) Report(c *gin.Context) {
	f := excelize.NewFile()
	defer f.Close()

	const treesSheet = "Пространства"
	f.SetSheetName("Sheet1", treesSheet)
	if err := h.writeTrees(f, treesSheet); err != nil {
		h.log.Errorf("[AdminHandler] Ошибка формирования листа %s: %v", treesSheet, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	const jobsSheet = "Ремонт"
	if _, err := f.NewSheet(jobsSheet); err != nil {
		h.log.Errorf("[AdminHandler] Ошибка создания листа %s: %v", jobsSheet, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}
	if err := h.writeJobs(f, jobsSheet); err != nil {
		h.log.Errorf("[AdminHandler] Ошибка формирования листа %s: %v", jobsSheet, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	filename := fmt.Sprintf("aggregates_%s", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.xlsx\"", filename))
	if err := f.Write(c.Writer); err != nil {
		h.log.Errorf("[AdminHandler] Ошибка записи Excel в response: %v", err)
	}
}

func (h *AdminHandler) writeTrees(f *excelize.File, sheet string) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	headers := []interface{}{"Пространство", "Класс", "Размер", "Высота", "Водяной знак", "Версия", "Исправно"}
	if err := sw.SetRow("A1", headers); err != nil {
		return err
	}
	stats := h.store.Stats(true)
	for i, t := range stats.Trees {
		healthy := "Да"
		if !h.health.IsHealthy(t.Namespace) {
			healthy = "Нет"
		}
		row := []interface{}{string(t.Namespace), string(t.Class), t.Size, t.Height, t.Watermark, t.Version, healthy}
		if err := sw.SetRow(fmt.Sprintf("A%d", i+2), row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func (h *AdminHandler) writeJobs(f *excelize.File, sheet string) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	headers := []interface{}{"Область", "Режим", "Состояние", "Страниц", "Обработано", "Обновлено", "Проверено", "Ошибка", "Обновлено в"}
	if err := sw.SetRow("A1", headers); err != nil {
		return err
	}
	for i, job := range h.engine.Jobs() {
		row := []interface{}{
			job.Scope.String(), string(job.Mode), string(job.State), job.Pages, job.Processed,
			job.Updated, job.VerifiedCount, job.LastError, job.UpdatedAt.Format(time.RFC3339),
		}
		if err := sw.SetRow(fmt.Sprintf("A%d", i+2), row); err != nil {
			return err
		}
	}
	return sw.Flush()
}
