package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/qbank-api/internal/middleware"
)

// Routes - обработчики и middleware для регистрации маршрутов
type Routes struct {
	Selection *SelectionHandler
	Questions *QuestionHandler
	Admin     *AdminHandler
	// SampleLimit ограничивает частоту выборок (nil - без ограничения)
	SampleLimit gin.HandlerFunc
	// OperatorAuth защищает /api/admin (nil - без проверки)
	OperatorAuth gin.HandlerFunc
}

// Register настраивает маршруты API
func (r Routes) Register(router *gin.Engine) {
	sampleLimit := r.SampleLimit
	if sampleLimit == nil {
		sampleLimit = func(c *gin.Context) { c.Next() }
	}
	operatorAuth := r.OperatorAuth
	if operatorAuth == nil {
		operatorAuth = func(c *gin.Context) { c.Next() }
	}

	api := router.Group("/api")
	{
		tenants := api.Group("/tenants/:tenantId")
		tenants.Use(middleware.TenantScope())
		{
			tenants.GET("/questions/count", r.Selection.Count)
			tenants.POST("/questions/sample", sampleLimit, r.Selection.Sample)
			tenants.POST("/questions/sample/batch", sampleLimit, r.Selection.SampleBatch)

			tenants.POST("/themes", r.Questions.CreateTheme)
			tenants.POST("/subthemes", r.Questions.CreateSubtheme)
			tenants.POST("/groups", r.Questions.CreateGroup)
			tenants.POST("/questions", r.Questions.CreateQuestion)

			questionWithID := tenants.Group("/questions/:id")
			questionWithID.Use(middleware.ExtractUintParam("id", "questionID"))
			{
				questionWithID.DELETE("", r.Questions.DeleteQuestion)
				questionWithID.PUT("/placement", r.Questions.MoveQuestion)
			}

			userState := tenants.Group("/users/:userId/questions/:id")
			userState.Use(middleware.ExtractUintParam("userId", "userID"), middleware.ExtractUintParam("id", "questionID"))
			{
				userState.PUT("/state", r.Questions.SetUserState)
			}
		}

		admin := api.Group("/admin/aggregates")
		admin.Use(operatorAuth)
		{
			admin.POST("/repair", r.Admin.Repair)
			admin.GET("/repair/status", r.Admin.RepairStatus)
			admin.GET("/stats", r.Admin.Stats)
			admin.GET("/report.xlsx", r.Admin.Report)
			admin.POST("/snapshot", r.Admin.Snapshot)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
