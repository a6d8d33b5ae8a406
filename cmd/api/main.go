package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/cluster"
	"github.com/yourusername/qbank-api/internal/config"
	"github.com/yourusername/qbank-api/internal/handler"
	"github.com/yourusername/qbank-api/internal/middleware"
	"github.com/yourusername/qbank-api/internal/namespace"
	pgRepo "github.com/yourusername/qbank-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/qbank-api/internal/repository/redis"
	"github.com/yourusername/qbank-api/internal/service"
	"github.com/yourusername/qbank-api/internal/service/repair"
	"github.com/yourusername/qbank-api/internal/service/resolver"
	"github.com/yourusername/qbank-api/internal/service/sampler"
	"github.com/yourusername/qbank-api/pkg/database"
	"github.com/yourusername/qbank-api/pkg/logger"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	appLog, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Printf("Failed to init logger: %v", err)
		os.Exit(1)
	}
	defer appLog.Sync()

	isProduction := gin.Mode() == gin.ReleaseMode

	// PostgreSQL и миграции
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), isProduction)
	if err != nil {
		appLog.Fatalf("[Main] Failed to connect to database: %v", err)
	}
	if err := database.MigrateDB(db, "migrations", appLog); err != nil {
		appLog.Fatalf("[Main] Failed to migrate database: %v", err)
	}

	// Redis: кеш, задания ремонта, снимки, лимиты и Pub/Sub
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		appLog.Fatalf("[Main] Failed to connect to Redis: %v", err)
	}
	appLog.Infof("[Main] Successfully connected to Redis (mode %s)", cfg.Redis.Mode)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		appLog.Fatalf("[Main] Failed to initialize CacheRepo: %v", err)
	}

	// Репозитории
	sourceRepo := pgRepo.NewAggregateSourceRepo(db)
	taxonomyRepo := redisRepo.NewCachedTaxonomyRepo(
		pgRepo.NewTaxonomyRepo(db),
		cacheRepo,
		time.Duration(cfg.Aggregate.LineageCacheTTLSec)*time.Second,
		appLog,
	)
	uow := pgRepo.NewUnitOfWork(db)

	// Контекст жизненного цикла фоновых горутин
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Хранилище агрегатов
	store := aggregate.NewStore(appLog)
	health := aggregate.NewHealth()

	policy, err := resolver.ParsePolicy(cfg.Aggregate.StrategyPolicy)
	if err != nil {
		appLog.Fatalf("[Main] %v", err)
	}
	res := resolver.NewResolver(store, health, sourceRepo, taxonomyRepo, nil, policy, appLog)

	// Репликация операций между экземплярами
	var pubSubProvider cluster.PubSubProvider = &cluster.NoOpPubSub{}
	if cfg.Aggregate.Cluster.Enabled {
		redisProvider, errProv := cluster.NewRedisPubSub(redisClient, appLog)
		if errProv != nil {
			appLog.Warnf("[Main] Ошибка при создании Redis PubSub провайдера: %v. Кластерный режим будет неактивен.", errProv)
			cfg.Aggregate.Cluster.Enabled = false
		} else {
			pubSubProvider = redisProvider
		}
	}
	replicator := cluster.NewReplicator(cfg.Aggregate.Cluster, pubSubProvider, store, appLog)
	instanceID := replicator.InstanceID()

	// Ремонт
	engine := repair.NewEngine(
		store,
		health,
		sourceRepo,
		cacheRepo,
		instanceID,
		cfg.Aggregate.RepairPageSize,
		cfg.Aggregate.RepairPagesPerSecond,
		appLog,
	)
	scheduler := repair.NewScheduler(engine, 256, appLog)
	res.SetScheduler(scheduler)
	scheduler.Start(ctx)

	replicator.OnCorrupted(func(ns namespace.Namespace) {
		health.MarkCorrupted(ns)
		scheduler.Enqueue(ns)
	})
	if err := replicator.Start(); err != nil {
		appLog.Errorf("[Main] Failed to start replicator: %v", err)
	}

	// Выборка
	mode, err := sampler.ParseMode(cfg.Aggregate.SamplerMode)
	if err != nil {
		appLog.Fatalf("[Main] %v", err)
	}
	smp := sampler.NewSampler(res, mode, cfg.Aggregate.MaxSampleSize, appLog)

	questionService := service.NewQuestionService(uow, taxonomyRepo, store, health, scheduler, replicator, appLog)

	// Снимки хранилища
	var snapshotter *aggregate.Snapshotter
	if cfg.Aggregate.Snapshot.Enabled {
		snapshotter = aggregate.NewSnapshotter(
			store,
			cacheRepo,
			time.Duration(cfg.Aggregate.Snapshot.TTLHours)*time.Hour,
			instanceID,
			appLog,
		)
	}

	// Хранилище пока пустое: до проверки каждой области подсчёт идёт по источнику.
	// Отметка ставится до старта сервера, чтобы первые запросы не увидели нулевые счётчики.
	engine.MarkUnbuilt()
	if !cfg.Aggregate.RepairOnStartup {
		appLog.Warnf("[Main] repair_on_startup выключен: подсчёт идёт по источнику до ремонта каждого класса")
	}

	// Построение агрегатов при запуске
	go func() {
		if cfg.Aggregate.RepairOnStartup {
			report, err := engine.Bootstrap(ctx, snapshotter)
			if err != nil {
				appLog.Errorf("[Main] Ошибка построения агрегатов: %v", err)
			} else {
				appLog.Infof("[Main] Агрегаты построены: тенантов %d, из снимка %d, полных перестроек %d",
					report.Tenants, report.Restored, report.FullRuns)
			}
		}
		if snapshotter != nil {
			snapshotter.RunPeriodic(ctx, cacheRepo, time.Duration(cfg.Aggregate.Snapshot.IntervalSec)*time.Second)
		}
	}()

	// Обработчики
	rateLimiter := middleware.NewRateLimiter(cacheRepo, appLog)
	routes := handler.Routes{
		Selection:    handler.NewSelectionHandler(res, smp, appLog),
		Questions:    handler.NewQuestionHandler(questionService, appLog),
		Admin:        handler.NewAdminHandler(engine, scheduler, store, health, snapshotter, appLog),
		SampleLimit:  rateLimiter.Limit(middleware.SampleRateLimitConfig(cfg.Server.RateLimitPerMinute)),
		OperatorAuth: middleware.RequireOperatorToken(cfg.Server.OperatorToken),
	}
	if cfg.Server.OperatorToken == "" {
		appLog.Warnf("[Main] SERVER_OPERATOR_TOKEN не задан, /api/admin доступен без авторизации")
	}

	router := gin.Default()

	// В production не доверяем прокси-заголовкам, в development доверяем localhost
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			appLog.Warnf("[Main] failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			appLog.Warnf("[Main] failed to set trusted proxies: %v", err)
		}
	}

	allowedOrigins := cfg.Server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.Register(router)

	// HTTP сервер с тайм-аутами
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		appLog.Infof("[Main] Starting server on port %s (instance %s)", cfg.Server.Port, instanceID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Errorf("[Main] Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Infof("[Main] Shutting down server...")

	// Сначала перестаём принимать запросы, затем останавливаем фоновые задачи
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Errorf("[Main] Server forced to shutdown: %v", err)
	}

	cancel()
	replicator.Stop()
	scheduler.Stop()
	if err := pubSubProvider.Close(); err != nil {
		appLog.Warnf("[Main] Error closing PubSub provider: %v", err)
	}

	// Последний снимок, чтобы следующий запуск начал с инкрементального ремонта
	if snapshotter != nil {
		if _, err := snapshotter.Save(); err != nil {
			appLog.Warnf("[Main] Не удалось сохранить снимок при остановке: %v", err)
		}
	}
	if err := redisClient.Close(); err != nil {
		appLog.Warnf("[Main] Error closing Redis client: %v", err)
	}

	appLog.Infof("[Main] Server exited properly")
}
