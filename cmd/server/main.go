package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homeheal/internal/database"
	"homeheal/internal/handlers"
	"homeheal/internal/router"
	"homeheal/internal/services"
	"homeheal/pkg/config"
	"homeheal/pkg/logger"
	"homeheal/pkg/smarthome"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting HomeHeal cascade engine...")

	// 初始化数据库
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		// 关闭数据库连接
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
		// 关闭Redis连接
		if err := database.CloseRedisQueue(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	// 执行数据库迁移
	if err := database.Migrate(); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 执行种子数据初始化
	if err := seedData(); err != nil {
		appLogger.Fatalf("Failed to initialize seed data: %v", err)
	}

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	db := database.GetDB()

	// 中枢WebSocket客户端（惰性建连）
	client := smarthome.NewWSClient(&cfg.SmartHome)
	defer client.Close()

	// 三级自愈器
	entityHealer := services.NewEntityHealer(db, client, &cfg.Healing)
	deviceHealer := services.NewDeviceHealer(db, client, &cfg.Healing)
	integrationHealer := services.NewIntegrationHealer(db, client, &cfg.Healing)

	// 预案引擎
	planLoader := services.NewPlanLoader(db, cfg.Healing.BuiltinPlanDir, cfg.Healing.UserPlanDir)
	planMatcher := services.NewPlanMatcher(planLoader)
	planExecutor := services.NewPlanExecutor(db, entityHealer, deviceHealer)

	// 结果模式学习与通知升级
	patternService := services.NewPatternService(db)
	escalator := services.NewQueueEscalator(database.GetRedisQueue(), cfg.Healing.NotificationQueue)

	// 级联编排器
	orchestrator := services.NewCascadeOrchestrator(
		db, client,
		entityHealer, deviceHealer, integrationHealer,
		patternService, escalator,
		&cfg.Healing,
	).WithPlanEngine(planMatcher, planExecutor)

	// 启动预案同步调度器（先做一次初始加载）
	planSyncScheduler := services.NewPlanSyncScheduler(planLoader, cfg.Healing.PlanSyncCron)
	if err := planSyncScheduler.Start(); err != nil {
		appLogger.Errorf("Failed to start plan sync scheduler: %v", err)
		// 不影响主服务启动
	}
	defer planSyncScheduler.Stop()

	// 设置路由
	r := router.SetupRouter(&router.Handlers{
		Auth:        handlers.NewAuthHandler(services.NewAuthService(db)),
		Cascade:     handlers.NewCascadeHandler(orchestrator, services.NewCascadeExecutionService(db)),
		Plan:        handlers.NewHealingPlanHandler(services.NewHealingPlanService(db), planLoader),
		Pattern:     handlers.NewPatternHandler(patternService),
		Integration: handlers.NewIntegrationHandler(services.NewIntegrationHealthService(db)),
	})

	// 启动服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	if err := server.Close(); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}
