package main

import (
	"fmt"

	"homeheal/internal/database"
	"homeheal/internal/services"
	"homeheal/pkg/logger"
)

// seedData 初始化种子数据
func seedData() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting seed data initialization...")

	authService := services.NewAuthService(database.GetDB())

	// 创建默认管理员用户
	if err := authService.EnsureUser("admin", "Admin@123", true); err != nil {
		return fmt.Errorf("创建默认管理员失败: %v", err)
	}

	appLogger.Info("Seed data initialization completed successfully")
	return nil
}
