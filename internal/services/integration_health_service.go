package services

import (
	"errors"
	"time"

	"homeheal/internal/models"

	"gorm.io/gorm"
)

// IntegrationHealthService 集成健康状态管理服务
type IntegrationHealthService struct {
	db *gorm.DB
}

// NewIntegrationHealthService 创建集成健康服务
func NewIntegrationHealthService(db *gorm.DB) *IntegrationHealthService {
	return &IntegrationHealthService{db: db}
}

// List 列出所有集成的健康状态
func (s *IntegrationHealthService) List() ([]models.IntegrationHealth, error) {
	var healths []models.IntegrationHealth
	if err := s.db.Order("integration_domain ASC").Find(&healths).Error; err != nil {
		return nil, err
	}
	return healths, nil
}

// ResetBreaker 手动清除指定集成的熔断状态和失败计数
func (s *IntegrationHealthService) ResetBreaker(domain string) error {
	result := s.db.Model(&models.IntegrationHealth{}).
		Where("integration_domain = ?", domain).
		Updates(map[string]interface{}{
			"consecutive_failures":       0,
			"circuit_breaker_open_until": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("集成不存在")
	}
	return nil
}

// Suppress 抑制实体自愈，until 为空表示无限期
func (s *IntegrationHealthService) Suppress(entityID, reason string, until *time.Time) error {
	var suppression models.HealingSuppression
	err := s.db.Where("entity_id = ?", entityID).First(&suppression).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&models.HealingSuppression{
			EntityID:        entityID,
			Reason:          reason,
			SuppressedUntil: until,
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&suppression).Updates(map[string]interface{}{
		"reason":           reason,
		"suppressed_until": until,
	}).Error
}

// Unsuppress 解除实体的自愈抑制
func (s *IntegrationHealthService) Unsuppress(entityID string) error {
	result := s.db.Where("entity_id = ?", entityID).Delete(&models.HealingSuppression{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("实体未被抑制")
	}
	return nil
}
