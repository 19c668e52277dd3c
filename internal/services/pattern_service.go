package services

import (
	"errors"
	"time"

	"homeheal/internal/models"

	"gorm.io/gorm"
)

// PatternService 修复模式学习服务
// 模式计数在并发级联下是最终一致的信号，不做跨行隔离
type PatternService struct {
	db *gorm.DB
}

// NewPatternService 创建模式服务
func NewPatternService(db *gorm.DB) *PatternService {
	return &PatternService{db: db}
}

// FindBestPattern 查找 (instance, automation) 下成功次数达到阈值且层级已知的最优模式
// 按成功次数降序取第一条，没有命中返回 nil
func (s *PatternService) FindBestPattern(instanceID, automationID string, threshold int) (*models.AutomationOutcomePattern, error) {
	var pattern models.AutomationOutcomePattern
	err := s.db.Where("instance_id = ? AND automation_id = ?", instanceID, automationID).
		Where("healing_success_count >= ?", threshold).
		Where("successful_healing_level IS NOT NULL").
		Order("healing_success_count DESC").
		First(&pattern).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pattern, nil
}

// RecordSuccess 记录一次成功修复：查找或创建模式行，更新层级/策略并把成功计数加一
// 多实体故障以失败列表的第一个实体作为代表键
func (s *PatternService) RecordSuccess(instanceID, automationID, entityID string, level models.HealingLevel, strategy string) (*models.AutomationOutcomePattern, error) {
	now := time.Now()
	levelStr := string(level)

	var pattern models.AutomationOutcomePattern
	err := s.db.Where("instance_id = ? AND automation_id = ? AND entity_id = ?",
		instanceID, automationID, entityID).First(&pattern).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		pattern = models.AutomationOutcomePattern{
			InstanceID:                instanceID,
			AutomationID:              automationID,
			EntityID:                  entityID,
			SuccessfulHealingLevel:    &levelStr,
			SuccessfulHealingStrategy: &strategy,
			HealingSuccessCount:       1,
			FirstObservedAt:           now,
			LastObservedAt:            now,
		}
		if err := s.db.Create(&pattern).Error; err != nil {
			return nil, err
		}
		return &pattern, nil
	}
	if err != nil {
		return nil, err
	}

	pattern.SuccessfulHealingLevel = &levelStr
	pattern.SuccessfulHealingStrategy = &strategy
	pattern.HealingSuccessCount++
	pattern.LastObservedAt = now
	if err := s.db.Model(&pattern).Updates(map[string]interface{}{
		"successful_healing_level":    levelStr,
		"successful_healing_strategy": strategy,
		"healing_success_count":       pattern.HealingSuccessCount,
		"last_observed_at":            now,
	}).Error; err != nil {
		return nil, err
	}
	return &pattern, nil
}

// IncrementSuccess 智能路由命中后把既有模式的成功计数加一
func (s *PatternService) IncrementSuccess(patternID uint) error {
	return s.db.Model(&models.AutomationOutcomePattern{}).
		Where("id = ?", patternID).
		Updates(map[string]interface{}{
			"healing_success_count": gorm.Expr("healing_success_count + 1"),
			"last_observed_at":      time.Now(),
		}).Error
}

// List 分页列出学习到的模式
func (s *PatternService) List(instanceID string, page, pageSize int) ([]models.AutomationOutcomePattern, int64, error) {
	query := s.db.Model(&models.AutomationOutcomePattern{})
	if instanceID != "" {
		query = query.Where("instance_id = ?", instanceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var patterns []models.AutomationOutcomePattern
	if err := query.Order("healing_success_count DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&patterns).Error; err != nil {
		return nil, 0, err
	}
	return patterns, total, nil
}

// Delete 删除（遗忘）一条学习到的模式
func (s *PatternService) Delete(id uint) error {
	result := s.db.Delete(&models.AutomationOutcomePattern{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("模式不存在")
	}
	return nil
}
