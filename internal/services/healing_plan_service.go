package services

import (
	"errors"

	"homeheal/internal/models"

	"gorm.io/gorm"
)

// HealingPlanService 预案管理服务
// 预案定义来自文件，启用状态的开关只改数据库
type HealingPlanService struct {
	db *gorm.DB
}

// NewHealingPlanService 创建预案管理服务
func NewHealingPlanService(db *gorm.DB) *HealingPlanService {
	return &HealingPlanService{db: db}
}

// List 分页列出预案，按优先级降序
func (s *HealingPlanService) List(enabledOnly bool, page, pageSize int) ([]models.HealingPlan, int64, error) {
	query := s.db.Model(&models.HealingPlan{})
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var plans []models.HealingPlan
	if err := query.Order("priority DESC, name ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&plans).Error; err != nil {
		return nil, 0, err
	}
	return plans, total, nil
}

// Get 按ID查询预案
func (s *HealingPlanService) Get(id uint) (*models.HealingPlan, error) {
	var plan models.HealingPlan
	if err := s.db.First(&plan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("预案不存在")
		}
		return nil, err
	}
	return &plan, nil
}

// SetEnabled 启用或禁用预案
func (s *HealingPlanService) SetEnabled(id uint, enabled bool) (*models.HealingPlan, error) {
	plan, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(plan).Update("enabled", enabled).Error; err != nil {
		return nil, err
	}
	plan.Enabled = enabled
	return plan, nil
}
