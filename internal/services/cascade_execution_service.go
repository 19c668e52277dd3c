package services

import (
	"errors"

	"homeheal/internal/models"

	"gorm.io/gorm"
)

// CascadeExecutionService 级联执行审计查询服务
type CascadeExecutionService struct {
	db *gorm.DB
}

// NewCascadeExecutionService 创建级联执行查询服务
func NewCascadeExecutionService(db *gorm.DB) *CascadeExecutionService {
	return &CascadeExecutionService{db: db}
}

// List 分页查询级联执行记录，按开始时间倒序
func (s *CascadeExecutionService) List(instanceID, automationID string, success *bool, page, pageSize int) ([]models.HealingCascadeExecution, int64, error) {
	query := s.db.Model(&models.HealingCascadeExecution{})
	if instanceID != "" {
		query = query.Where("instance_id = ?", instanceID)
	}
	if automationID != "" {
		query = query.Where("automation_id = ?", automationID)
	}
	if success != nil {
		query = query.Where("success = ?", *success)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var executions []models.HealingCascadeExecution
	if err := query.Order("started_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&executions).Error; err != nil {
		return nil, 0, err
	}
	return executions, total, nil
}

// GetByExecutionID 按执行ID查询单条级联记录
func (s *CascadeExecutionService) GetByExecutionID(executionID string) (*models.HealingCascadeExecution, error) {
	var execution models.HealingCascadeExecution
	if err := s.db.Where("execution_id = ?", executionID).First(&execution).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("级联执行记录不存在")
		}
		return nil, err
	}
	return &execution, nil
}

// GetActionLogs 查询一次级联的全部修复动作日志
func (s *CascadeExecutionService) GetActionLogs(cascadeExecutionID uint) ([]models.HealingActionLog, error) {
	var logs []models.HealingActionLog
	if err := s.db.Where("cascade_execution_id = ?", cascadeExecutionID).
		Order("attempted_at ASC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
