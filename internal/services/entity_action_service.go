package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeheal/internal/models"

	"gorm.io/gorm"
)

// EntityActionService 实体服务调用记录服务
// 监控层在观测到服务调用时上报，L1修复据此重放
type EntityActionService struct {
	db *gorm.DB
}

// NewEntityActionService 创建实体动作服务
func NewEntityActionService(db *gorm.DB) *EntityActionService {
	return &EntityActionService{db: db}
}

// RecordServiceCall 记录（或覆盖）实体最近一次服务调用
func (s *EntityActionService) RecordServiceCall(entityID, domain, service string, data map[string]interface{}) error {
	if strings.TrimSpace(entityID) == "" {
		return errors.New("entity_id 不能为空")
	}
	if domain == "" || service == "" {
		return errors.New("domain 和 service 不能为空")
	}

	var dataJSON models.JSON
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("序列化调用参数失败: %v", err)
		}
		dataJSON = raw
	}

	now := time.Now()
	var record models.EntityActionRecord
	err := s.db.Where("entity_id = ?", entityID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = models.EntityActionRecord{
			EntityID:   entityID,
			Domain:     domain,
			Service:    service,
			Data:       dataJSON,
			RecordedAt: now,
		}
		return s.db.Create(&record).Error
	}
	if err != nil {
		return err
	}

	return s.db.Model(&record).Updates(map[string]interface{}{
		"domain":      domain,
		"service":     service,
		"data":        dataJSON,
		"recorded_at": now,
	}).Error
}

// GetLastServiceCall 查询实体最近一次服务调用记录
func (s *EntityActionService) GetLastServiceCall(entityID string) (*models.EntityActionRecord, error) {
	var record models.EntityActionRecord
	if err := s.db.Where("entity_id = ?", entityID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("实体没有服务调用记录")
		}
		return nil, err
	}
	return &record, nil
}
