package models

import "time"

// AutomationOutcomePattern 学习到的修复模式
// 以 (instance_id, automation_id, entity_id) 为唯一键，多实体故障取失败列表的第一个实体作为代表
type AutomationOutcomePattern struct {
	BaseModel

	InstanceID   string `gorm:"size:100;not null;uniqueIndex:idx_pattern_key" json:"instance_id"`
	AutomationID string `gorm:"size:200;not null;uniqueIndex:idx_pattern_key" json:"automation_id"`
	EntityID     string `gorm:"size:200;not null;uniqueIndex:idx_pattern_key" json:"entity_id"`

	// 学习结果
	SuccessfulHealingLevel    *string `gorm:"size:20" json:"successful_healing_level"` // entity/device/integration
	SuccessfulHealingStrategy *string `gorm:"size:100" json:"successful_healing_strategy"`
	HealingSuccessCount       int64   `gorm:"default:0;index" json:"healing_success_count"`

	FirstObservedAt time.Time `gorm:"not null" json:"first_observed_at"`
	LastObservedAt  time.Time `gorm:"not null" json:"last_observed_at"`
}

// TableName 指定表名
func (AutomationOutcomePattern) TableName() string {
	return "automation_outcome_patterns"
}
