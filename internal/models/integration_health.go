package models

import "time"

// IntegrationHealth 集成健康状态，每个集成域一行
// 熔断时间戳持久化，进程重启后仍然生效；冷却时间只存在于内存
type IntegrationHealth struct {
	BaseModel

	IntegrationDomain string `gorm:"size:100;not null;uniqueIndex" json:"integration_domain"`

	// 熔断状态
	ConsecutiveFailures     int        `gorm:"default:0" json:"consecutive_failures"`
	CircuitBreakerOpenUntil *time.Time `json:"circuit_breaker_open_until"`

	// 统计
	TotalAttempts  int64      `gorm:"default:0" json:"total_attempts"`
	TotalSuccesses int64      `gorm:"default:0" json:"total_successes"`
	LastAttemptAt  *time.Time `json:"last_attempt_at"`
	LastSuccessAt  *time.Time `json:"last_success_at"`
}

// TableName 指定表名
func (IntegrationHealth) TableName() string {
	return "integration_healths"
}

// CircuitBreakerOpen 熔断器当前是否处于打开状态
func (h *IntegrationHealth) CircuitBreakerOpen(now time.Time) bool {
	return h.CircuitBreakerOpenUntil != nil && h.CircuitBreakerOpenUntil.After(now)
}

// HealingSuppression 实体自愈抑制记录
type HealingSuppression struct {
	BaseModel

	EntityID        string     `gorm:"size:200;not null;uniqueIndex" json:"entity_id"`
	Reason          string     `gorm:"size:500" json:"reason"`
	SuppressedUntil *time.Time `json:"suppressed_until"` // 空表示无限期抑制
}

// TableName 指定表名
func (HealingSuppression) TableName() string {
	return "healing_suppressions"
}

// Active 抑制当前是否生效
func (s *HealingSuppression) Active(now time.Time) bool {
	return s.SuppressedUntil == nil || s.SuppressedUntil.After(now)
}

// EntityActionRecord 实体最近一次观测到的服务调用
// L1修复只能重放观测过的动作，没有记录就无法重试
type EntityActionRecord struct {
	BaseModel

	EntityID   string    `gorm:"size:200;not null;uniqueIndex" json:"entity_id"`
	Domain     string    `gorm:"size:100;not null" json:"domain"`
	Service    string    `gorm:"size:100;not null" json:"service"`
	Data       JSON      `gorm:"type:jsonb" json:"data"`
	RecordedAt time.Time `gorm:"not null;index" json:"recorded_at"`
}

// TableName 指定表名
func (EntityActionRecord) TableName() string {
	return "entity_action_records"
}
