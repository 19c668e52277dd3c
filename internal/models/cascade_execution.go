package models

import (
	"time"
)

// HealingCascadeExecution 级联执行审计记录
// 每次 ExecuteCascade 调用创建一行：路由开始前创建，各层级尝试时更新，
// 所有退出路径（含超时和异常）都会补全最终状态
type HealingCascadeExecution struct {
	BaseModel

	// 执行标识
	ExecutionID string `gorm:"size:36;not null;uniqueIndex" json:"execution_id"`

	// 故障上下文
	InstanceID     string `gorm:"size:100;not null;index" json:"instance_id"`
	AutomationID   string `gorm:"size:200;not null;index" json:"automation_id"`
	TriggerType    string `gorm:"size:20;not null" json:"trigger_type"` // trigger_failure/outcome_failure
	FailedEntities JSON   `gorm:"type:jsonb" json:"failed_entities"`

	// 路由信息
	RoutingStrategy  string  `gorm:"size:20;not null;default:sequential" json:"routing_strategy"` // plan/intelligent/sequential
	MatchedPlanID    *uint   `gorm:"index" json:"matched_plan_id"`
	MatchedPatternID *uint   `gorm:"index" json:"matched_pattern_id"`

	// 各层级尝试状态
	EntityLevelAttempted      bool `gorm:"default:false" json:"entity_level_attempted"`
	EntityLevelSuccess        bool `gorm:"default:false" json:"entity_level_success"`
	DeviceLevelAttempted      bool `gorm:"default:false" json:"device_level_attempted"`
	DeviceLevelSuccess        bool `gorm:"default:false" json:"device_level_success"`
	IntegrationLevelAttempted bool `gorm:"default:false" json:"integration_level_attempted"`
	IntegrationLevelSuccess   bool `gorm:"default:false" json:"integration_level_success"`

	// 最终结果
	Success            bool       `gorm:"default:false;index" json:"success"`
	SuccessfulLevel    *string    `gorm:"size:20" json:"successful_level"`
	SuccessfulStrategy *string    `gorm:"size:100" json:"successful_strategy"`
	EntityResults      JSON       `gorm:"type:jsonb" json:"entity_results"`
	ErrorMessage       string     `gorm:"type:text" json:"error_message"`
	StartedAt          time.Time  `gorm:"not null;index" json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	DurationMs         int64      `json:"duration_ms"`
}

// TableName 指定表名
func (HealingCascadeExecution) TableName() string {
	return "healing_cascade_executions"
}

// HealingActionLog 单次修复动作日志，每个层级的每次尝试一行
type HealingActionLog struct {
	ID                 uint      `gorm:"primarykey" json:"id"`
	CascadeExecutionID *uint     `gorm:"index" json:"cascade_execution_id"`
	Level              string    `gorm:"size:20;not null;index" json:"level"` // entity/device/integration
	EntityID           string    `gorm:"size:200;index" json:"entity_id"`
	DeviceID           string    `gorm:"size:100" json:"device_id"`
	IntegrationDomain  string    `gorm:"size:100;index" json:"integration_domain"`
	Strategy           string    `gorm:"size:100;not null" json:"strategy"` // retry_service_call/reconnect/...
	AttemptNumber      int       `gorm:"default:1" json:"attempt_number"`
	Success            bool      `gorm:"default:false" json:"success"`
	ErrorMessage       string    `gorm:"type:text" json:"error_message"`
	DurationMs         int64     `json:"duration_ms"`
	TriggeredBy        string    `gorm:"size:50" json:"triggered_by"`
	AttemptedAt        time.Time `gorm:"not null;index" json:"attempted_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// TableName 指定表名
func (HealingActionLog) TableName() string {
	return "healing_action_logs"
}
