package models

import (
	"time"

	"gorm.io/datatypes"
)

// HealingPlan 持久化的修复预案
// 文件是定义的来源，数据库是运行时启用状态和统计的唯一真实来源
type HealingPlan struct {
	BaseModel

	Name        string `gorm:"size:200;not null;uniqueIndex" json:"name"`
	Version     int    `gorm:"not null;default:1" json:"version"`
	Description string `gorm:"size:500" json:"description"`
	Enabled     bool   `gorm:"default:true;index" json:"enabled"`
	Priority    int    `gorm:"default:0;index" json:"priority"` // 数字越大优先级越高

	// 预案内容（来自YAML文档）
	Match     JSON           `gorm:"type:jsonb;not null" json:"match"`
	Steps     JSON           `gorm:"type:jsonb;not null" json:"steps"`
	OnFailure JSON           `gorm:"type:jsonb" json:"on_failure"`
	Tags      datatypes.JSON `gorm:"type:jsonb" json:"tags"`

	SourceFile string `gorm:"size:500" json:"source_file"` // 定义文件路径，内置预案为相对路径

	// 生命周期统计（同步时保留，不被文件覆盖）
	ExecutionCount int64      `gorm:"default:0" json:"execution_count"`
	SuccessCount   int64      `gorm:"default:0" json:"success_count"`
	FailureCount   int64      `gorm:"default:0" json:"failure_count"`
	LastExecutedAt *time.Time `json:"last_executed_at"`
}

// TableName 指定表名
func (HealingPlan) TableName() string {
	return "healing_plans"
}

// PlanExecution 预案执行审计记录，每次 ExecutePlan 一行
type PlanExecution struct {
	BaseModel

	PlanID             uint   `gorm:"not null;index" json:"plan_id"`
	PlanName           string `gorm:"size:200;not null" json:"plan_name"`
	CascadeExecutionID *uint  `gorm:"index" json:"cascade_execution_id"`

	InstanceID   string `gorm:"size:100;index" json:"instance_id"`
	AutomationID string `gorm:"size:200;index" json:"automation_id"`

	// 执行明细
	StepHistory    JSON `gorm:"type:jsonb" json:"step_history"` // []PlanStepResult
	StepsTotal     int  `gorm:"default:0" json:"steps_total"`
	StepsSucceeded int  `gorm:"default:0" json:"steps_succeeded"`
	StepsFailed    int  `gorm:"default:0" json:"steps_failed"`

	Success      bool   `gorm:"default:false;index" json:"success"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`
	DurationMs   int64  `json:"duration_ms"`
}

// TableName 指定表名
func (PlanExecution) TableName() string {
	return "plan_executions"
}

// ========== 预案文档结构（YAML边界格式，全字段显式类型） ==========

// PlanDocument 预案文档
type PlanDocument struct {
	Name        string          `yaml:"name" json:"name" validate:"required,max=200"`
	Version     int             `yaml:"version" json:"version" validate:"required,min=1"`
	Description string          `yaml:"description" json:"description" validate:"max=500"`
	Enabled     bool            `yaml:"enabled" json:"enabled"`
	Priority    int             `yaml:"priority" json:"priority" validate:"min=0"`
	Match       MatchCriteria   `yaml:"match" json:"match"`
	Steps       []HealingStep   `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	OnFailure   OnFailureConfig `yaml:"on_failure" json:"on_failure"`
	Tags        []string        `yaml:"tags" json:"tags"`
}

// MatchCriteria 预案匹配条件，留空的条件视为"不限"
// 校验要求五个条件至少一个非空
type MatchCriteria struct {
	EntityPatterns      []string    `yaml:"entity_patterns" json:"entity_patterns"`           // shell glob，区分大小写
	IntegrationDomains  []string    `yaml:"integration_domains" json:"integration_domains"`
	FailureTypes        []string    `yaml:"failure_types" json:"failure_types"`
	DeviceManufacturers []string    `yaml:"device_manufacturers" json:"device_manufacturers"`
	TimeWindow          *TimeWindow `yaml:"time_window" json:"time_window,omitempty"`
}

// Empty 是否所有条件都未指定
func (m *MatchCriteria) Empty() bool {
	return len(m.EntityPatterns) == 0 &&
		len(m.IntegrationDomains) == 0 &&
		len(m.FailureTypes) == 0 &&
		len(m.DeviceManufacturers) == 0 &&
		m.TimeWindow == nil
}

// TimeWindow 小时级时间窗口，命中条件为本地小时落在 [StartHour, EndHour)
type TimeWindow struct {
	StartHour int `yaml:"start_hour" json:"start_hour" validate:"min=0,max=23"`
	EndHour   int `yaml:"end_hour" json:"end_hour" validate:"min=0,max=24"`
}

// Contains 判断小时是否落在窗口内，StartHour > EndHour 时视为跨午夜窗口
func (w *TimeWindow) Contains(hour int) bool {
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// HealingStep 预案步骤
type HealingStep struct {
	Name           string                 `yaml:"name" json:"name" validate:"required,max=200"`
	Level          HealingLevel           `yaml:"level" json:"level" validate:"required,oneof=entity device integration"`
	Action         string                 `yaml:"action" json:"action" validate:"required,max=200"`
	Params         map[string]interface{} `yaml:"params" json:"params"`
	TimeoutSeconds float64                `yaml:"timeout_seconds" json:"timeout_seconds" validate:"min=0,max=600"`
}

// DefaultStepTimeoutSeconds 单步默认超时（秒）
const DefaultStepTimeoutSeconds = 30

// Timeout 步骤超时，未指定时取默认值
func (s *HealingStep) Timeout() time.Duration {
	seconds := s.TimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultStepTimeoutSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

// OnFailureConfig 预案整体失败后的处置配置
type OnFailureConfig struct {
	Escalate        bool `yaml:"escalate" json:"escalate"`
	CooldownSeconds int  `yaml:"cooldown_seconds" json:"cooldown_seconds" validate:"min=0"`
}
