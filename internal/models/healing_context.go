package models

import "time"

// 触发类型常量
const (
	TriggerTypeFailure        = "trigger_failure" // 自动化触发失败
	TriggerTypeOutcomeFailure = "outcome_failure" // 自动化执行后结果校验失败
)

// DefaultCascadeTimeoutSeconds 级联默认总超时（秒）
const DefaultCascadeTimeoutSeconds = 120

// HealingLevel 修复层级，从低到高依次为 entity < device < integration
type HealingLevel string

const (
	LevelEntity      HealingLevel = "entity"
	LevelDevice      HealingLevel = "device"
	LevelIntegration HealingLevel = "integration"
)

// CascadeLevels 顺序级联的层级顺序
var CascadeLevels = []HealingLevel{LevelEntity, LevelDevice, LevelIntegration}

// Rank 层级序号，用于比较入侵程度
func (l HealingLevel) Rank() int {
	switch l {
	case LevelEntity:
		return 0
	case LevelDevice:
		return 1
	case LevelIntegration:
		return 2
	}
	return -1
}

// Valid 是否为已知层级
func (l HealingLevel) Valid() bool {
	return l.Rank() >= 0
}

// HealingContext 一次故障事件的修复上下文，由调用方构造，创建后不再修改
type HealingContext struct {
	InstanceID     string   `json:"instance_id" binding:"required"`
	AutomationID   string   `json:"automation_id" binding:"required"`
	ExecutionID    *string  `json:"execution_id"`
	TriggerType    string   `json:"trigger_type" binding:"required,oneof=trigger_failure outcome_failure"`
	FailedEntities []string `json:"failed_entities"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
}

// NewHealingContext 创建修复上下文，超时为0时使用默认值
func NewHealingContext(instanceID, automationID, triggerType string, failedEntities []string) *HealingContext {
	return &HealingContext{
		InstanceID:     instanceID,
		AutomationID:   automationID,
		TriggerType:    triggerType,
		FailedEntities: failedEntities,
		TimeoutSeconds: DefaultCascadeTimeoutSeconds,
	}
}

// Timeout 级联总超时
func (c *HealingContext) Timeout() time.Duration {
	seconds := c.TimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultCascadeTimeoutSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

// RepresentativeEntity 多实体故障的代表实体：始终取失败列表的第一个
func (c *HealingContext) RepresentativeEntity() string {
	if len(c.FailedEntities) == 0 {
		return ""
	}
	return c.FailedEntities[0]
}

// HealthIssue 集成级修复的输入：一条已分类的健康问题
type HealthIssue struct {
	EntityID          string `json:"entity_id"`
	IntegrationDomain string `json:"integration_domain"`
	ConfigEntryID     string `json:"config_entry_id"`
	IssueType         string `json:"issue_type"`
	Message           string `json:"message"`
}
