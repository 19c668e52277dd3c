package models

import "time"

// 路由策略常量
const (
	RoutingStrategyPlan        = "plan"        // 用户预案路由
	RoutingStrategyIntelligent = "intelligent" // 学习模式路由
	RoutingStrategySequential  = "sequential"  // 固定三级顺序级联
)

// EntityHealingResult 实体级（L1）修复结果，每次调用一份，不落库
type EntityHealingResult struct {
	Success          bool          `json:"success"`
	EntityID         string        `json:"entity_id"`
	ActionsAttempted []string      `json:"actions_attempted"`
	FinalAction      *string       `json:"final_action"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// DeviceHealingResult 设备级（L2）修复结果
type DeviceHealingResult struct {
	Success          bool          `json:"success"`
	DevicesAttempted []string      `json:"devices_attempted"`
	ActionsAttempted []string      `json:"actions_attempted"`
	FinalAction      *string       `json:"final_action"`
	HealedEntities   []string      `json:"healed_entities"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// CascadeResult 一次完整级联的最终结果
type CascadeResult struct {
	Success            bool            `json:"success"`
	RoutingStrategy    string          `json:"routing_strategy"` // plan/intelligent/sequential
	LevelsAttempted    []HealingLevel  `json:"levels_attempted"`
	SuccessfulLevel    *HealingLevel   `json:"successful_level"`
	SuccessfulStrategy *string         `json:"successful_strategy"`
	EntityResults      map[string]bool `json:"entity_results"`
	TotalDuration      time.Duration   `json:"total_duration"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	MatchedPatternID   *uint           `json:"matched_pattern_id,omitempty"`
}

// PlanStepResult 预案单步执行结果
type PlanStepResult struct {
	StepName      string          `json:"step_name"`
	Level         HealingLevel    `json:"level"`
	Action        string          `json:"action"`
	Success       bool            `json:"success"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	EntityResults map[string]bool `json:"entity_results,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
}

// PlanExecutionResult 预案整体执行结果
type PlanExecutionResult struct {
	PlanName       string           `json:"plan_name"`
	Success        bool             `json:"success"`
	Steps          []PlanStepResult `json:"steps"`
	SuccessfulStep *string          `json:"successful_step"`
	EntityResults  map[string]bool  `json:"entity_results"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	Duration       time.Duration    `json:"duration"`
}
