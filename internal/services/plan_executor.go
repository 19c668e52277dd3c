package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"homeheal/internal/models"
	"homeheal/pkg/logger"

	"gorm.io/gorm"
)

// PlanExecutor 预案执行器
// 严格按声明顺序执行步骤，每步独立超时；第一个成功的步骤结束执行，
// 失败或异常的步骤记录后继续下一步
type PlanExecutor struct {
	db           *gorm.DB
	entityHealer EntityLevelHealer
	deviceHealer DeviceLevelHealer
}

// NewPlanExecutor 创建预案执行器
func NewPlanExecutor(db *gorm.DB, entityHealer EntityLevelHealer, deviceHealer DeviceLevelHealer) *PlanExecutor {
	return &PlanExecutor{
		db:           db,
		entityHealer: entityHealer,
		deviceHealer: deviceHealer,
	}
}

// ExecutePlan 执行预案
func (e *PlanExecutor) ExecutePlan(ctx context.Context, plan *RuntimePlan, hctx *models.HealingContext, cascadeExecutionID *uint) *models.PlanExecutionResult {
	start := time.Now()
	result := &models.PlanExecutionResult{
		PlanName:      plan.Doc.Name,
		Steps:         []models.PlanStepResult{},
		EntityResults: map[string]bool{},
	}

	for i := range plan.Doc.Steps {
		step := &plan.Doc.Steps[i]
		stepResult := e.executeStep(ctx, step, hctx, cascadeExecutionID)
		result.Steps = append(result.Steps, *stepResult)

		for entityID, ok := range stepResult.EntityResults {
			if ok || !result.EntityResults[entityID] {
				result.EntityResults[entityID] = ok
			}
		}

		if stepResult.Success {
			// 第一个成功的步骤意味着预案实体已修复，停止执行
			result.Success = true
			name := step.Name
			result.SuccessfulStep = &name
			break
		}
	}

	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("预案 %s 所有步骤均失败", plan.Doc.Name)
	}
	result.Duration = time.Since(start)

	e.persistExecution(plan, hctx, cascadeExecutionID, result)
	return result
}

// executeStep 执行单个步骤，超时和异常都转换为失败的步骤结果
// goroutine 持有自己私有的步骤结果并通过channel交还；
// 超时路径构造全新的失败结果，被放弃的goroutine不会再触碰返回值
func (e *PlanExecutor) executeStep(ctx context.Context, step *models.HealingStep, hctx *models.HealingContext, cascadeExecutionID *uint) *models.PlanStepResult {
	stepStart := time.Now()

	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout())
	defer cancel()

	done := make(chan *models.PlanStepResult, 1)
	go func() {
		stepResult := &models.PlanStepResult{
			StepName:      step.Name,
			Level:         step.Level,
			Action:        step.Action,
			EntityResults: map[string]bool{},
		}
		defer func() {
			if r := recover(); r != nil {
				stepResult.Success = false
				stepResult.ErrorMessage = fmt.Sprintf("步骤异常: %v", r)
			}
			done <- stepResult
		}()
		e.runStep(stepCtx, step, hctx, cascadeExecutionID, stepResult)
	}()

	var result *models.PlanStepResult
	select {
	case result = <-done:
	case <-stepCtx.Done():
		// 已发出的调用不会被撤回，这里只是不再等待
		result = &models.PlanStepResult{
			StepName:      step.Name,
			Level:         step.Level,
			Action:        step.Action,
			EntityResults: map[string]bool{},
			ErrorMessage:  fmt.Sprintf("步骤 %s timed out", step.Name),
		}
	}

	result.DurationMs = time.Since(stepStart).Milliseconds()
	return result
}

// runStep 按步骤层级分派到对应修复器
// integration 层级与 device 层级一样走设备修复器的重载路径，
// 不经过集成修复器的熔断/冷却保护（与既有行为保持一致）
func (e *PlanExecutor) runStep(ctx context.Context, step *models.HealingStep, hctx *models.HealingContext, cascadeExecutionID *uint, stepResult *models.PlanStepResult) {
	switch step.Level {
	case models.LevelEntity:
		// 逐实体修复，任一实体成功即步骤成功
		for _, entityID := range hctx.FailedEntities {
			if ctx.Err() != nil {
				return
			}
			res := e.entityHealer.Heal(ctx, entityID, "plan", hctx.AutomationID, cascadeExecutionID)
			stepResult.EntityResults[entityID] = res.Success
			if res.Success {
				stepResult.Success = true
			} else if stepResult.ErrorMessage == "" {
				stepResult.ErrorMessage = res.ErrorMessage
			}
		}
	case models.LevelDevice, models.LevelIntegration:
		res := e.deviceHealer.Heal(ctx, hctx.FailedEntities, "plan", hctx.AutomationID, cascadeExecutionID)
		stepResult.Success = res.Success
		if res.ErrorMessage != "" {
			stepResult.ErrorMessage = res.ErrorMessage
		}
		for _, entityID := range hctx.FailedEntities {
			stepResult.EntityResults[entityID] = false
		}
		for _, entityID := range res.HealedEntities {
			stepResult.EntityResults[entityID] = true
		}
	default:
		stepResult.ErrorMessage = fmt.Sprintf("未知的步骤层级: %s", step.Level)
	}
}

// persistExecution 写入预案执行审计并更新预案生命周期统计
func (e *PlanExecutor) persistExecution(plan *RuntimePlan, hctx *models.HealingContext, cascadeExecutionID *uint, result *models.PlanExecutionResult) {
	log := logger.GetLogger()

	succeeded, failedSteps := 0, 0
	for _, step := range result.Steps {
		if step.Success {
			succeeded++
		} else {
			failedSteps++
		}
	}

	historyJSON, err := json.Marshal(result.Steps)
	if err != nil {
		log.WithError(err).Error("序列化预案步骤历史失败")
		historyJSON = nil
	}

	execution := &models.PlanExecution{
		PlanID:             plan.ID,
		PlanName:           plan.Doc.Name,
		CascadeExecutionID: cascadeExecutionID,
		InstanceID:         hctx.InstanceID,
		AutomationID:       hctx.AutomationID,
		StepHistory:        historyJSON,
		StepsTotal:         len(result.Steps),
		StepsSucceeded:     succeeded,
		StepsFailed:        failedSteps,
		Success:            result.Success,
		ErrorMessage:       result.ErrorMessage,
		DurationMs:         result.Duration.Milliseconds(),
	}
	if err := e.db.Create(execution).Error; err != nil {
		log.WithError(err).Error("记录预案执行失败")
	}

	now := time.Now()
	updates := map[string]interface{}{
		"execution_count":  gorm.Expr("execution_count + 1"),
		"last_executed_at": now,
	}
	if result.Success {
		updates["success_count"] = gorm.Expr("success_count + 1")
	} else {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
	}
	if err := e.db.Model(&models.HealingPlan{}).Where("id = ?", plan.ID).Updates(updates).Error; err != nil {
		log.WithError(err).Error("更新预案统计失败")
	}
}
