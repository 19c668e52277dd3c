package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"homeheal/internal/models"
	"homeheal/pkg/config"
	"homeheal/pkg/logger"
	"homeheal/pkg/smarthome"

	"gorm.io/gorm"
)

// EntityLevelHealer L1修复器接口
type EntityLevelHealer interface {
	Heal(ctx context.Context, entityID, triggeredBy, automationID string, cascadeExecutionID *uint) *models.EntityHealingResult
}

// EntityHealer 实体级修复器（L1）
// 重放实体最近一次观测到的服务调用，重试耗尽后尝试领域相关的替代参数
type EntityHealer struct {
	db     *gorm.DB
	client smarthome.Client

	maxRetries     int
	baseDelay      time.Duration
	attemptTimeout time.Duration
}

// NewEntityHealer 创建实体级修复器
func NewEntityHealer(db *gorm.DB, client smarthome.Client, cfg *config.HealingConfig) *EntityHealer {
	return &EntityHealer{
		db:             db,
		client:         client,
		maxRetries:     cfg.MaxRetries,
		baseDelay:      cfg.RetryBaseDelay,
		attemptTimeout: cfg.AttemptTimeout,
	}
}

// 动作标签常量
const (
	ActionRetryServiceCall = "retry_service_call"
)

// alternativeAttempt 替代参数尝试
// preService 非空时先执行一次前置调用（失败忽略），再执行主调用
type alternativeAttempt struct {
	label      string
	service    string
	data       map[string]interface{}
	preService string
	preData    map[string]interface{}
}

// Heal 修复单个实体，失败以结果表达，永不返回异常
func (h *EntityHealer) Heal(ctx context.Context, entityID, triggeredBy, automationID string, cascadeExecutionID *uint) *models.EntityHealingResult {
	start := time.Now()
	result := &models.EntityHealingResult{
		EntityID:         entityID,
		ActionsAttempted: []string{},
	}

	if strings.TrimSpace(entityID) == "" {
		result.ErrorMessage = "invalid entity_id"
		result.Duration = time.Since(start)
		return result
	}

	// 查找实体最近一次服务调用记录
	var record models.EntityActionRecord
	if err := h.db.Where("entity_id = ?", entityID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.ErrorMessage = "no previous service call found"
		} else {
			result.ErrorMessage = fmt.Sprintf("查询服务调用记录失败: %v", err)
		}
		result.Duration = time.Since(start)
		return result
	}

	var callData map[string]interface{}
	if len(record.Data) > 0 {
		if err := json.Unmarshal(record.Data, &callData); err != nil {
			logger.GetLogger().Warnf("实体 %s 的服务调用参数无法解析: %v", entityID, err)
			callData = nil
		}
	}
	if callData == nil {
		callData = map[string]interface{}{}
	}
	callData["entity_id"] = entityID

	// 阶段一：原样重试，指数退避，首次不延迟
	attemptNo := 0
	for attempt := 0; attempt < h.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(h.baseDelay) * math.Pow(2, float64(attempt)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				result.ErrorMessage = "timed out"
				result.Duration = time.Since(start)
				return result
			}
		}

		attemptNo++
		if h.tryCall(ctx, entityID, automationID, triggeredBy, cascadeExecutionID,
			ActionRetryServiceCall, attemptNo, record.Domain, record.Service, callData, result) {
			result.Success = true
			final := ActionRetryServiceCall
			result.FinalAction = &final
			result.Duration = time.Since(start)
			return result
		}
		if ctx.Err() != nil {
			result.ErrorMessage = "timed out"
			result.Duration = time.Since(start)
			return result
		}
	}

	// 阶段二：替代参数，领域相关变体；无变体的领域直接跳过
	for _, alt := range h.alternatives(record.Domain, record.Service, entityID, callData) {
		if ctx.Err() != nil {
			result.ErrorMessage = "timed out"
			result.Duration = time.Since(start)
			return result
		}
		attemptNo++
		if alt.preService != "" {
			// 前置调用失败不阻断主调用
			if err := h.client.CallService(ctx, record.Domain, alt.preService, alt.preData, h.attemptTimeout); err != nil {
				logger.GetLogger().Debugf("L1前置调用失败 entity=%s service=%s: %v", entityID, alt.preService, err)
			}
		}
		if h.tryCall(ctx, entityID, automationID, triggeredBy, cascadeExecutionID,
			alt.label, attemptNo, record.Domain, alt.service, alt.data, result) {
			result.Success = true
			final := alt.label
			result.FinalAction = &final
			result.Duration = time.Since(start)
			return result
		}
	}

	if result.ErrorMessage == "" {
		result.ErrorMessage = fmt.Sprintf("实体 %s 所有修复动作均失败", entityID)
	}
	result.Duration = time.Since(start)
	return result
}

// tryCall 执行单次时间受限的服务调用并落库记录
func (h *EntityHealer) tryCall(ctx context.Context, entityID, automationID, triggeredBy string, cascadeExecutionID *uint,
	label string, attemptNo int, domain, service string, data map[string]interface{}, result *models.EntityHealingResult) bool {

	attemptStart := time.Now()
	result.ActionsAttempted = append(result.ActionsAttempted, label)

	err := h.client.CallService(ctx, domain, service, data, h.attemptTimeout)

	actionLog := &models.HealingActionLog{
		CascadeExecutionID: cascadeExecutionID,
		Level:              string(models.LevelEntity),
		EntityID:           entityID,
		Strategy:           label,
		AttemptNumber:      attemptNo,
		Success:            err == nil,
		DurationMs:         time.Since(attemptStart).Milliseconds(),
		TriggeredBy:        triggeredBy,
		AttemptedAt:        attemptStart,
	}
	if err != nil {
		actionLog.ErrorMessage = err.Error()
		result.ErrorMessage = err.Error()
	}
	if dbErr := h.db.Create(actionLog).Error; dbErr != nil {
		logger.GetLogger().WithError(dbErr).Error("记录修复动作日志失败")
	}

	if err != nil {
		logger.GetLogger().Debugf("L1修复尝试失败 entity=%s action=%s attempt=%d: %v", entityID, label, attemptNo, err)
		return false
	}
	// 成功后清掉早先失败尝试留下的错误文本
	result.ErrorMessage = ""
	return true
}

// alternatives 按领域生成替代参数变体
func (h *EntityHealer) alternatives(domain, service, entityID string, original map[string]interface{}) []alternativeAttempt {
	switch domain {
	case "light":
		if service == "turn_on" || service == "toggle" {
			var attempts []alternativeAttempt
			for _, pct := range []int{50, 75, 100} {
				attempts = append(attempts, alternativeAttempt{
					label:   fmt.Sprintf("alternative_brightness_%d", pct),
					service: "turn_on",
					data: map[string]interface{}{
						"entity_id":      entityID,
						"brightness_pct": pct,
					},
				})
			}
			return attempts
		}
	case "climate":
		if service == "set_temperature" {
			base, ok := original["temperature"].(float64)
			if !ok {
				return nil
			}
			var attempts []alternativeAttempt
			for _, delta := range []float64{-1, 1} {
				attempts = append(attempts, alternativeAttempt{
					label:   fmt.Sprintf("alternative_temperature_%+.0f", delta),
					service: "set_temperature",
					data: map[string]interface{}{
						"entity_id":   entityID,
						"temperature": base + delta,
					},
				})
			}
			return attempts
		}
	case "cover":
		// 先停再重放原动作，然后尝试标准位置
		attempts := []alternativeAttempt{
			{
				label:      "alternative_stop_then_retry",
				service:    service,
				data:       original,
				preService: "stop_cover",
				preData:    map[string]interface{}{"entity_id": entityID},
			},
		}
		for _, pos := range []int{0, 50, 100} {
			attempts = append(attempts, alternativeAttempt{
				label:   fmt.Sprintf("alternative_position_%d", pos),
				service: "set_cover_position",
				data: map[string]interface{}{
					"entity_id": entityID,
					"position":  pos,
				},
			})
		}
		return attempts
	}
	// switch/input_boolean 等领域没有有意义的变体
	return nil
}
